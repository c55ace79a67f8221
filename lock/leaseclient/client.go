// Package leaseclient implements the cluster lease lock over the lock
// service's HTTP JSON API. Each acquisition takes a fresh lease id; the
// server reports the last writer identity so callers can detect foreign
// mutations.
package leaseclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inboxd/calengine/lock"
)

// Options controls acquisition retry behavior.
type Options struct {
	MaxRetries int           // bounded retry; 0 => default
	MinRetry   time.Duration // default 25ms
	MaxRetry   time.Duration // default 1s
	JitterFrac float64       // default 0.2 (20%)
}

// Client talks to the lease lock service. It satisfies lock.ClusterLocker.
type Client struct {
	baseURL string
	owner   string
	opt     Options
	http    *http.Client
	rng     *rand.Rand

	mu     sync.Mutex
	leases map[leaseKey]string // outstanding lease ids
}

var _ lock.ClusterLocker = (*Client)(nil)

type leaseKey struct {
	name  string
	write bool
}

// New builds a client. owner is this process's writer identity; it must be
// stable across the process lifetime and unique in the cluster.
func New(baseURL, owner string, hc *http.Client, opt Options) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("leaseclient: base URL required")
	}
	if owner == "" {
		return nil, fmt.Errorf("leaseclient: owner identity required")
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	if opt.MaxRetries <= 0 {
		opt.MaxRetries = 50
	}
	if opt.MinRetry <= 0 {
		opt.MinRetry = 25 * time.Millisecond
	}
	if opt.MaxRetry <= 0 {
		opt.MaxRetry = time.Second
	}
	if opt.JitterFrac <= 0 {
		opt.JitterFrac = 0.2
	}
	return &Client{
		baseURL: baseURL,
		owner:   owner,
		opt:     opt,
		http:    hc,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		leases:  make(map[leaseKey]string),
	}, nil
}

// ---- Wire format ----

type acquireReq struct {
	OwnerID string `json:"owner_id"`
	LeaseID string `json:"lease_id"`
	Mode    string `json:"mode"` // read | write
	TTLMS   int64  `json:"ttl_ms"`
}

type acquireResp struct {
	Acquired                bool   `json:"acquired"`
	LastWriter              string `json:"last_writer,omitempty"`
	FirstReadSinceLastWrite bool   `json:"first_read_since_last_write,omitempty"`
	RecommendedRetry        int64  `json:"recommended_retry_ms,omitempty"`
	CurrentOwnerID          string `json:"current_owner_id,omitempty"`
	Reason                  string `json:"reason,omitempty"`
}

type releaseReq struct {
	OwnerID string `json:"owner_id"`
	LeaseID string `json:"lease_id"`
	Mode    string `json:"mode"`
}

type releaseResp struct {
	Released bool   `json:"released"`
	Reason   string `json:"reason,omitempty"`
}

// NotAcquiredError reports a contended lease after retries ran out.
type NotAcquiredError struct {
	LockName       string
	Reason         string
	CurrentOwnerID string
}

func (e *NotAcquiredError) Error() string {
	return fmt.Sprintf("lease not acquired: lock=%s reason=%s current_owner=%s",
		e.LockName, e.Reason, e.CurrentOwnerID)
}

// UnexpectedStatusError reports a response outside the API contract.
type UnexpectedStatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status: %s %s -> %d body=%q", e.Method, e.Path, e.Code, e.Body)
}

// Acquire takes the lease for key, retrying contention with jittered
// backoff until the context expires or the retry budget runs out.
func (c *Client) Acquire(ctx context.Context, key string, write bool, ttl time.Duration) (lock.LockResponse, error) {
	if ttl <= 0 {
		return lock.LockResponse{}, fmt.Errorf("leaseclient: ttl must be > 0")
	}
	mode := "read"
	if write {
		mode = "write"
	}
	leaseID := uuid.NewString()
	path := fmt.Sprintf("%s/v1/locks/%s/acquire", c.baseURL, key)

	var lastNA *NotAcquiredError
	for attempt := 0; attempt <= c.opt.MaxRetries; attempt++ {
		reqBody := acquireReq{OwnerID: c.owner, LeaseID: leaseID, Mode: mode, TTLMS: ttl.Milliseconds()}
		var out acquireResp
		code, raw, err := c.doJSON(ctx, http.MethodPost, path, reqBody, &out)
		if err != nil {
			return lock.LockResponse{}, err
		}

		switch {
		case code == http.StatusOK && out.Acquired:
			c.mu.Lock()
			c.leases[leaseKey{key, write}] = leaseID
			c.mu.Unlock()
			return lock.LockResponse{
				LastWriter:              out.LastWriter,
				FirstReadSinceLastWrite: out.FirstReadSinceLastWrite,
			}, nil
		case code == http.StatusConflict:
			lastNA = &NotAcquiredError{LockName: key, Reason: out.Reason, CurrentOwnerID: out.CurrentOwnerID}
		default:
			return lock.LockResponse{}, &UnexpectedStatusError{Method: http.MethodPost, Path: path, Code: code, Body: raw}
		}

		// Honor the server's recommended retry if present; clamp and jitter.
		sleep := time.Duration(out.RecommendedRetry) * time.Millisecond
		if sleep <= 0 {
			sleep = time.Duration(float64(c.opt.MinRetry) * math.Pow(1.5, float64(attempt)))
		}
		if sleep < c.opt.MinRetry {
			sleep = c.opt.MinRetry
		}
		if sleep > c.opt.MaxRetry {
			sleep = c.opt.MaxRetry
		}
		sleep = c.addJitter(sleep)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lock.LockResponse{}, ctx.Err()
		case <-timer.C:
		}
	}
	return lock.LockResponse{}, lastNA
}

// Release gives the lease back. Unknown leases release cleanly; the server
// treats a lapsed lease the same way.
func (c *Client) Release(ctx context.Context, key string, write bool) error {
	c.mu.Lock()
	leaseID, ok := c.leases[leaseKey{key, write}]
	if ok {
		delete(c.leases, leaseKey{key, write})
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}

	mode := "read"
	if write {
		mode = "write"
	}
	path := fmt.Sprintf("%s/v1/locks/%s/release", c.baseURL, key)
	var out releaseResp
	code, raw, err := c.doJSON(ctx, http.MethodPost, path, releaseReq{OwnerID: c.owner, LeaseID: leaseID, Mode: mode}, &out)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return &UnexpectedStatusError{Method: http.MethodPost, Path: path, Code: code, Body: raw}
	}
	return nil
}

// doJSON sends JSON and decodes a JSON response when one is present.
// Returns the status code and trimmed raw body for error reporting.
func (c *Client) doJSON(ctx context.Context, method, url string, req any, resp any) (int, string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return 0, "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(b))
	if err != nil {
		return 0, "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	rsp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, "", err
	}
	defer rsp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(rsp.Body, 1<<20))
	raw := strings.TrimSpace(string(body))

	if resp != nil && len(body) > 0 {
		_ = json.Unmarshal(body, resp) // tolerate non-JSON error bodies
	}
	return rsp.StatusCode, raw, nil
}

func (c *Client) addJitter(d time.Duration) time.Duration {
	c.mu.Lock()
	j := (c.rng.Float64()*2 - 1) * c.opt.JitterFrac
	c.mu.Unlock()
	out := time.Duration(float64(d) * (1 + j))
	if out < 0 {
		return 0
	}
	return out
}

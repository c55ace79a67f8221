package leaseclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockServer scripts the lease service's acquire/release endpoints and
// records the requests it saw.
type lockServer struct {
	mu       sync.Mutex
	acquires []acquireReq
	releases []releaseReq
	// conflicts is the number of 409 responses to serve before granting.
	conflicts int
	retryHint int64
	status    int // non-zero forces a fixed status on acquire
}

func (s *lockServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/locks/{name}/acquire", func(w http.ResponseWriter, r *http.Request) {
		var req acquireReq
		_ = json.NewDecoder(r.Body).Decode(&req)

		s.mu.Lock()
		s.acquires = append(s.acquires, req)
		if s.status != 0 {
			code := s.status
			s.mu.Unlock()
			w.WriteHeader(code)
			w.Write([]byte("boom"))
			return
		}
		if s.conflicts > 0 {
			s.conflicts--
			hint := s.retryHint
			s.mu.Unlock()
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(acquireResp{
				Acquired:         false,
				Reason:           "held",
				CurrentOwnerID:   "other-node",
				RecommendedRetry: hint,
			})
			return
		}
		s.mu.Unlock()
		json.NewEncoder(w).Encode(acquireResp{
			Acquired:                true,
			LastWriter:              "other-node",
			FirstReadSinceLastWrite: true,
		})
	})
	mux.HandleFunc("POST /v1/locks/{name}/release", func(w http.ResponseWriter, r *http.Request) {
		var req releaseReq
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.mu.Lock()
		s.releases = append(s.releases, req)
		s.mu.Unlock()
		json.NewEncoder(w).Encode(releaseResp{Released: true})
	})
	return mux
}

func newTestClient(t *testing.T, srv *lockServer, opt Options) *Client {
	t.Helper()
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)
	c, err := New(ts.URL, "node-a", ts.Client(), opt)
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New("", "node-a", nil, Options{})
	assert.Error(t, err)
	_, err = New("http://localhost:1", "", nil, Options{})
	assert.Error(t, err)

	c, err := New("http://localhost:1/", "node-a", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:1", c.baseURL)
	assert.Equal(t, 50, c.opt.MaxRetries)
	assert.Equal(t, 25*time.Millisecond, c.opt.MinRetry)
	assert.Equal(t, time.Second, c.opt.MaxRetry)
}

func TestClient_AcquireAndRelease(t *testing.T) {
	srv := &lockServer{}
	c := newTestClient(t, srv, Options{})

	resp, err := c.Acquire(context.Background(), "mbox-1", true, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "other-node", resp.LastWriter)
	assert.True(t, resp.FirstReadSinceLastWrite)

	require.Len(t, srv.acquires, 1)
	got := srv.acquires[0]
	assert.Equal(t, "node-a", got.OwnerID)
	assert.Equal(t, "write", got.Mode)
	assert.Equal(t, int64(60000), got.TTLMS)
	assert.NotEmpty(t, got.LeaseID)

	require.NoError(t, c.Release(context.Background(), "mbox-1", true))
	require.Len(t, srv.releases, 1)
	assert.Equal(t, got.LeaseID, srv.releases[0].LeaseID, "release references the granted lease")
	assert.Equal(t, "write", srv.releases[0].Mode)
}

func TestClient_AcquireRetriesOnConflict(t *testing.T) {
	srv := &lockServer{conflicts: 2, retryHint: 1}
	c := newTestClient(t, srv, Options{MinRetry: time.Millisecond, MaxRetry: 5 * time.Millisecond})

	_, err := c.Acquire(context.Background(), "mbox-1", false, time.Minute)
	require.NoError(t, err)
	assert.Len(t, srv.acquires, 3)
	for _, req := range srv.acquires {
		assert.Equal(t, "read", req.Mode)
	}
}

func TestClient_AcquireExhaustsRetries(t *testing.T) {
	srv := &lockServer{conflicts: 100}
	c := newTestClient(t, srv, Options{MaxRetries: 2, MinRetry: time.Millisecond, MaxRetry: 2 * time.Millisecond})

	_, err := c.Acquire(context.Background(), "mbox-1", true, time.Minute)
	var na *NotAcquiredError
	require.ErrorAs(t, err, &na)
	assert.Equal(t, "mbox-1", na.LockName)
	assert.Equal(t, "other-node", na.CurrentOwnerID)
	assert.Len(t, srv.acquires, 3) // initial attempt plus two retries
}

func TestClient_AcquireContextCancelledDuringBackoff(t *testing.T) {
	srv := &lockServer{conflicts: 100}
	c := newTestClient(t, srv, Options{MinRetry: time.Second, MaxRetry: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Acquire(ctx, "mbox-1", true, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_AcquireUnexpectedStatus(t *testing.T) {
	srv := &lockServer{status: http.StatusInternalServerError}
	c := newTestClient(t, srv, Options{})

	_, err := c.Acquire(context.Background(), "mbox-1", true, time.Minute)
	var ue *UnexpectedStatusError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusInternalServerError, ue.Code)
	assert.Equal(t, "boom", ue.Body)
}

func TestClient_AcquireRejectsZeroTTL(t *testing.T) {
	srv := &lockServer{}
	c := newTestClient(t, srv, Options{})
	_, err := c.Acquire(context.Background(), "mbox-1", true, 0)
	assert.Error(t, err)
	assert.Empty(t, srv.acquires)
}

func TestClient_ReleaseWithoutLeaseIsNoOp(t *testing.T) {
	srv := &lockServer{}
	c := newTestClient(t, srv, Options{})

	require.NoError(t, c.Release(context.Background(), "mbox-1", true))
	assert.Empty(t, srv.releases)
}

func TestClient_ReadAndWriteLeasesAreIndependent(t *testing.T) {
	srv := &lockServer{}
	c := newTestClient(t, srv, Options{})

	_, err := c.Acquire(context.Background(), "mbox-1", false, time.Minute)
	require.NoError(t, err)
	_, err = c.Acquire(context.Background(), "mbox-1", true, time.Minute)
	require.NoError(t, err)

	require.NoError(t, c.Release(context.Background(), "mbox-1", false))
	require.NoError(t, c.Release(context.Background(), "mbox-1", true))
	require.Len(t, srv.releases, 2)
	assert.Equal(t, "read", srv.releases[0].Mode)
	assert.Equal(t, "write", srv.releases[1].Mode)
	assert.NotEqual(t, srv.releases[0].LeaseID, srv.releases[1].LeaseID)
}

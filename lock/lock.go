// Package lock provides the two-level mailbox lock: a process-local
// read/write lock composed with an optional cluster-wide lease lock. The
// cluster lock is acquired exactly once per outermost local acquisition and
// released when the local hold count returns to zero; its "last writer"
// identity is the signal that another process mutated the mailbox and the
// local cache must be flushed.
package lock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds lock factory configuration.
type Config struct {
	// Timeout bounds how long a local acquisition may wait.
	Timeout time.Duration `yaml:"timeout"`
	// MaxWaiters caps the number of goroutines queued on one mailbox lock.
	MaxWaiters int `yaml:"max_waiters"`
	// LeaseTTL is the cluster lease duration requested on acquisition.
	LeaseTTL time.Duration `yaml:"lease_ttl"`
	// FlushOnEveryRead flushes the local cache on every read acquisition
	// that follows a foreign write, not just the first.
	FlushOnEveryRead bool `yaml:"flush_on_every_read"`
}

// DefaultConfig provides the usual production settings.
func DefaultConfig() Config {
	return Config{
		Timeout:    30 * time.Second,
		MaxWaiters: 15,
		LeaseTTL:   60 * time.Second,
	}
}

// UnmarshalYAML accepts Go duration strings ("30s") for the duration
// fields, which yaml.v3 does not decode on its own.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Timeout          string `yaml:"timeout"`
		MaxWaiters       int    `yaml:"max_waiters"`
		LeaseTTL         string `yaml:"lease_ttl"`
		FlushOnEveryRead bool   `yaml:"flush_on_every_read"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("lock.timeout: %w", err)
		}
		c.Timeout = d
	}
	if raw.LeaseTTL != "" {
		d, err := time.ParseDuration(raw.LeaseTTL)
		if err != nil {
			return fmt.Errorf("lock.lease_ttl: %w", err)
		}
		c.LeaseTTL = d
	}
	if raw.MaxWaiters != 0 {
		c.MaxWaiters = raw.MaxWaiters
	}
	c.FlushOnEveryRead = raw.FlushOnEveryRead
	return nil
}

// Errors returned by lock acquisition. Both are terminal for the enclosing
// operation; this layer never retries.
var (
	ErrTimeout        = errors.New("lock: acquisition timed out")
	ErrTooManyWaiters = errors.New("lock: too many waiters")
)

// ClusterError wraps a cluster lease failure.
type ClusterError struct {
	Op  string
	Err error
}

func (e *ClusterError) Error() string {
	return fmt.Sprintf("lock: cluster %s failed: %v", e.Op, e.Err)
}

func (e *ClusterError) Unwrap() error { return e.Err }

// LockResponse is what the cluster lease lock reports on acquisition.
type LockResponse struct {
	// LastWriter identifies the process that last held the write lock.
	LastWriter string
	// FirstReadSinceLastWrite is true for the first read acquisition after
	// a foreign write.
	FirstReadSinceLastWrite bool
}

// ClusterLocker is the cluster-wide lease lock provider.
type ClusterLocker interface {
	Acquire(ctx context.Context, key string, write bool, ttl time.Duration) (LockResponse, error)
	Release(ctx context.Context, key string, write bool) error
}

// FlushListener is invoked when a foreign last-writer is detected on
// acquisition and the local mailbox cache must be discarded.
type FlushListener func(key string)

// holdState tracks one context chain's hold counts on a mailbox lock.
// Nested acquisitions within the chain reuse the same cluster lock.
type holdState struct {
	read         int
	write        int
	clusterHeld  bool
	clusterWrite bool
}

type holdKey struct{ mailbox string }

func holdFromContext(ctx context.Context, mailbox string) *holdState {
	hs, _ := ctx.Value(holdKey{mailbox}).(*holdState)
	return hs
}

// MailboxLock serializes access to one mailbox. Local state is a
// read/write lock with timeout and waiter cap; the optional cluster
// strategy is composed in rather than subclassed.
type MailboxLock struct {
	key     string
	cfg     Config
	cluster ClusterLocker // nil for single-node deployments
	self    string        // this process's writer identity
	flush   FlushListener
	metrics *Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	readers int
	writer  bool
	waiters int
	changed chan struct{}
}

func newMailboxLock(key string, cfg Config, cluster ClusterLocker, self string, flush FlushListener, metrics *Metrics, logger *slog.Logger) *MailboxLock {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MailboxLock{
		key:     key,
		cfg:     cfg,
		cluster: cluster,
		self:    self,
		flush:   flush,
		metrics: metrics,
		logger:  logger,
		changed: make(chan struct{}),
	}
}

// Handle is one acquisition. Close undoes exactly what the matching Lock
// or ReadLock call did, reinstating read locks released by an upgrade.
type Handle struct {
	lock *MailboxLock
	hs   *holdState

	write          bool
	localHeld      bool // this handle took the local lock itself
	reinstateReads int  // read locks released for a write upgrade
	closed         bool
}

// Lock acquires the mailbox write lock. The returned context carries the
// hold state; pass it to nested acquisitions so they are recognized as
// reentrant. Close the handle to release.
func (l *MailboxLock) Lock(ctx context.Context) (context.Context, *Handle, error) {
	return l.acquire(ctx, true)
}

// ReadLock acquires the mailbox read lock.
func (l *MailboxLock) ReadLock(ctx context.Context) (context.Context, *Handle, error) {
	return l.acquire(ctx, false)
}

func (l *MailboxLock) acquire(ctx context.Context, write bool) (context.Context, *Handle, error) {
	hs := holdFromContext(ctx, l.key)
	if hs == nil {
		hs = &holdState{}
		ctx = context.WithValue(ctx, holdKey{l.key}, hs)
	}
	h := &Handle{lock: l, hs: hs, write: write}

	if write {
		if err := l.acquireWrite(ctx, hs, h); err != nil {
			return ctx, nil, err
		}
		hs.write++
		return ctx, h, nil
	}

	if err := l.acquireRead(ctx, hs, h); err != nil {
		return ctx, nil, err
	}
	hs.read++
	return ctx, h, nil
}

func (l *MailboxLock) acquireWrite(ctx context.Context, hs *holdState, h *Handle) error {
	if hs.write > 0 {
		// Reentrant write: only the hold count moves.
		return nil
	}

	if hs.read > 0 {
		// Read-to-write upgrade: release the read locks first to avoid
		// deadlocking against another upgrader. The caller must not rely
		// on anything observed under the read lock alone.
		l.releaseLocalRead(hs.read)
		h.reinstateReads = hs.read
		hs.read = 0
	}

	droppedClusterRead := false
	if l.cluster != nil {
		// A cluster read lease cannot be promoted in place.
		if hs.clusterHeld && !hs.clusterWrite {
			l.clusterRelease(ctx, false)
			hs.clusterHeld = false
			droppedClusterRead = true
		}
		if !hs.clusterHeld {
			resp, err := l.clusterAcquire(ctx, true)
			if err != nil {
				l.restoreReadState(ctx, hs, h, droppedClusterRead)
				return err
			}
			hs.clusterHeld, hs.clusterWrite = true, true
			if resp.LastWriter != "" && resp.LastWriter != l.self {
				l.notifyFlush()
			}
		}
	}

	if err := l.lockLocal(ctx, true); err != nil {
		if l.cluster != nil && hs.clusterHeld && hs.read == 0 && hs.write == 0 {
			l.clusterRelease(ctx, hs.clusterWrite)
			hs.clusterHeld = false
			hs.clusterWrite = false
		}
		l.restoreReadState(ctx, hs, h, droppedClusterRead)
		return err
	}
	h.localHeld = true
	return nil
}

// restoreReadState puts a failed write acquisition back where it started:
// read locks released for the upgrade are reinstated, and when the promotion
// gave up a cluster read lease, a fresh one is taken so the enclosing read
// context stays cluster-protected.
func (l *MailboxLock) restoreReadState(ctx context.Context, hs *holdState, h *Handle, droppedClusterRead bool) {
	l.reinstateReadsLocked(h)
	if !droppedClusterRead || hs.clusterHeld {
		return
	}
	resp, err := l.clusterAcquire(ctx, false)
	if err != nil {
		l.logger.Error("restoring cluster read lease after failed upgrade", "mailbox", l.key, "error", err)
		return
	}
	hs.clusterHeld, hs.clusterWrite = true, false
	if resp.LastWriter != "" && resp.LastWriter != l.self {
		if l.cfg.FlushOnEveryRead || resp.FirstReadSinceLastWrite {
			l.notifyFlush()
		}
	}
}

func (l *MailboxLock) acquireRead(ctx context.Context, hs *holdState, h *Handle) error {
	if hs.write > 0 || hs.read > 0 {
		// Reentrant: the write lock already covers reads, and stacked
		// reads share the local hold.
		if hs.write == 0 {
			if err := l.lockLocal(ctx, false); err != nil {
				return err
			}
			h.localHeld = true
		}
		return nil
	}

	if l.cluster != nil {
		resp, err := l.clusterAcquire(ctx, false)
		if err != nil {
			return err
		}
		hs.clusterHeld, hs.clusterWrite = true, false
		if resp.LastWriter != "" && resp.LastWriter != l.self {
			if l.cfg.FlushOnEveryRead || resp.FirstReadSinceLastWrite {
				l.notifyFlush()
			}
		}
	}

	if err := l.lockLocal(ctx, false); err != nil {
		if l.cluster != nil && hs.clusterHeld {
			l.clusterRelease(ctx, false)
			hs.clusterHeld = false
		}
		return err
	}
	h.localHeld = true
	return nil
}

// Close releases the acquisition. The local lock returns to its hold count
// from before the matching Lock call; the cluster lock is released only
// when the whole chain's hold count reaches zero.
func (h *Handle) Close() {
	if h.closed {
		return
	}
	h.closed = true
	l, hs := h.lock, h.hs

	if h.write {
		hs.write--
		if hs.write == 0 {
			if h.localHeld {
				l.unlockLocal(true)
			}
			l.reinstateReadsLocked(h)
		}
	} else {
		hs.read--
		if h.localHeld {
			l.unlockLocal(false)
		}
	}

	if hs.read == 0 && hs.write == 0 && hs.clusterHeld {
		l.clusterRelease(context.Background(), hs.clusterWrite)
		hs.clusterHeld = false
		hs.clusterWrite = false
	}
}

// reinstateReadsLocked restores read locks dropped by an upgrade, retrying
// until they are back; giving up would leave the caller holding fewer
// locks than before its Lock call.
func (l *MailboxLock) reinstateReadsLocked(h *Handle) {
	if h.reinstateReads == 0 {
		return
	}
	for i := 0; i < h.reinstateReads; i++ {
		for {
			if err := l.lockLocal(context.Background(), false); err == nil {
				break
			}
			l.logger.Warn("retrying read lock reinstatement", "mailbox", l.key)
		}
	}
	h.hs.read += h.reinstateReads
	h.reinstateReads = 0
}

// lockLocal waits for the local read or write lock with the configured
// timeout and waiter cap.
func (l *MailboxLock) lockLocal(ctx context.Context, write bool) error {
	var timeout <-chan time.Time
	if l.cfg.Timeout > 0 {
		timer := time.NewTimer(l.cfg.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	ready := func() bool {
		if write {
			return !l.writer && l.readers == 0
		}
		return !l.writer
	}

	l.mu.Lock()
	for !ready() {
		if l.cfg.MaxWaiters > 0 && l.waiters >= l.cfg.MaxWaiters {
			l.mu.Unlock()
			return ErrTooManyWaiters
		}
		l.waiters++
		ch := l.changed
		l.mu.Unlock()

		select {
		case <-ch:
		case <-timeout:
			l.mu.Lock()
			l.waiters--
			l.mu.Unlock()
			return ErrTimeout
		case <-ctx.Done():
			l.mu.Lock()
			l.waiters--
			l.mu.Unlock()
			return ctx.Err()
		}
		l.mu.Lock()
		l.waiters--
	}
	if write {
		l.writer = true
	} else {
		l.readers++
	}
	l.mu.Unlock()
	return nil
}

func (l *MailboxLock) unlockLocal(write bool) {
	l.mu.Lock()
	if write {
		l.writer = false
	} else if l.readers > 0 {
		l.readers--
	}
	close(l.changed)
	l.changed = make(chan struct{})
	l.mu.Unlock()
}

func (l *MailboxLock) releaseLocalRead(n int) {
	l.mu.Lock()
	l.readers -= n
	if l.readers < 0 {
		l.readers = 0
	}
	close(l.changed)
	l.changed = make(chan struct{})
	l.mu.Unlock()
}

func (l *MailboxLock) clusterAcquire(ctx context.Context, write bool) (LockResponse, error) {
	start := time.Now()
	resp, err := l.cluster.Acquire(ctx, l.key, write, l.cfg.LeaseTTL)
	if l.metrics != nil {
		l.metrics.observeAcquire(write, err, time.Since(start))
	}
	if err != nil {
		return LockResponse{}, &ClusterError{Op: "acquire", Err: err}
	}
	return resp, nil
}

func (l *MailboxLock) clusterRelease(ctx context.Context, write bool) {
	err := l.cluster.Release(ctx, l.key, write)
	if l.metrics != nil {
		l.metrics.observeRelease(err)
	}
	if err != nil {
		// The lease will lapse on its own; log and move on.
		l.logger.Error("cluster lock release failed", "mailbox", l.key, "error", err)
	}
}

func (l *MailboxLock) notifyFlush() {
	if l.flush != nil {
		l.flush(l.key)
	}
}

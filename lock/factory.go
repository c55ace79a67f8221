package lock

import (
	"io"
	"log/slog"
	"sync"
)

// Factory hands out the per-mailbox lock instances. All mailboxes share one
// configuration, cluster strategy, writer identity, and flush listener.
type Factory struct {
	cfg     Config
	cluster ClusterLocker
	self    string
	flush   FlushListener
	metrics *Metrics
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*MailboxLock
}

// FactoryOption adjusts a Factory at construction.
type FactoryOption func(*Factory)

// WithCluster composes a cluster lease strategy into every lock. self is
// this process's writer identity as reported to peers.
func WithCluster(cluster ClusterLocker, self string) FactoryOption {
	return func(f *Factory) {
		f.cluster = cluster
		f.self = self
	}
}

// WithFlushListener registers the cache-flush callback fired when a foreign
// writer is detected.
func WithFlushListener(fn FlushListener) FactoryOption {
	return func(f *Factory) { f.flush = fn }
}

// WithMetrics attaches a shared metric set.
func WithMetrics(m *Metrics) FactoryOption {
	return func(f *Factory) { f.metrics = m }
}

// WithLogger sets the factory logger.
func WithLogger(l *slog.Logger) FactoryOption {
	return func(f *Factory) { f.logger = l }
}

// NewFactory builds a lock factory.
func NewFactory(cfg Config, opts ...FactoryOption) *Factory {
	f := &Factory{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		locks:  make(map[string]*MailboxLock),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get returns the lock for the given mailbox key, creating it on first use.
func (f *Factory) Get(key string) *MailboxLock {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.locks[key]; ok {
		return l
	}
	l := newMailboxLock(key, f.cfg, f.cluster, f.self, f.flush, f.metrics, f.logger)
	f.locks[key] = l
	return l
}

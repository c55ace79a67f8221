package lock

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts cluster lease traffic. Register once per process and share
// across the factory's locks.
type Metrics struct {
	acquireTotal   *prometheus.CounterVec
	acquireErrors  prometheus.Counter
	releaseErrors  prometheus.Counter
	acquireLatency prometheus.Histogram
}

// NewMetrics builds and registers the lock metric set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		acquireTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailbox_lock_cluster_acquire_total",
			Help: "Cluster lease acquisitions by mode.",
		}, []string{"mode"}),
		acquireErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailbox_lock_cluster_acquire_errors_total",
			Help: "Failed cluster lease acquisitions.",
		}),
		releaseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailbox_lock_cluster_release_errors_total",
			Help: "Failed cluster lease releases.",
		}),
		acquireLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailbox_lock_cluster_acquire_seconds",
			Help:    "Cluster lease acquisition latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.acquireTotal, m.acquireErrors, m.releaseErrors, m.acquireLatency)
	}
	return m
}

func (m *Metrics) observeAcquire(write bool, err error, d time.Duration) {
	mode := "read"
	if write {
		mode = "write"
	}
	m.acquireTotal.WithLabelValues(mode).Inc()
	m.acquireLatency.Observe(d.Seconds())
	if err != nil {
		m.acquireErrors.Inc()
	}
}

func (m *Metrics) observeRelease(err error) {
	if err != nil {
		m.releaseErrors.Inc()
	}
}

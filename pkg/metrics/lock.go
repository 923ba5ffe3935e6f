package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LockMetrics tracks the Lock Service's acquire/release/takeover behavior
// across both the DB-row and Redis backends.
//
// Taxonomy: autoscale_lock_<metric_name>_<unit>
type LockMetrics struct {
	AcquireTotal     *prometheus.CounterVec
	AcquireAttempts  prometheus.Histogram
	StaleTakeoverTotal prometheus.Counter
}

func NewLockMetrics(namespace string) *LockMetrics {
	return &LockMetrics{
		AcquireTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "acquire_total",
			Help:      "Total number of lock acquire attempts, by outcome.",
		}, []string{"outcome"}), // outcome: acquired, busy, error
		AcquireAttempts: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "acquire_attempts",
			Help:      "Number of retry attempts an Acquire call needed before succeeding or giving up.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		}),
		StaleTakeoverTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "stale_takeover_total",
			Help:      "Total number of acquires that took over a stale (expired) lock row.",
		}),
	}
}

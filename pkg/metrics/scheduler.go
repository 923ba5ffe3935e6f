package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SchedulerMetrics tracks the scheduler's tick-and-drain loop: how often it
// runs, how many schedule events it finds per batch, and how often the
// "schedule" singleton lock is already held by another replica.
//
// Taxonomy: autoscale_scheduler_<metric_name>_<unit>
type SchedulerMetrics struct {
	TicksTotal           prometheus.Counter
	LockContentionTotal  prometheus.Counter
	BatchSizeObserved     prometheus.Histogram
	EventsProcessedTotal *prometheus.CounterVec
	DrainDurationSeconds prometheus.Histogram
}

// NewSchedulerMetrics registers and returns the scheduler's metrics under
// namespace (typically "autoscale").
func NewSchedulerMetrics(namespace string) *SchedulerMetrics {
	return &SchedulerMetrics{
		TicksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Total number of scheduler tick invocations.",
		}),
		LockContentionTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "lock_contention_total",
			Help:      "Total number of ticks that found the schedule lock already held.",
		}),
		BatchSizeObserved: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "batch_size",
			Help:      "Number of due events fetched per drain pass.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}),
		EventsProcessedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "events_processed_total",
			Help:      "Total number of schedule events processed, by outcome.",
		}, []string{"outcome"}), // outcome: executed, refused, deleted_stale, error
		DrainDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "drain_duration_seconds",
			Help:      "Duration of one fetch-process-update drain pass.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

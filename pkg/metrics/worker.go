package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WorkerMetrics tracks the launch and delete pipelines: provisioning
// latency, poll counts, and undo-stack compensation.
//
// Taxonomy: autoscale_worker_<metric_name>_<unit>
type WorkerMetrics struct {
	LaunchesTotal       *prometheus.CounterVec
	DeletesTotal        *prometheus.CounterVec
	LaunchDurationSeconds prometheus.Histogram
	DeleteDurationSeconds prometheus.Histogram
	PollIterations      prometheus.Histogram
	UndoTotal           *prometheus.CounterVec
}

func NewWorkerMetrics(namespace string) *WorkerMetrics {
	return &WorkerMetrics{
		LaunchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "launches_total",
			Help:      "Total number of launch jobs, by outcome.",
		}, []string{"outcome"}), // outcome: active, failed
		DeletesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "deletes_total",
			Help:      "Total number of delete jobs, by outcome.",
		}, []string{"outcome"}), // outcome: deleted, failed
		LaunchDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "launch_duration_seconds",
			Help:      "Wall-clock time from create-server request to ACTIVE (or failure).",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		DeleteDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "delete_duration_seconds",
			Help:      "Wall-clock time from delete-server request to verified-gone (or failure).",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		PollIterations: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "poll_iterations",
			Help:      "Number of status-poll iterations a launch or delete job needed.",
			Buckets:   []float64{1, 2, 5, 10, 20, 40, 80},
		}),
		UndoTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "undo_total",
			Help:      "Total number of undo-stack compensations run after a launch failure.",
		}, []string{"step"}), // step: detach_lb
	}
}

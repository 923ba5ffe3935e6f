package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ControllerMetrics tracks maybe_execute_scaling_policy outcomes.
//
// Taxonomy: autoscale_controller_<metric_name>_<unit>
type ControllerMetrics struct {
	ExecutionsTotal  *prometheus.CounterVec
	CapacityDelta    prometheus.Histogram
}

func NewControllerMetrics(namespace string) *ControllerMetrics {
	return &ControllerMetrics{
		ExecutionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "executions_total",
			Help:      "Total number of policy executions, by result.",
		}, []string{"result"}), // result: scaled_up, scaled_down, paused, group_cooldown, policy_cooldown, at_limit
		CapacityDelta: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "capacity_delta",
			Help:      "Signed change in entity count applied by a successful policy execution.",
			Buckets:   []float64{-20, -10, -5, -2, -1, 0, 1, 2, 5, 10, 20},
		}),
	}
}

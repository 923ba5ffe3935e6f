package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// APIMetrics tracks the HTTP surface: request volume/latency by route and
// status, and capability-execute specific outcomes.
//
// Taxonomy: autoscale_api_<metric_name>_<unit>
type APIMetrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDurationSeconds *prometheus.HistogramVec
	CapabilityExecTotal *prometheus.CounterVec
	WebsocketConnections prometheus.Gauge
}

func NewAPIMetrics(namespace string) *APIMetrics {
	return &APIMetrics{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests, by route and status.",
		}, []string{"method", "route", "status"}),
		RequestDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		CapabilityExecTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "capability_executions_total",
			Help:      "Total number of capability-URL policy executions, by outcome.",
		}, []string{"outcome"}), // outcome: executed, refused, not_found, rate_limited
		WebsocketConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "websocket_connections",
			Help:      "Current number of open /ws/events connections.",
		}),
	}
}

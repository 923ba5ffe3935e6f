package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AdminMetrics exposes the table-wide entity counts the admin surface
// reports, refreshed periodically from Store.GlobalCounts. Ported from
// CassAdmin.get_metrics, which the original exposes the same way: a global
// count across every tenant, not a per-tenant breakdown.
//
// Taxonomy: autoscale_admin_<entity>_total
type AdminMetrics struct {
	GroupsTotal   prometheus.Gauge
	PoliciesTotal prometheus.Gauge
	WebhooksTotal prometheus.Gauge
	ActiveTotal   prometheus.Gauge
	PendingTotal  prometheus.Gauge

	CollectionsTotal *prometheus.CounterVec
}

func NewAdminMetrics(namespace string) *AdminMetrics {
	return &AdminMetrics{
		GroupsTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "groups_total",
			Help:      "Total number of scaling groups across every tenant.",
		}),
		PoliciesTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "policies_total",
			Help:      "Total number of scaling policies across every tenant.",
		}),
		WebhooksTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "webhooks_total",
			Help:      "Total number of policy webhooks across every tenant.",
		}),
		ActiveTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "active_entities_total",
			Help:      "Total number of active entities across every scaling group.",
		}),
		PendingTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "pending_entities_total",
			Help:      "Total number of pending entities across every scaling group.",
		}),
		CollectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "collections_total",
			Help:      "Total number of GlobalCounts collection passes, by outcome.",
		}, []string{"outcome"}), // outcome: ok, failed
	}
}

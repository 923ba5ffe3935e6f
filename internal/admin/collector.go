// Package admin runs the periodic collector behind the admin metrics
// surface: a ticker loop that reads Store.GlobalCounts and republishes it as
// Prometheus gauges, supplementing otter's CassAdmin.get_metrics (a
// synchronous admin-API call) with a push-on-interval model that fits a
// scrape-based metrics pipeline instead. Built on the same
// ticker-plus-stop/done-channel lifecycle as internal/scheduler.
package admin

import (
	"context"
	"log/slog"
	"time"

	"github.com/scalepilot/autoscale/internal/core"
	"github.com/scalepilot/autoscale/pkg/metrics"
)

// Collector periodically refreshes the admin gauges from the store's
// global, table-wide entity counts.
type Collector struct {
	store    core.Store
	clock    core.Clock
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.AdminMetrics

	stopCh chan struct{}
	doneCh chan struct{}
}

// New returns a Collector (not started).
func New(store core.Store, clock core.Clock, interval time.Duration, logger *slog.Logger, m *metrics.AdminMetrics) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewAdminMetrics("autoscale")
	}
	return &Collector{
		store:    store,
		clock:    clock,
		interval: interval,
		logger:   logger,
		metrics:  m,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the collector's tick loop in a background goroutine. The first
// collection runs immediately, matching the scheduler's startup behavior.
func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
	c.logger.Info("admin metrics collector started", "interval", c.interval)
}

// Stop signals the tick loop to exit and blocks until it has. Safe to call
// once.
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.doneCh)

	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect(ctx)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("admin metrics collector stopped (context cancelled)")
			return
		case <-c.stopCh:
			c.logger.Info("admin metrics collector stopped (explicit stop)")
			return
		case <-ticker.C():
			c.collect(ctx)
		}
	}
}

func (c *Collector) collect(ctx context.Context) {
	counts, err := c.store.GlobalCounts(ctx)
	if err != nil {
		c.metrics.CollectionsTotal.WithLabelValues("failed").Inc()
		c.logger.Error("admin metrics collection failed", "error", err)
		return
	}

	c.metrics.GroupsTotal.Set(float64(counts.Groups))
	c.metrics.PoliciesTotal.Set(float64(counts.Policies))
	c.metrics.WebhooksTotal.Set(float64(counts.Webhooks))
	c.metrics.ActiveTotal.Set(float64(counts.Active))
	c.metrics.PendingTotal.Set(float64(counts.Pending))
	c.metrics.CollectionsTotal.WithLabelValues("ok").Inc()
}

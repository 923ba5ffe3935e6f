package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scalepilot/autoscale/internal/config"
	"github.com/scalepilot/autoscale/internal/scheduler"
	"github.com/scalepilot/autoscale/pkg/metrics"
)

// newSchedulerCommand returns the "scheduler" subcommand: the drain loop
// alone, with no HTTP API, for deployments that run it as a dedicated
// replica separate from the serving tier.
func newSchedulerCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the schedule-event drain loop only",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(*configPath)
		},
	}
}

func runScheduler(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.events.Start(ctx); err != nil {
		return err
	}
	defer a.events.Stop(context.Background())

	a.catalog.Start(ctx)
	defer a.catalog.Stop()

	if a.admin != nil {
		a.admin.Start(ctx)
		defer a.admin.Stop()
	}

	stopMetrics := startMetricsServer(cfg.Metrics, a.logger)
	defer stopMetrics(context.Background())

	sched := scheduler.New(
		a.store,
		a.lockSvc,
		a.runner,
		a.clock,
		cfg.Scheduler.BatchSize,
		cfg.Scheduler.Interval,
		a.logger,
		metrics.NewSchedulerMetrics(cfg.Metrics.Namespace),
	)
	sched.Start(ctx)
	defer sched.Stop()

	a.logger.Info("scheduler started", "batch_size", cfg.Scheduler.BatchSize, "interval", cfg.Scheduler.Interval)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	a.logger.Info("scheduler shutting down")
	return nil
}

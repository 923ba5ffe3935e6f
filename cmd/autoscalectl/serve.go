package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scalepilot/autoscale/internal/config"
	"github.com/scalepilot/autoscale/internal/httpapi"
	"github.com/scalepilot/autoscale/internal/scheduler"
	"github.com/scalepilot/autoscale/pkg/metrics"
)

// newServeCommand returns the "serve" subcommand: the HTTP API, the
// /ws/events feed, and (unless scheduler.enabled is false) the in-process
// schedule-event drain loop, all under one graceful shutdown.
func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and schedule-event drain loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
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

	apiServer := httpapi.New(httpapi.Config{
		Groups:                   a.group,
		Runner:                   a.runner,
		EventBus:                 a.events,
		Logger:                   a.logger,
		Metrics:                  metrics.NewAPIMetrics(cfg.Metrics.Namespace),
		CapabilityRateLimitRPS:   cfg.Server.CapabilityRateLimitRPS,
		CapabilityRateLimitBurst: cfg.Server.CapabilityRateLimitBurst,
	})

	hubCtx, cancelHub := context.WithCancel(ctx)
	defer cancelHub()
	go apiServer.RunEventsHub(hubCtx)

	addr := cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port)
	httpServer := httpapi.NewHTTPServer(addr, apiServer)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(
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
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server starting", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
		a.logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server forced to shutdown", "error", err)
		return err
	}

	a.logger.Info("server exited")
	return nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/scalepilot/autoscale/internal/admin"
	"github.com/scalepilot/autoscale/internal/clockutil"
	"github.com/scalepilot/autoscale/internal/computeclient"
	"github.com/scalepilot/autoscale/internal/config"
	"github.com/scalepilot/autoscale/internal/controller"
	"github.com/scalepilot/autoscale/internal/core"
	"github.com/scalepilot/autoscale/internal/group"
	"github.com/scalepilot/autoscale/internal/lbclient"
	"github.com/scalepilot/autoscale/internal/lock"
	"github.com/scalepilot/autoscale/internal/realtime"
	"github.com/scalepilot/autoscale/internal/servicecatalog"
	"github.com/scalepilot/autoscale/internal/store"
	"github.com/scalepilot/autoscale/internal/worker"
	"github.com/scalepilot/autoscale/pkg/logger"
	"github.com/scalepilot/autoscale/pkg/metrics"
)

// app bundles every component wired up for the current process, so serve
// and scheduler can each start only the pieces they need.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   core.Store
	lockSvc core.LockService
	clock   core.Clock
	group   *group.Group
	runner  *controller.Runner
	worker  *worker.Worker
	catalog *servicecatalog.Catalog
	events  *realtime.DefaultEventBus
	admin   *admin.Collector

	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error during shutdown", "error", err)
		}
	}
}

// newLogger builds the process-wide structured logger per cfg.Log,
// including lumberjack-backed file rotation when cfg.Log.Output is "file".
func newLogger(cfg config.LogConfig) *slog.Logger {
	return logger.NewLogger(logger.Config{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
}

// buildStore converts the config-layer store backend selection to
// internal/store's own Backend type and opens the connection.
func buildStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (core.Store, error) {
	return store.New(ctx, store.Config{
		Backend:          store.Backend(cfg.Backend),
		SQLitePath:       cfg.SQLitePath,
		PostgresDSN:      cfg.PostgresDSN,
		PostgresMaxConns: cfg.PostgresMaxConns,
		PostgresMinConns: cfg.PostgresMinConns,
	}, logger)
}

// buildLock selects and constructs the configured LockService backend. For
// the db backend, s must also implement lock.RowStore — every store.New
// backend does, per its own doc comment.
func buildLock(cfg config.LockConfig, s core.Store, clock core.Clock, logger *slog.Logger, m *metrics.LockMetrics) (core.LockService, func() error, error) {
	switch cfg.Backend {
	case config.LockBackendDB:
		rows, ok := s.(lock.RowStore)
		if !ok {
			return nil, nil, fmt.Errorf("store backend does not implement lock.RowStore")
		}
		return lock.NewDBLock(rows, clock, logger, m), func() error { return nil }, nil

	case config.LockBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return lock.NewRedisLock(client, cfg.RedisKeyPrefix, logger, m), client.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

// buildApp wires every component a serve or scheduler process might need.
// Callers decide what to actually start.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := newLogger(cfg.Log)
	a := &app{cfg: cfg, logger: logger}

	s, err := buildStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	a.store = s
	a.closers = append(a.closers, s.Close)

	clock := clockutil.Real
	a.clock = clock

	metricsNamespace := cfg.Metrics.Namespace
	if metricsNamespace == "" {
		metricsNamespace = "autoscale"
	}

	lockSvc, lockCloser, err := buildLock(cfg.Lock, s, clock, logger, metrics.NewLockMetrics(metricsNamespace))
	if err != nil {
		return nil, fmt.Errorf("building lock service: %w", err)
	}
	a.lockSvc = lockSvc
	a.closers = append(a.closers, lockCloser)

	a.group = group.New(s, lockSvc, logger)

	realtimeMetrics := realtime.NewRealtimeMetrics(metricsNamespace)
	eventBus := realtime.NewEventBus(logger, realtimeMetrics)
	a.events = eventBus
	events := realtime.NewEventPublisher(eventBus, logger, realtimeMetrics)

	k8sClient, err := servicecatalog.NewDefaultK8sClient(servicecatalog.ClientConfig{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("building service catalog client: %w", err)
	}
	a.closers = append(a.closers, k8sClient.Close)

	catalog, err := servicecatalog.New(k8sClient, clock, servicecatalog.Config{
		Namespace:       cfg.ServiceCatalog.Namespace,
		LabelSelector:   cfg.ServiceCatalog.LabelSelector,
		RefreshInterval: cfg.ServiceCatalog.RefreshInterval,
		CacheSize:       cfg.ServiceCatalog.CacheSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("building service catalog: %w", err)
	}
	a.catalog = catalog

	compute := computeclient.New(computeclient.Config{Timeout: cfg.Worker.ComputeRequestTimeout})
	lb := lbclient.New(lbclient.Config{Timeout: cfg.Worker.LoadBalancerRequestTimeout})

	w := worker.New(
		compute,
		lb,
		catalog,
		a.group,
		clock,
		worker.Config{
			Region:       cfg.Worker.Region,
			PollInterval: cfg.Worker.PollInterval,
			PollTimeout:  cfg.Worker.PollTimeout,
		},
		logger,
		metrics.NewWorkerMetrics(metricsNamespace),
		events,
	)
	a.worker = w

	a.runner = controller.NewRunner(a.group, w, clock, uuid.NewString, events, metrics.NewControllerMetrics(metricsNamespace))

	if cfg.Metrics.AdminRefreshInterval > 0 {
		a.admin = admin.New(s, clock, cfg.Metrics.AdminRefreshInterval, logger, metrics.NewAdminMetrics(metricsNamespace))
	}

	return a, nil
}

// startMetricsServer starts a dedicated Prometheus exposition server on
// cfg.Port under cfg.Path, if cfg.Enabled. It is intentionally separate
// from the main API listener so a metrics scraper and the tenant-facing API
// can sit behind different network policies. Returns a no-op closer if
// metrics are disabled.
func startMetricsServer(cfg config.MetricsConfig, logger *slog.Logger) func(ctx context.Context) error {
	if !cfg.Enabled {
		return func(ctx context.Context) error { return nil }
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	addr := ":" + strconv.Itoa(cfg.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("metrics server starting", "addr", addr, "path", cfg.Path)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return srv.Shutdown
}

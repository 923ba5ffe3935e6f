package servicecatalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	corev1 "k8s.io/api/core/v1"

	"github.com/scalepilot/autoscale/internal/core"
)

// Annotation keys a catalog Service entry is expected to carry.
const (
	annotationServiceName = "autoscale.io/service-name"
	annotationRegion      = "autoscale.io/region"
	annotationEndpoint    = "autoscale.io/endpoint"
)

// Config configures a Catalog.
type Config struct {
	// Namespace to search for catalog Service objects.
	Namespace string

	// LabelSelector identifies which Services are catalog entries.
	LabelSelector string

	// RefreshInterval is how often Refresh is called by Start's background
	// loop. Zero disables the periodic refresh; callers must call Refresh
	// themselves.
	RefreshInterval time.Duration

	// CacheSize bounds the LRU fast-path cache sitting in front of the
	// authoritative map. Zero selects a default.
	CacheSize int
}

func (c Config) withDefaults() Config {
	if c.Namespace == "" {
		c.Namespace = "default"
	}
	if c.LabelSelector == "" {
		c.LabelSelector = "autoscale.io/service-catalog=true"
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 256
	}
	return c
}

// Catalog implements core.ServiceCatalog by watching Kubernetes Service
// objects. DiscoverTargets's list-then-atomic-swap shape is ported from
// internal/infrastructure/publishing/discovery_manager.go; an LRU sits in
// front of the authoritative map as a bounded fast path, since a catalog
// with many (service, region) pairs shouldn't keep every lookup's result
// alive forever once callers stop asking for it.
type Catalog struct {
	client K8sClient
	cfg    Config
	clock  core.Clock
	logger *slog.Logger

	mu       sync.RWMutex
	entries  map[string]string
	fastPath *lru.Cache[string, string]

	stopCh chan struct{}
	doneCh chan struct{}
}

// New returns a Catalog backed by client. Call Refresh at least once (or
// Start, for periodic refresh) before Endpoint will resolve anything.
func New(client K8sClient, clock core.Clock, cfg Config, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	cache, err := lru.New[string, string](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create service catalog cache: %w", err)
	}

	return &Catalog{
		client:  client,
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
		entries: make(map[string]string),
		fastPath: cache,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Endpoint implements core.ServiceCatalog.
func (c *Catalog) Endpoint(ctx context.Context, serviceName, region string) (string, error) {
	key := catalogKey(serviceName, region)

	if endpoint, ok := c.fastPath.Get(key); ok {
		return endpoint, nil
	}

	c.mu.RLock()
	endpoint, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return "", &core.NoEndpointError{ServiceName: serviceName, Region: region}
	}

	c.fastPath.Add(key, endpoint)
	return endpoint, nil
}

// Refresh lists every catalog Service and atomically replaces the
// authoritative map. A Service that fails to parse is logged and skipped
// rather than aborting the whole refresh, matching discovery_manager's
// per-secret tolerance.
func (c *Catalog) Refresh(ctx context.Context) error {
	c.logger.Info("refreshing service catalog", "namespace", c.cfg.Namespace, "label_selector", c.cfg.LabelSelector)

	services, err := c.client.ListServices(ctx, c.cfg.Namespace, c.cfg.LabelSelector)
	if err != nil {
		return fmt.Errorf("list catalog services: %w", err)
	}

	next := make(map[string]string, len(services))
	for _, svc := range services {
		serviceName, region, endpoint, err := parseCatalogService(&svc)
		if err != nil {
			c.logger.Warn("skipping unparseable catalog service",
				"service", svc.Name, "namespace", svc.Namespace, "error", err)
			continue
		}
		next[catalogKey(serviceName, region)] = endpoint
	}

	c.mu.Lock()
	c.entries = next
	c.mu.Unlock()
	c.fastPath.Purge()

	c.logger.Info("service catalog refreshed", "entries", len(next))
	return nil
}

// Start runs Refresh once immediately, then again every RefreshInterval
// until Stop is called. Mirrors the scheduler's and gc worker's
// immediate-run-then-periodic ticker lifecycle.
func (c *Catalog) Start(ctx context.Context) {
	if c.cfg.RefreshInterval <= 0 {
		close(c.doneCh)
		return
	}
	go c.run(ctx)
}

func (c *Catalog) run(ctx context.Context) {
	defer close(c.doneCh)

	ticker := c.clock.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	if err := c.Refresh(ctx); err != nil {
		c.logger.Error("initial service catalog refresh failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C():
			if err := c.Refresh(ctx); err != nil {
				c.logger.Error("periodic service catalog refresh failed", "error", err)
			}
		}
	}
}

// Stop signals the refresh loop to exit and waits for it.
func (c *Catalog) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

// EntryCount returns the number of (service, region) pairs currently known,
// for health/metrics surfaces.
func (c *Catalog) EntryCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func catalogKey(serviceName, region string) string {
	return serviceName + "|" + region
}

// parseCatalogService extracts (service name, region, endpoint) from a
// Service's annotations. An explicit endpoint override annotation wins;
// otherwise the endpoint is the Service's in-cluster DNS name on its first
// port.
func parseCatalogService(svc *corev1.Service) (serviceName, region, endpoint string, err error) {
	serviceName = svc.Annotations[annotationServiceName]
	if serviceName == "" {
		return "", "", "", fmt.Errorf("missing required annotation %s", annotationServiceName)
	}
	region = svc.Annotations[annotationRegion]
	if region == "" {
		return "", "", "", fmt.Errorf("missing required annotation %s", annotationRegion)
	}

	if override := svc.Annotations[annotationEndpoint]; override != "" {
		return serviceName, region, override, nil
	}
	if len(svc.Spec.Ports) == 0 {
		return "", "", "", fmt.Errorf("service %s/%s has no ports and no endpoint override", svc.Namespace, svc.Name)
	}
	endpoint = fmt.Sprintf("http://%s.%s.svc.cluster.local:%d", svc.Name, svc.Namespace, svc.Spec.Ports[0].Port)
	return serviceName, region, endpoint, nil
}

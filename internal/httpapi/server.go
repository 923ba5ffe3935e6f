// Package httpapi is the consumer-facing HTTP surface of the autoscaling
// control plane: the anonymous capability-URL execute endpoint, the direct
// authenticated execute endpoint, health, and a read-only /ws/events feed of
// controller and worker activity. It wraps *controller.Runner rather than
// touching core.Store or the lock service directly.
//
// Provisioning — creating or editing scaling groups, policies, and webhooks
// — is explicitly out of scope (spec.md §1, SPEC_FULL.md §13): this package
// does not expose a REST/JSON CRUD surface for them. Something external to
// this repo issues group/policy/webhook ids and capability hashes; this
// package only consumes them to drive an execution.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/scalepilot/autoscale/internal/controller"
	"github.com/scalepilot/autoscale/internal/core"
	"github.com/scalepilot/autoscale/internal/realtime"
	"github.com/scalepilot/autoscale/pkg/metrics"
)

// GroupService is the slice of *group.Group the HTTP surface calls into:
// just the capability lookup an anonymous execute request resolves through.
type GroupService interface {
	ResolveCapability(ctx context.Context, hash string) (core.Webhook, error)
}

// PolicyRunner is the slice of *controller.Runner the HTTP surface needs to
// drive a direct or capability-triggered policy execution.
type PolicyRunner interface {
	Run(ctx context.Context, tenantID, groupID, policyID string) (controller.Decision, error)
}

// Server wires GroupService and PolicyRunner to a gorilla/mux router.
type Server struct {
	groups     GroupService
	runner     PolicyRunner
	logger     *slog.Logger
	metrics    *metrics.APIMetrics
	hub        *eventsHub
	capLimiter *capabilityRateLimiter
}

// Config configures New.
type Config struct {
	Groups   GroupService
	Runner   PolicyRunner
	EventBus *realtime.DefaultEventBus
	Logger   *slog.Logger
	Metrics  *metrics.APIMetrics

	// CapabilityRateLimitRPS and CapabilityRateLimitBurst bound
	// /v1/execute/{hash} per hash. Zero values fall back to 1 req/s, burst 1.
	CapabilityRateLimitRPS   float64
	CapabilityRateLimitBurst int
}

// New builds a Server and, if cfg.EventBus is non-nil, subscribes its
// websocket hub to it so /ws/events starts receiving controller and worker
// events as soon as the router is mounted.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		groups:     cfg.Groups,
		runner:     cfg.Runner,
		logger:     logger,
		metrics:    cfg.Metrics,
		hub:        newEventsHub(logger, cfg.Metrics),
		capLimiter: newCapabilityRateLimiter(cfg.CapabilityRateLimitRPS, cfg.CapabilityRateLimitBurst),
	}
	if cfg.EventBus != nil {
		if err := cfg.EventBus.Subscribe(s.hub); err != nil {
			logger.Error("failed to subscribe websocket hub to event bus", "error", err)
		}
	}
	return s
}

// RunEventsHub drives the websocket fan-out loop until ctx is canceled. Call
// it in its own goroutine alongside the HTTP server.
func (s *Server) RunEventsHub(ctx context.Context) {
	s.hub.run(ctx)
}

// Router builds the gorilla/mux router for the whole HTTP surface.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(securityHeadersMiddleware)
	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware(s.logger))
	router.Use(metricsMiddleware(s.metrics))

	router.HandleFunc("/healthz", healthHandler(s.logger)).Methods(http.MethodGet)
	router.HandleFunc("/ws/events", s.hub.handleWebSocket).Methods(http.MethodGet)

	router.HandleFunc("/v1/execute/{hash}", s.executeCapability).Methods(http.MethodPost)
	router.HandleFunc("/v1/tenants/{tenantID}/groups/{groupID}/policies/{policyID}/execute", s.executePolicy).Methods(http.MethodPost)

	return router
}

// NewHTTPServer wraps Router in a *http.Server with the teacher's usual
// read/write/idle timeouts.
func NewHTTPServer(addr string, s *Server) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

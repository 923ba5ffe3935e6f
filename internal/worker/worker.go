// Package worker implements the launch and delete pipelines: the two
// long-running, best-effort jobs a controller Decision hands off once
// modify_state has committed. Ported from otter's launch_server_v1.py
// (prepare_launch_config / launch_server / wait_for_active / verified_delete
// / the load-balancer undo stack), adapted from Nova/CLB's REST shape to the
// generic core.ComputeClient / core.LoadBalancerClient interfaces.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scalepilot/autoscale/internal/controller"
	"github.com/scalepilot/autoscale/internal/core"
	"github.com/scalepilot/autoscale/internal/group"
	"github.com/scalepilot/autoscale/internal/realtime"
	"github.com/scalepilot/autoscale/pkg/metrics"
)

// Service catalog names the worker resolves per job, matching otter's
// config_value('cloudServersOpenStack') / config_value('cloudLoadBalancers').
const (
	serviceCloudServers       = "cloudServersOpenStack"
	serviceCloudLoadBalancers = "cloudLoadBalancers"
)

// metadataGroupKey is the Nova server metadata key launch_server_v1 stamps
// every server with, so a server can always be traced back to the group
// that created it even if the control plane's own bookkeeping is lost.
const metadataGroupKey = "rax:auto_scaling_group_id"

// StateUpdater is the slice of the ScalingGroup facade the worker needs to
// commit the outcome of a launch back into group state under modify_state.
// Delete completion does not need this: the controller already removed the
// victim from Active synchronously when it built the Decision, so the
// worker's job is purely to carry that decision out against real
// infrastructure.
type StateUpdater interface {
	ModifyState(ctx context.Context, tenantID, groupID string, fn group.StateFn) (core.GroupState, error)
}

// Config holds the worker's deployment-local settings.
type Config struct {
	// Region is the service-catalog region this worker instance operates
	// in. The control plane runs one worker per region; a scaling group's
	// servers never span regions.
	Region string

	// PollInterval is how often the launch and delete pipelines re-check
	// server status while waiting for ACTIVE or verified deletion.
	PollInterval time.Duration

	// PollTimeout bounds how long a single launch or delete job will poll
	// before giving up.
	PollTimeout time.Duration
}

// Worker runs the launch and delete pipelines. It implements
// controller.Dispatcher, so a *Worker is passed directly to
// controller.NewRunner as the thing a Decision's jobs are handed to.
type Worker struct {
	compute core.ComputeClient
	lb      core.LoadBalancerClient
	catalog core.ServiceCatalog
	state   StateUpdater
	clock   core.Clock

	region       string
	pollInterval time.Duration
	pollTimeout  time.Duration

	logger  *slog.Logger
	metrics *metrics.WorkerMetrics
	events  *realtime.EventPublisher
}

// New returns a Worker. events may be nil, in which case launch/delete
// outcomes are still logged and measured but nothing is broadcast to the
// /ws/events feed.
func New(
	compute core.ComputeClient,
	lb core.LoadBalancerClient,
	catalog core.ServiceCatalog,
	state StateUpdater,
	clock core.Clock,
	cfg Config,
	logger *slog.Logger,
	m *metrics.WorkerMetrics,
	events *realtime.EventPublisher,
) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewWorkerMetrics("autoscale")
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = time.Hour
	}
	return &Worker{
		compute:      compute,
		lb:           lb,
		catalog:      catalog,
		state:        state,
		clock:        clock,
		region:       cfg.Region,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		logger:       logger,
		metrics:      m,
		events:       events,
	}
}

// DispatchLaunch implements controller.Dispatcher. Each job runs in its own
// goroutine, detached from ctx's cancellation: a launch outlives the request
// (HTTP call or scheduler tick) that decided to start it.
func (w *Worker) DispatchLaunch(ctx context.Context, tenantID, groupID string, cfg core.LaunchConfig, jobs []controller.LaunchJob) {
	detached := context.WithoutCancel(ctx)
	for _, job := range jobs {
		job := job
		go w.launchOne(detached, tenantID, groupID, cfg, job)
	}
}

// DispatchDelete implements controller.Dispatcher.
func (w *Worker) DispatchDelete(ctx context.Context, tenantID, groupID string, _ core.LaunchConfig, jobs []controller.DeleteJob) {
	detached := context.WithoutCancel(ctx)
	for _, job := range jobs {
		job := job
		go w.deleteOne(detached, tenantID, groupID, job)
	}
}

// undoStep is one reversible side effect the launch pipeline has performed
// so far; launchOne's undo stack runs these in reverse on failure, mirroring
// otter's IUndoStack.
type undoStep func(ctx context.Context) error

// launchOne runs the full launch pipeline for one job: resolve the compute
// endpoint, create the server, poll until ACTIVE, attach to each load
// balancer in order (pushing an undo step per attach), and re-enter
// modify_state to move the job from Pending to Active. Any failure runs the
// undo stack, deletes the partially-created server, and re-enters
// modify_state to drop the job from Pending instead.
func (w *Worker) launchOne(ctx context.Context, tenantID, groupID string, cfg core.LaunchConfig, job controller.LaunchJob) {
	start := w.clock.Now()
	log := w.logger.With("tenant_id", tenantID, "scaling_group_id", groupID, "job_id", job.JobID)

	serverEndpoint, err := w.catalog.Endpoint(ctx, serviceCloudServers, w.region)
	if err != nil {
		w.failLaunch(ctx, log, tenantID, groupID, job.JobID, fmt.Errorf("resolve compute endpoint: %w", err))
		return
	}

	tmpl := prepareServerTemplate(groupID, cfg.Server)
	log = log.With("server_name", tmpl.Name)

	serverID, err := w.compute.CreateServer(ctx, serverEndpoint, tmpl)
	if err != nil {
		w.failLaunch(ctx, log, tenantID, groupID, job.JobID, fmt.Errorf("create server: %w", err))
		return
	}
	log = log.With("server_id", serverID)

	var undo []undoStep
	fail := func(cause error) {
		w.runUndo(ctx, log, undo)
		if delErr := w.compute.DeleteServer(ctx, serverEndpoint, serverID); delErr != nil && !errors.Is(delErr, core.ErrResourceNotFound) {
			log.Error("failed to clean up partially launched server", "error", delErr)
		}
		w.failLaunch(ctx, log, tenantID, groupID, job.JobID, cause)
	}

	ipAddress, err := w.waitForActive(ctx, log, serverEndpoint, serverID)
	if err != nil {
		fail(err)
		return
	}

	memberships := make([]core.LBMembership, 0, len(cfg.LoadBalancers))
	for _, lbSpec := range cfg.LoadBalancers {
		lbEndpoint, err := w.catalog.Endpoint(ctx, serviceCloudLoadBalancers, w.region)
		if err != nil {
			fail(fmt.Errorf("resolve load balancer endpoint: %w", err))
			return
		}
		nodeID, err := w.lb.AddNode(ctx, lbEndpoint, lbSpec, ipAddress)
		if err != nil {
			fail(fmt.Errorf("add node to load balancer %s: %w", lbSpec.LoadBalancerID, err))
			return
		}
		lbID, endpoint := lbSpec.LoadBalancerID, lbEndpoint
		undo = append(undo, func(ctx context.Context) error {
			return w.lb.RemoveNode(ctx, endpoint, lbID, nodeID)
		})
		memberships = append(memberships, core.LBMembership{LoadBalancerID: lbID, NodeID: nodeID})
	}

	_, err = w.state.ModifyState(ctx, tenantID, groupID, func(state core.GroupState) (core.GroupState, error) {
		if _, stillPending := state.Pending[job.JobID]; !stillPending {
			// The group was deleted or the job was already reconciled out
			// from under us; nothing left to commit.
			return state, nil
		}
		delete(state.Pending, job.JobID)
		state.Active[serverID] = core.ActiveServer{
			CreatedAt:     w.clock.Now(),
			IPAddress:     ipAddress,
			LBMemberships: memberships,
		}
		return state, nil
	})
	if err != nil {
		log.Error("failed to commit launch completion", "error", err)
		w.metrics.LaunchesTotal.WithLabelValues("failed").Inc()
		return
	}

	w.metrics.LaunchesTotal.WithLabelValues("active").Inc()
	w.metrics.LaunchDurationSeconds.Observe(w.clock.Since(start).Seconds())
	log.Info("server launched", "ip_address", ipAddress, "duration", w.clock.Since(start))
	w.events.PublishServerLaunched(tenantID, groupID, serverID, ipAddress)
}

// failLaunch re-enters modify_state to drop jobID from Pending, freeing the
// capacity it was holding so the next policy execution can try again.
func (w *Worker) failLaunch(ctx context.Context, log *slog.Logger, tenantID, groupID, jobID string, cause error) {
	log.Error("launch failed", "error", cause)
	_, err := w.state.ModifyState(ctx, tenantID, groupID, func(state core.GroupState) (core.GroupState, error) {
		delete(state.Pending, jobID)
		return state, nil
	})
	if err != nil {
		log.Error("failed to clear pending job after launch failure", "error", err)
	}
	w.metrics.LaunchesTotal.WithLabelValues("failed").Inc()
	w.events.PublishLaunchFailed(tenantID, groupID, jobID, cause.Error())
}

// runUndo runs undo steps in reverse order, logging but not stopping on a
// step that itself fails — by the time undo runs, the launch has already
// failed and the remaining steps still need a best-effort attempt.
func (w *Worker) runUndo(ctx context.Context, log *slog.Logger, undo []undoStep) {
	for i := len(undo) - 1; i >= 0; i-- {
		if err := undo[i](ctx); err != nil {
			log.Error("undo step failed", "error", err)
		}
		w.metrics.UndoTotal.WithLabelValues("detach_lb").Inc()
	}
}

// waitForActive polls GetServerStatus until the server reaches ACTIVE,
// returns *core.UnexpectedServerStatusError if it lands anywhere other than
// BUILD or ACTIVE, and times out after w.pollTimeout. Mirrors
// wait_for_active's repeating-interval poll with TransientRetryError on
// BUILD and a terminal raise on anything else.
func (w *Worker) waitForActive(ctx context.Context, log *slog.Logger, endpoint, serverID string) (string, error) {
	deadline := w.clock.Now().Add(w.pollTimeout)
	ticker := w.clock.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		status, ip, err := w.compute.GetServerStatus(ctx, endpoint, serverID)
		if err != nil {
			log.Debug("transient error polling server status", "error", err, "attempt", attempt)
		} else {
			switch status {
			case "ACTIVE":
				w.metrics.PollIterations.Observe(float64(attempt))
				return ip, nil
			case "BUILD":
				// keep polling
			default:
				return "", &core.UnexpectedServerStatusError{ServerID: serverID, Status: status, ExpectedStatus: "ACTIVE"}
			}
		}

		if w.clock.Now().After(deadline) {
			return "", fmt.Errorf("timed out waiting for server %s to become ACTIVE", serverID)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C():
		}
	}
}

// deleteOne detaches a victim server from every load balancer it belonged
// to (in parallel, tolerating a node that is already gone), deletes the
// server, and polls until the provider confirms it is gone. Active/Pending
// bookkeeping was already updated synchronously when the controller built
// the Decision, so unlike launchOne this never re-enters modify_state.
func (w *Worker) deleteOne(ctx context.Context, tenantID, groupID string, job controller.DeleteJob) {
	start := w.clock.Now()
	log := w.logger.With("tenant_id", tenantID, "scaling_group_id", groupID, "server_id", job.ServerID)

	serverEndpoint, err := w.catalog.Endpoint(ctx, serviceCloudServers, w.region)
	if err != nil {
		log.Error("cannot resolve compute endpoint for delete", "error", err)
		w.metrics.DeletesTotal.WithLabelValues("failed").Inc()
		w.events.PublishDeleteFailed(tenantID, groupID, job.ServerID, err.Error())
		return
	}

	if len(job.LBMemberships) > 0 {
		w.detachAll(ctx, log, job.LBMemberships)
	}

	if err := w.compute.DeleteServer(ctx, serverEndpoint, job.ServerID); err != nil && !errors.Is(err, core.ErrResourceNotFound) {
		log.Error("delete server request failed", "error", err)
		w.metrics.DeletesTotal.WithLabelValues("failed").Inc()
		w.events.PublishDeleteFailed(tenantID, groupID, job.ServerID, err.Error())
		return
	}

	if err := w.verifiedDelete(ctx, serverEndpoint, job.ServerID); err != nil {
		log.Error("could not verify server delete", "error", err)
		w.metrics.DeletesTotal.WithLabelValues("failed").Inc()
		w.events.PublishDeleteFailed(tenantID, groupID, job.ServerID, err.Error())
		return
	}

	w.metrics.DeletesTotal.WithLabelValues("deleted").Inc()
	w.metrics.DeleteDurationSeconds.Observe(w.clock.Since(start).Seconds())
	log.Info("server deleted", "duration", w.clock.Since(start))
	w.events.PublishServerDeleted(tenantID, groupID, job.ServerID)
}

// detachAll removes every load balancer membership concurrently, matching
// remove_from_load_balancers's gatherResults-over-all-nodes shape.
func (w *Worker) detachAll(ctx context.Context, log *slog.Logger, memberships []core.LBMembership) {
	var wg sync.WaitGroup
	errs := make(chan error, len(memberships))
	for _, m := range memberships {
		m := m
		wg.Add(1)
		go func() {
			defer wg.Done()
			lbEndpoint, err := w.catalog.Endpoint(ctx, serviceCloudLoadBalancers, w.region)
			if err != nil {
				errs <- err
				return
			}
			if err := w.lb.RemoveNode(ctx, lbEndpoint, m.LoadBalancerID, m.NodeID); err != nil && !errors.Is(err, core.ErrResourceNotFound) {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		log.Error("failed to detach load balancer node", "error", err)
	}
}

// verifiedDelete polls GetServerStatus until it reports the server not
// found, exactly as verified_delete does, bounded by w.pollTimeout.
func (w *Worker) verifiedDelete(ctx context.Context, endpoint, serverID string) error {
	deadline := w.clock.Now().Add(w.pollTimeout)
	ticker := w.clock.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		_, _, err := w.compute.GetServerStatus(ctx, endpoint, serverID)
		if errors.Is(err, core.ErrResourceNotFound) {
			return nil
		}
		if w.clock.Now().After(deadline) {
			return fmt.Errorf("timed out verifying delete of server %s", serverID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}
	}
}

// prepareServerTemplate stamps the scaling-group metadata key and a unique
// name suffix onto a copy of tmpl, exactly as prepare_launch_config does.
func prepareServerTemplate(groupID string, tmpl core.ServerTemplate) core.ServerTemplate {
	out := tmpl
	out.Metadata = make(map[string]string, len(tmpl.Metadata)+1)
	for k, v := range tmpl.Metadata {
		out.Metadata[k] = v
	}
	out.Metadata[metadataGroupKey] = groupID

	suffix := uuid.NewString()[:8]
	if out.Name != "" {
		out.Name = out.Name + "-" + suffix
	} else {
		out.Name = "as-" + suffix
	}
	return out
}

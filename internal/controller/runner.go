package controller

import (
	"context"
	"errors"

	"github.com/scalepilot/autoscale/internal/core"
	"github.com/scalepilot/autoscale/internal/group"
	"github.com/scalepilot/autoscale/internal/realtime"
	"github.com/scalepilot/autoscale/pkg/metrics"
)

// GroupFacade is the slice of *group.Group a Runner needs: enough to read a
// policy's config and re-enter modify_state with the controller's decision.
// Declared here (rather than depended on concretely) so tests can substitute
// a fake without a real Store or LockService behind it.
type GroupFacade interface {
	ViewConfig(ctx context.Context, tenantID, groupID string) (core.GroupConfig, error)
	ViewLaunchConfig(ctx context.Context, tenantID, groupID string) (core.LaunchConfig, error)
	GetPolicy(ctx context.Context, tenantID, groupID, policyID string) (core.Policy, error)
	ModifyState(ctx context.Context, tenantID, groupID string, fn group.StateFn) (core.GroupState, error)
}

// Dispatcher hands the jobs a Decision produced off to the launch/delete
// worker. Both methods are expected to return quickly — the worker owns its
// own retry and polling loops — so a Runner never blocks modify_state's
// critical section on server provisioning.
type Dispatcher interface {
	DispatchLaunch(ctx context.Context, tenantID, groupID string, cfg core.LaunchConfig, jobs []LaunchJob)
	DispatchDelete(ctx context.Context, tenantID, groupID string, cfg core.LaunchConfig, jobs []DeleteJob)
}

// Runner is maybe_execute_scaling_policy wired to a concrete group facade
// and dispatcher: the shared entry point both the Scheduler (firing a
// schedule event) and the capability-execute HTTP handler (firing a webhook)
// use to turn a policy id into a committed state change and dispatched jobs.
type Runner struct {
	facade     GroupFacade
	dispatcher Dispatcher
	clock      core.Clock
	newJobID   NewJobID
	events     *realtime.EventPublisher
	metrics    *metrics.ControllerMetrics
}

// NewRunner returns a Runner. dispatcher may be nil, in which case decisions
// are still computed and committed but no launch/delete job is dispatched —
// useful for tests that only care about the state transition. events may
// also be nil, in which case no event is broadcast to the /ws/events feed.
// m may also be nil, in which case execution metrics are not recorded.
func NewRunner(facade GroupFacade, dispatcher Dispatcher, clock core.Clock, newJobID NewJobID, events *realtime.EventPublisher, m *metrics.ControllerMetrics) *Runner {
	return &Runner{facade: facade, dispatcher: dispatcher, clock: clock, newJobID: newJobID, events: events, metrics: m}
}

// Run loads policyID's config and definition, executes it against the
// group's current state under modify_state, and dispatches any resulting
// jobs. It returns the same *core.CannotExecutePolicyError,
// *core.NoSuchScalingGroupError, or *core.NoSuchPolicyError a caller would
// see from the lower layers — callers are expected to treat the first as a
// routine refusal and the latter two as "this schedule/webhook is stale".
func (r *Runner) Run(ctx context.Context, tenantID, groupID, policyID string) (Decision, error) {
	cfg, err := r.facade.ViewConfig(ctx, tenantID, groupID)
	if err != nil {
		return Decision{}, err
	}
	launchCfg, err := r.facade.ViewLaunchConfig(ctx, tenantID, groupID)
	if err != nil {
		return Decision{}, err
	}
	policy, err := r.facade.GetPolicy(ctx, tenantID, groupID, policyID)
	if err != nil {
		return Decision{}, err
	}

	var decision Decision
	_, err = r.facade.ModifyState(ctx, tenantID, groupID, func(state core.GroupState) (core.GroupState, error) {
		d, err := Execute(cfg, policy, state, r.clock.Now(), r.newJobID)
		if err != nil {
			return core.GroupState{}, err
		}
		decision = d
		return d.State, nil
	})
	if err != nil {
		var cannotExecute *core.CannotExecutePolicyError
		if errors.As(err, &cannotExecute) {
			r.events.PublishPolicyRefused(tenantID, groupID, policyID, string(cannotExecute.Reason))
			if r.metrics != nil {
				r.metrics.ExecutionsTotal.WithLabelValues(string(cannotExecute.Reason)).Inc()
			}
		}
		return Decision{}, err
	}

	r.events.PublishPolicyExecuted(tenantID, groupID, policyID, len(decision.Launch), len(decision.Delete))

	if r.metrics != nil {
		delta := len(decision.Launch) - len(decision.Delete)
		switch {
		case delta > 0:
			r.metrics.ExecutionsTotal.WithLabelValues("scaled_up").Inc()
		case delta < 0:
			r.metrics.ExecutionsTotal.WithLabelValues("scaled_down").Inc()
		}
		r.metrics.CapacityDelta.Observe(float64(delta))
	}

	if r.dispatcher != nil {
		if len(decision.Launch) > 0 {
			r.dispatcher.DispatchLaunch(ctx, tenantID, groupID, launchCfg, decision.Launch)
		}
		if len(decision.Delete) > 0 {
			r.dispatcher.DispatchDelete(ctx, tenantID, groupID, launchCfg, decision.Delete)
		}
	}
	return decision, nil
}

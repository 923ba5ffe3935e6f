// Package group implements the ScalingGroup facade: the business-rule layer
// sitting over core.Store that every other component (the HTTP surface, the
// scheduler, the controller) calls into rather than touching the Store
// directly. It owns input validation, the GroupNotEmpty invariant on
// delete, and the modify_state protocol that gives every state mutation its
// lock / read / compute / write / unlock shape.
package group

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/scalepilot/autoscale/internal/core"
)

// defaultLockTTL bounds how long a modify_state call may hold the group
// lock before a crashed holder is considered stale and takeable-over.
const defaultLockTTL = 30 * time.Second

// defaultMaxRetries is the group lock's retry budget for ordinary callers
// (the facade itself, and policy execution). The scheduler's own "schedule"
// singleton lock uses 0 retries instead; see internal/scheduler.
const defaultMaxRetries = 5

// CreateGroupRequest is the validated input to Create.
type CreateGroupRequest struct {
	TenantID     string             `validate:"required"`
	GroupConfig  core.GroupConfig   `validate:"required"`
	LaunchConfig core.LaunchConfig  `validate:"required"`
}

// CreatePolicyRequest is the validated input to CreatePolicy.
type CreatePolicyRequest struct {
	Name         string                `validate:"required"`
	CooldownSecs int                   `validate:"gte=0"`
	Type         core.PolicyType       `validate:"required,oneof=webhook schedule"`
	Adjustment   core.PolicyAdjustment `validate:"required"`
	Schedule     *core.ScheduleArgs
}

// CreateWebhookRequest is the validated input to CreateWebhook.
type CreateWebhookRequest struct {
	Name     string `validate:"required"`
	Metadata map[string]string
}

// Group is the ScalingGroup facade.
type Group struct {
	store    core.Store
	lock     core.LockService
	validate *validator.Validate
	logger   *slog.Logger
}

// New returns a Group facade backed by store and guarded by lock.
func New(store core.Store, lockSvc core.LockService, logger *slog.Logger) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	return &Group{store: store, lock: lockSvc, validate: validator.New(), logger: logger}
}

// resource is the lock resource name for a group: every modify_state call
// against (tenantID, groupID) serializes on this one name.
func resource(tenantID, groupID string) string {
	return fmt.Sprintf("group:%s:%s", tenantID, groupID)
}

// Create validates req and creates a new, empty scaling group.
func (g *Group) Create(ctx context.Context, groupID string, req CreateGroupRequest) (core.ScalingGroup, error) {
	if err := g.validate.Struct(req); err != nil {
		return core.ScalingGroup{}, &core.ValidationError{Field: "request", Reason: err.Error()}
	}
	if req.GroupConfig.MinEntities > req.GroupConfig.MaxEntities {
		return core.ScalingGroup{}, &core.ValidationError{Field: "min_entities", Reason: "must be <= max_entities"}
	}

	group := core.ScalingGroup{
		TenantID:     req.TenantID,
		GroupID:      groupID,
		GroupConfig:  req.GroupConfig,
		LaunchConfig: req.LaunchConfig,
		CreatedAt:    time.Now(),
	}
	state := core.GroupState{
		TenantID:      req.TenantID,
		GroupID:       groupID,
		Active:        map[string]core.ActiveServer{},
		Pending:       map[string]time.Time{},
		PolicyTouched: map[string]time.Time{},
	}
	if err := g.store.CreateGroup(ctx, group, state); err != nil {
		return core.ScalingGroup{}, err
	}
	return group, nil
}

func (g *Group) ViewManifest(ctx context.Context, tenantID, groupID string) (core.ScalingGroup, core.GroupState, error) {
	return g.store.ViewManifest(ctx, tenantID, groupID)
}

func (g *Group) ViewConfig(ctx context.Context, tenantID, groupID string) (core.GroupConfig, error) {
	return g.store.ViewConfig(ctx, tenantID, groupID)
}

func (g *Group) ViewLaunchConfig(ctx context.Context, tenantID, groupID string) (core.LaunchConfig, error) {
	return g.store.ViewLaunchConfig(ctx, tenantID, groupID)
}

func (g *Group) ViewState(ctx context.Context, tenantID, groupID string) (core.GroupState, error) {
	return g.store.ViewState(ctx, tenantID, groupID)
}

// UpdateConfig replaces a group's declarative configuration. It does not go
// through modify_state: config is immutable-by-convention data the
// controller and worker read but never mutate, so no lock is needed to
// serialize against them.
func (g *Group) UpdateConfig(ctx context.Context, tenantID, groupID string, cfg core.GroupConfig) error {
	if cfg.MinEntities > cfg.MaxEntities {
		return &core.ValidationError{Field: "min_entities", Reason: "must be <= max_entities"}
	}
	return g.store.UpdateConfig(ctx, tenantID, groupID, cfg)
}

func (g *Group) UpdateLaunchConfig(ctx context.Context, tenantID, groupID string, cfg core.LaunchConfig) error {
	return g.store.UpdateLaunchConfig(ctx, tenantID, groupID, cfg)
}

// Delete removes a group after verifying it holds no active or pending
// entities (spec's GroupNotEmpty invariant). The check and the delete run
// under the group lock so a launch in flight cannot race a delete.
func (g *Group) Delete(ctx context.Context, tenantID, groupID string) error {
	owner := uuid.NewString()
	return withGroupLock(ctx, g.lock, resource(tenantID, groupID), owner, func(ctx context.Context) error {
		state, err := g.store.ViewState(ctx, tenantID, groupID)
		if err != nil {
			return err
		}
		if n := state.EntityCount(); n > 0 {
			return &core.GroupNotEmptyError{TenantID: tenantID, GroupID: groupID, Active: len(state.Active), Pending: len(state.Pending)}
		}
		return g.store.DeleteGroup(ctx, tenantID, groupID)
	})
}

// StateFn is the pure function modify_state applies: given the current
// state it returns the new state. It must not mutate its argument — callers
// pass a freshly cloned GroupState, but a StateFn that ignores that and
// mutates in place would alias the caller's read.
type StateFn func(state core.GroupState) (core.GroupState, error)

// ModifyState implements the spec's central mutation protocol: acquire the
// group lock, read the current state, apply fn, assert the caller didn't
// change the group's identity fields, write the result, release the lock.
// Every state change in the control plane — policy execution (which also
// removes delete victims from Active) and launch success or failure — goes
// through this.
func (g *Group) ModifyState(ctx context.Context, tenantID, groupID string, fn StateFn) (core.GroupState, error) {
	owner := uuid.NewString()
	var result core.GroupState
	err := withGroupLock(ctx, g.lock, resource(tenantID, groupID), owner, func(ctx context.Context) error {
		current, err := g.store.ViewState(ctx, tenantID, groupID)
		if err != nil {
			return err
		}
		next, err := fn(current.Clone())
		if err != nil {
			return err
		}
		if next.TenantID != tenantID || next.GroupID != groupID {
			return &core.ValidationError{Field: "state", Reason: "modify_state function must not change group identity"}
		}
		if err := g.store.UpdateState(ctx, next); err != nil {
			return err
		}
		result = next
		return nil
	})
	return result, err
}

func withGroupLock(ctx context.Context, lockSvc core.LockService, resource, owner string, fn func(ctx context.Context) error) error {
	if err := lockSvc.Acquire(ctx, resource, owner, defaultLockTTL, defaultMaxRetries); err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lockSvc.Release(releaseCtx, resource, owner)
	}()
	return fn(ctx)
}

func (g *Group) ListPolicies(ctx context.Context, tenantID, groupID string, page core.Page) ([]core.Policy, error) {
	return g.store.ListPolicies(ctx, tenantID, groupID, page)
}

func (g *Group) GetPolicy(ctx context.Context, tenantID, groupID, policyID string) (core.Policy, error) {
	return g.store.GetPolicy(ctx, tenantID, groupID, policyID)
}

// CreatePolicy validates req and adds a new policy to the group.
func (g *Group) CreatePolicy(ctx context.Context, tenantID, groupID string, req CreatePolicyRequest) (core.Policy, error) {
	if err := g.validate.Struct(req); err != nil {
		return core.Policy{}, &core.ValidationError{Field: "request", Reason: err.Error()}
	}
	if err := validateAdjustment(req.Adjustment); err != nil {
		return core.Policy{}, err
	}
	if req.Type == core.PolicyTypeSchedule && req.Schedule == nil {
		return core.Policy{}, &core.ValidationError{Field: "args", Reason: "schedule policies require args.at or args.cron"}
	}

	policy := core.Policy{
		TenantID:     tenantID,
		GroupID:      groupID,
		PolicyID:     uuid.NewString(),
		Name:         req.Name,
		CooldownSecs: req.CooldownSecs,
		Type:         req.Type,
		Adjustment:   req.Adjustment,
		Schedule:     req.Schedule,
		CreatedAt:    time.Now(),
	}
	if err := g.store.CreatePolicies(ctx, []core.Policy{policy}); err != nil {
		return core.Policy{}, err
	}
	if policy.Type == core.PolicyTypeSchedule {
		event, err := scheduleEventFor(policy, time.Now())
		if err != nil {
			return core.Policy{}, err
		}
		if err := g.store.UpsertScheduleEvent(ctx, event); err != nil {
			return core.Policy{}, err
		}
	}
	return policy, nil
}

// scheduleEventFor builds the due-event row a schedule-type policy's args
// project to: a one-shot Trigger at args.at, or the next occurrence of
// args.cron strictly after now.
func scheduleEventFor(policy core.Policy, now time.Time) (core.ScheduleEvent, error) {
	if policy.Schedule == nil {
		return core.ScheduleEvent{}, &core.ValidationError{Field: "args", Reason: "schedule policies require args.at or args.cron"}
	}

	event := core.ScheduleEvent{
		TenantID: policy.TenantID,
		GroupID:  policy.GroupID,
		PolicyID: policy.PolicyID,
		Cron:     policy.Schedule.Cron,
	}
	switch {
	case policy.Schedule.Cron != nil && *policy.Schedule.Cron != "":
		schedule, err := cron.ParseStandard(*policy.Schedule.Cron)
		if err != nil {
			return core.ScheduleEvent{}, &core.ValidationError{Field: "args.cron", Reason: err.Error()}
		}
		event.Trigger = schedule.Next(now)
	case policy.Schedule.At != nil:
		event.Trigger = *policy.Schedule.At
	default:
		return core.ScheduleEvent{}, &core.ValidationError{Field: "args", Reason: "schedule policies require args.at or args.cron"}
	}
	return event, nil
}

func validateAdjustment(adj core.PolicyAdjustment) error {
	set := 0
	if adj.Change != nil {
		set++
	}
	if adj.ChangePercent != nil {
		set++
	}
	if adj.DesiredCapacity != nil {
		set++
	}
	if set != 1 {
		return &core.ValidationError{Field: "adjustment", Reason: "exactly one of change, change_percent, desired_capacity must be set"}
	}
	return nil
}

// UpdatePolicy replaces an existing policy's fields. A policy's Type is
// immutable once created: changing a webhook policy into a schedule policy
// (or back) would silently invalidate the schedule_events / capability rows
// tied to it, so that change is rejected as a ValidationError.
func (g *Group) UpdatePolicy(ctx context.Context, tenantID, groupID, policyID string, req CreatePolicyRequest) (core.Policy, error) {
	existing, err := g.store.GetPolicy(ctx, tenantID, groupID, policyID)
	if err != nil {
		return core.Policy{}, err
	}
	if req.Type != "" && req.Type != existing.Type {
		return core.Policy{}, &core.ValidationError{Field: "type", Reason: "policy type cannot be changed after creation"}
	}
	if err := validateAdjustment(req.Adjustment); err != nil {
		return core.Policy{}, err
	}

	existing.Name = req.Name
	existing.CooldownSecs = req.CooldownSecs
	existing.Adjustment = req.Adjustment
	existing.Schedule = req.Schedule
	if err := g.store.UpdatePolicy(ctx, existing); err != nil {
		return core.Policy{}, err
	}
	if existing.Type == core.PolicyTypeSchedule {
		event, err := scheduleEventFor(existing, time.Now())
		if err != nil {
			return core.Policy{}, err
		}
		// UpsertScheduleEvent replaces the (tenant, group, policy) row
		// outright, so this covers both the "delete+reinsert" and "update
		// in place" phrasing of the spec for a policy whose args changed.
		if err := g.store.UpsertScheduleEvent(ctx, event); err != nil {
			return core.Policy{}, err
		}
	}
	return existing, nil
}

func (g *Group) DeletePolicy(ctx context.Context, tenantID, groupID, policyID string) error {
	return g.store.DeletePolicy(ctx, tenantID, groupID, policyID)
}

func (g *Group) ListWebhooks(ctx context.Context, tenantID, groupID, policyID string, page core.Page) ([]core.Webhook, error) {
	return g.store.ListWebhooks(ctx, tenantID, groupID, policyID, page)
}

func (g *Group) GetWebhook(ctx context.Context, tenantID, groupID, policyID, webhookID string) (core.Webhook, error) {
	return g.store.GetWebhook(ctx, tenantID, groupID, policyID, webhookID)
}

// CreateWebhook validates req and mints a new anonymous-capability webhook
// for the given policy.
func (g *Group) CreateWebhook(ctx context.Context, tenantID, groupID, policyID string, req CreateWebhookRequest) (core.Webhook, error) {
	if err := g.validate.Struct(req); err != nil {
		return core.Webhook{}, &core.ValidationError{Field: "request", Reason: err.Error()}
	}
	if _, err := g.store.GetPolicy(ctx, tenantID, groupID, policyID); err != nil {
		return core.Webhook{}, err
	}

	webhook := core.Webhook{
		TenantID:  tenantID,
		GroupID:   groupID,
		PolicyID:  policyID,
		WebhookID: uuid.NewString(),
		Name:      req.Name,
		Metadata:  req.Metadata,
		Capability: core.WebhookCapability{
			Version: 1,
			Hash:    uuid.New().String(),
		},
		CreatedAt: time.Now(),
	}
	if err := g.store.CreateWebhooks(ctx, []core.Webhook{webhook}); err != nil {
		return core.Webhook{}, err
	}
	return webhook, nil
}

func (g *Group) UpdateWebhook(ctx context.Context, tenantID, groupID, policyID, webhookID string, req CreateWebhookRequest) (core.Webhook, error) {
	existing, err := g.store.GetWebhook(ctx, tenantID, groupID, policyID, webhookID)
	if err != nil {
		return core.Webhook{}, err
	}
	existing.Name = req.Name
	existing.Metadata = req.Metadata
	if err := g.store.UpdateWebhook(ctx, existing); err != nil {
		return core.Webhook{}, err
	}
	return existing, nil
}

func (g *Group) DeleteWebhook(ctx context.Context, tenantID, groupID, policyID, webhookID string) error {
	return g.store.DeleteWebhook(ctx, tenantID, groupID, policyID, webhookID)
}

// ResolveCapability looks up the policy behind an anonymous capability URL.
func (g *Group) ResolveCapability(ctx context.Context, hash string) (core.Webhook, error) {
	return g.store.ResolveCapability(ctx, hash)
}

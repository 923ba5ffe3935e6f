package core

import (
	"context"
	"time"
)

// Store is the durable read-before-write data plane every other component is
// built on. Implementations back it with Postgres, SQLite, or an in-memory
// map, but callers never see which: every operation here takes the shape it
// would if the underlying store were a non-transactional wide-column table
// — single-row reads and writes, explicit batching where the protocol (the
// Scheduler's drain) calls for it, no multi-row ACID guarantee to lean on.
type Store interface {
	// CreateGroup inserts a new scaling group and its initial, empty state
	// in one logical write. It does not take a lock; callers create groups
	// before anything else can reference their id.
	CreateGroup(ctx context.Context, group ScalingGroup, state GroupState) error

	// ViewManifest returns the group's identity, its config, its launch
	// config, and its current state together, as the facade's read-only
	// "show me everything" operation. It returns *NoSuchScalingGroupError
	// if the group is absent or tombstoned.
	ViewManifest(ctx context.Context, tenantID, groupID string) (ScalingGroup, GroupState, error)

	ViewConfig(ctx context.Context, tenantID, groupID string) (GroupConfig, error)
	ViewLaunchConfig(ctx context.Context, tenantID, groupID string) (LaunchConfig, error)

	// ViewState performs the tombstone-resurrection check: a row with no
	// created_at is treated as absent, and its remnants are purged before
	// *NoSuchScalingGroupError is returned.
	ViewState(ctx context.Context, tenantID, groupID string) (GroupState, error)

	UpdateConfig(ctx context.Context, tenantID, groupID string, cfg GroupConfig) error
	UpdateLaunchConfig(ctx context.Context, tenantID, groupID string, cfg LaunchConfig) error

	// UpdateState overwrites the mutable columns of a group's state in a
	// single write. Callers are expected to have gone through the
	// modify_state protocol (acquire lock, ViewState, compute, UpdateState,
	// release lock); UpdateState itself does not take or check a lock.
	UpdateState(ctx context.Context, state GroupState) error

	// DeleteGroup removes a group's row and all of its state, policies, and
	// webhooks. Callers must have already verified the group is empty
	// (GroupNotEmptyError is a facade-level concern, not a Store one).
	DeleteGroup(ctx context.Context, tenantID, groupID string) error

	ListPolicies(ctx context.Context, tenantID, groupID string, page Page) ([]Policy, error)
	GetPolicy(ctx context.Context, tenantID, groupID, policyID string) (Policy, error)
	CreatePolicies(ctx context.Context, policies []Policy) error
	UpdatePolicy(ctx context.Context, policy Policy) error
	DeletePolicy(ctx context.Context, tenantID, groupID, policyID string) error

	ListWebhooks(ctx context.Context, tenantID, groupID, policyID string, page Page) ([]Webhook, error)
	GetWebhook(ctx context.Context, tenantID, groupID, policyID, webhookID string) (Webhook, error)
	CreateWebhooks(ctx context.Context, webhooks []Webhook) error
	UpdateWebhook(ctx context.Context, webhook Webhook) error
	DeleteWebhook(ctx context.Context, tenantID, groupID, policyID, webhookID string) error

	// ResolveCapability looks a webhook up by its capability hash alone,
	// without knowing the tenant, group, or policy it belongs to — the
	// secondary index an anonymously-executed capability URL depends on.
	// Returns *UnrecognizedCapabilityError if the hash has no match.
	ResolveCapability(ctx context.Context, hash string) (Webhook, error)

	// UpsertScheduleEvent inserts or replaces a single schedule event row,
	// keyed on (tenant_id, group_id, policy_id).
	UpsertScheduleEvent(ctx context.Context, event ScheduleEvent) error
	DeleteScheduleEvent(ctx context.Context, tenantID, groupID, policyID string) error

	// FetchDueEvents returns up to batchSize schedule events whose Trigger
	// is at or before now, ordered by Trigger ascending, the Scheduler's
	// sole entry point into the schedule_events table.
	FetchDueEvents(ctx context.Context, now time.Time, batchSize int) ([]ScheduleEvent, error)

	// UpdateDueEvents applies the outcome of one drain pass in a single
	// batched write: toDelete events are removed (one-shot events that
	// fired, or events whose policy no longer exists), toUpdate events are
	// rewritten with their next Trigger (recurring cron events).
	UpdateDueEvents(ctx context.Context, toDelete []ScheduleEvent, toUpdate []ScheduleEvent) error

	// TenantCounts is the per-tenant summary used by the admin metrics
	// surface: how many groups, policies, webhooks, and entities a tenant
	// currently accounts for.
	TenantCounts(ctx context.Context, tenantID string) (TenantCounts, error)

	// GlobalCounts is the table-wide row counts across every tenant, the
	// admin metrics collector's periodic gauge refresh reads this rather
	// than iterating TenantCounts per tenant.
	GlobalCounts(ctx context.Context) (TenantCounts, error)

	Health(ctx context.Context) error
	Close() error
}

// LockService provides the mutual-exclusion primitive every stateful
// operation in the control plane is built on: a single advisory lock per
// resource name, with a bounded, jittered retry policy and stale-owner
// takeover so a crashed holder cannot wedge the resource forever.
type LockService interface {
	// Acquire blocks (subject to ctx and the configured retry policy) until
	// the named resource's lock is held by this owner, or returns
	// *BusyLockError once retries are exhausted. maxRetries of 0 means try
	// exactly once and fail immediately if busy — the Scheduler's "schedule"
	// lock uses this so at most one scheduler replica is ever mid-tick.
	Acquire(ctx context.Context, resource, owner string, ttl time.Duration, maxRetries int) error

	// Release drops the lock if and only if owner currently holds it. It is
	// not an error to release a lock this owner does not hold (it is simply
	// a no-op), matching the original's best-effort unlock-on-defer style.
	Release(ctx context.Context, resource, owner string) error
}

// Clock abstracts wall-clock time so the Scheduler's ticker and the Worker's
// poll loops can be driven deterministically in tests. Production code uses
// clockutil.Real (backed by the time package); tests use
// clock/testing.FakeClock.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of time.Ticker that Clock implementations expose.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// ComputeClient is the subset of a compute provider's API the launch and
// delete workers depend on.
type ComputeClient interface {
	CreateServer(ctx context.Context, endpoint string, tmpl ServerTemplate) (serverID string, err error)
	GetServerStatus(ctx context.Context, endpoint, serverID string) (status, ipAddress string, err error)
	DeleteServer(ctx context.Context, endpoint, serverID string) error
}

// LoadBalancerClient is the subset of a load-balancer provider's API the
// launch and delete workers depend on.
type LoadBalancerClient interface {
	AddNode(ctx context.Context, endpoint string, spec LoadBalancerSpec, ipAddress string) (nodeID string, err error)
	RemoveNode(ctx context.Context, endpoint, loadBalancerID, nodeID string) error
}

// ServiceCatalog resolves a (service name, region) pair to the endpoint URL
// a worker should call. Implementations may cache aggressively; callers
// should expect NoEndpointError for an unregistered pair rather than a
// transport error.
type ServiceCatalog interface {
	Endpoint(ctx context.Context, serviceName, region string) (string, error)
}

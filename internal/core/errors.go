package core

import (
	"errors"
	"fmt"
)

// ErrResourceNotFound is the sentinel a ComputeClient or LoadBalancerClient
// implementation wraps when the provider reports a resource (server, LB
// node) is already gone — a 404 in the REST backends. The worker's undo
// and verified-delete logic treat it as success rather than failure, since
// "already gone" is the desired end state either way.
var ErrResourceNotFound = errors.New("resource not found")

// NoSuchScalingGroupError is returned when a (tenant_id, group_id) pair does
// not resolve to a live row, including the tombstone-resurrection case.
type NoSuchScalingGroupError struct {
	TenantID string
	GroupID  string
}

func (e *NoSuchScalingGroupError) Error() string {
	return fmt.Sprintf("no such scaling group: tenant=%s group=%s", e.TenantID, e.GroupID)
}

// NoSuchPolicyError is returned when a policy id does not resolve within its
// owning group.
type NoSuchPolicyError struct {
	TenantID string
	GroupID  string
	PolicyID string
}

func (e *NoSuchPolicyError) Error() string {
	return fmt.Sprintf("no such policy: tenant=%s group=%s policy=%s", e.TenantID, e.GroupID, e.PolicyID)
}

// NoSuchWebhookError is returned when a webhook id does not resolve within
// its owning policy.
type NoSuchWebhookError struct {
	TenantID  string
	GroupID   string
	PolicyID  string
	WebhookID string
}

func (e *NoSuchWebhookError) Error() string {
	return fmt.Sprintf("no such webhook: tenant=%s group=%s policy=%s webhook=%s",
		e.TenantID, e.GroupID, e.PolicyID, e.WebhookID)
}

// UnrecognizedCapabilityError is returned when a capability hash has no
// matching entry in the secondary index.
type UnrecognizedCapabilityError struct {
	Hash string
}

func (e *UnrecognizedCapabilityError) Error() string {
	return fmt.Sprintf("unrecognized capability hash %q", e.Hash)
}

// GroupNotEmptyError is returned by delete_group when the group still has
// active or pending entities.
type GroupNotEmptyError struct {
	TenantID string
	GroupID  string
	Active   int
	Pending  int
}

func (e *GroupNotEmptyError) Error() string {
	return fmt.Sprintf("scaling group %s/%s is not empty: active=%d pending=%d",
		e.TenantID, e.GroupID, e.Active, e.Pending)
}

// ValidationError is returned for invariant violations in user-submitted
// data, such as an attempt to change a policy's type after creation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

// CannotExecutePolicyReason enumerates why the Controller refused to execute
// a policy. Each is a normal, expected outcome rather than a bug.
type CannotExecutePolicyReason string

const (
	ReasonPaused         CannotExecutePolicyReason = "paused"
	ReasonGroupCooldown  CannotExecutePolicyReason = "group_cooldown"
	ReasonPolicyCooldown CannotExecutePolicyReason = "policy_cooldown"
	ReasonAtLimit        CannotExecutePolicyReason = "at_limit"
)

// CannotExecutePolicyError is returned when a policy execution is refused
// for a transient or capacity reason; it is swallowed by the Scheduler and
// surfaced as 403 to direct API callers.
type CannotExecutePolicyError struct {
	Reason CannotExecutePolicyReason
}

func (e *CannotExecutePolicyError) Error() string {
	return fmt.Sprintf("cannot execute policy: %s", e.Reason)
}

// BusyLockError is returned when a lock could not be acquired after
// exhausting its configured retries.
type BusyLockError struct {
	Resource string
}

func (e *BusyLockError) Error() string {
	return fmt.Sprintf("lock busy: %s", e.Resource)
}

// UnexpectedServerStatusError is a terminal error raised by the launch
// worker's poll-for-ACTIVE state machine when a server lands in a status
// other than BUILD or ACTIVE.
type UnexpectedServerStatusError struct {
	ServerID       string
	Status         string
	ExpectedStatus string
}

func (e *UnexpectedServerStatusError) Error() string {
	return fmt.Sprintf("expected %s to have status %s, has %s", e.ServerID, e.ExpectedStatus, e.Status)
}

// NoEndpointError is returned when the service catalog has no endpoint for
// a (service, region) pair.
type NoEndpointError struct {
	ServiceName string
	Region      string
}

func (e *NoEndpointError) Error() string {
	return fmt.Sprintf("no endpoint for service %q in region %q", e.ServiceName, e.Region)
}

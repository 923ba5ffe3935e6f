// Package core defines the domain model shared by every component of the
// autoscaling control plane: scaling groups, policies, webhooks, schedule
// events, and the pure data that flows between the Store, the ScalingGroup
// facade, the Controller, the Scheduler, and the Worker.
//
// This package is deliberately free of I/O. It has no database driver, no
// HTTP client, and no lock implementation — only the shapes those components
// agree on.
package core

import "time"

// PolicyType distinguishes a webhook-triggered policy from a time-triggered one.
type PolicyType string

const (
	PolicyTypeWebhook  PolicyType = "webhook"
	PolicyTypeSchedule PolicyType = "schedule"
)

// GroupConfig is the declarative configuration of a scaling group.
type GroupConfig struct {
	Name         string            `json:"name"`
	CooldownSecs int               `json:"cooldown"`
	MinEntities  int               `json:"min_entities"`
	MaxEntities  int               `json:"max_entities"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ServerTemplate is the Nova-style server body a launch config stamps out.
type ServerTemplate struct {
	Name     string            `json:"name,omitempty"`
	ImageRef string            `json:"imageRef"`
	FlavorRef string           `json:"flavorRef"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// LoadBalancerSpec describes one load balancer a launched server should be
// registered with.
type LoadBalancerSpec struct {
	LoadBalancerID string            `json:"loadBalancerId"`
	Port           int               `json:"port"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// LaunchConfig is the recipe for creating one instance and attaching it to
// load balancers.
type LaunchConfig struct {
	Server        ServerTemplate     `json:"server"`
	LoadBalancers []LoadBalancerSpec `json:"loadBalancers,omitempty"`
}

// LBMembership records that a server has been attached to a load balancer as
// a specific node, so the membership can later be torn down.
type LBMembership struct {
	LoadBalancerID string `json:"loadBalancerId"`
	NodeID         string `json:"nodeId"`
}

// ActiveServer is a server the control plane believes is running.
type ActiveServer struct {
	CreatedAt     time.Time      `json:"created_at"`
	IPAddress     string         `json:"ip_address"`
	LBMemberships []LBMembership `json:"lb_memberships,omitempty"`
}

// GroupState is the mutable, frequently-rewritten half of a scaling group's
// row: everything `modify_state` reads and writes in a single pass.
type GroupState struct {
	TenantID      string                  `json:"-"`
	GroupID       string                  `json:"-"`
	Active        map[string]ActiveServer `json:"active"`
	Pending       map[string]time.Time    `json:"pending"`
	GroupTouched  time.Time               `json:"group_touched"`
	PolicyTouched map[string]time.Time    `json:"policy_touched"`
	Paused        bool                    `json:"paused"`
}

// EntityCount is the total number of servers the group currently accounts
// for, running or in flight.
func (s GroupState) EntityCount() int {
	return len(s.Active) + len(s.Pending)
}

// Clone returns a deep copy of the state, so a Controller function can
// mutate its return value without aliasing the caller's maps.
func (s GroupState) Clone() GroupState {
	out := GroupState{
		TenantID:     s.TenantID,
		GroupID:      s.GroupID,
		GroupTouched: s.GroupTouched,
		Paused:       s.Paused,
		Active:       make(map[string]ActiveServer, len(s.Active)),
		Pending:      make(map[string]time.Time, len(s.Pending)),
		PolicyTouched: make(map[string]time.Time, len(s.PolicyTouched)),
	}
	for k, v := range s.Active {
		memberships := make([]LBMembership, len(v.LBMemberships))
		copy(memberships, v.LBMemberships)
		v.LBMemberships = memberships
		out.Active[k] = v
	}
	for k, v := range s.Pending {
		out.Pending[k] = v
	}
	for k, v := range s.PolicyTouched {
		out.PolicyTouched[k] = v
	}
	return out
}

// ScalingGroup is the identity and immutable configuration of a tenant-owned
// pool of compute instances.
type ScalingGroup struct {
	TenantID     string       `json:"tenant_id"`
	GroupID      string       `json:"group_id"`
	GroupConfig  GroupConfig  `json:"group_config"`
	LaunchConfig LaunchConfig `json:"launch_config"`
	CreatedAt    time.Time    `json:"created_at"`
}

// PolicyAdjustment holds exactly one of the three ways a policy changes
// capacity. Exactly one field is non-nil.
type PolicyAdjustment struct {
	Change          *int     `json:"change,omitempty"`
	ChangePercent   *float64 `json:"change_percent,omitempty"`
	DesiredCapacity *int     `json:"desired_capacity,omitempty"`
}

// ScheduleArgs carries either a one-shot timestamp or a recurring cron
// expression for a schedule-type policy. Exactly one is set.
type ScheduleArgs struct {
	At   *time.Time `json:"at,omitempty"`
	Cron *string    `json:"cron,omitempty"`
}

// Policy is a named capacity-change rule.
type Policy struct {
	TenantID   string           `json:"tenant_id"`
	GroupID    string           `json:"group_id"`
	PolicyID   string           `json:"policy_id"`
	Name       string           `json:"name"`
	CooldownSecs int            `json:"cooldown"`
	Type       PolicyType       `json:"type"`
	Adjustment PolicyAdjustment `json:"-"`
	Schedule   *ScheduleArgs    `json:"args,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// WebhookCapability is the opaque, anonymous credential that authorizes
// executing a policy via its capability URL.
type WebhookCapability struct {
	Version int    `json:"version"`
	Hash    string `json:"hash"`
}

// Webhook is an anonymous-capability URL bound to one policy.
type Webhook struct {
	TenantID   string            `json:"tenant_id"`
	GroupID    string            `json:"group_id"`
	PolicyID   string            `json:"policy_id"`
	WebhookID  string            `json:"webhook_id"`
	Name       string            `json:"name"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Capability WebhookCapability `json:"capability"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ScheduleEvent is a single future firing of a schedule policy.
type ScheduleEvent struct {
	TenantID string     `json:"tenant_id"`
	GroupID  string     `json:"group_id"`
	PolicyID string     `json:"policy_id"`
	Trigger  time.Time  `json:"trigger"`
	Cron     *string    `json:"cron,omitempty"`
}

// IsRecurring reports whether this event should be rescheduled (cron) rather
// than deleted (one-shot) after it fires.
func (e ScheduleEvent) IsRecurring() bool {
	return e.Cron != nil && *e.Cron != ""
}

// Page is a keyset pagination cursor: callers pass the last id seen as
// Marker and get back at most Limit rows in ascending primary-key order.
type Page struct {
	Limit  int
	Marker string
}

// TenantCounts is a per-tenant summary used by the admin metrics surface.
type TenantCounts struct {
	Groups   int
	Policies int
	Webhooks int
	Active   int
	Pending  int
}

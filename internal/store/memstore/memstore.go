// Package memstore is an in-memory implementation of core.Store, used by
// unit tests of the group facade, controller, scheduler, and worker so they
// do not need a real database. Unlike a mock, it enforces the same
// read-before-write and tombstone-resurrection rules a real backend would.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/scalepilot/autoscale/internal/core"
)

type groupKey struct {
	tenantID string
	groupID  string
}

type policyKey struct {
	groupKey
	policyID string
}

type webhookKey struct {
	policyKey
	webhookID string
}

// groupRow tracks a scaling group the way a single wide-column row would:
// identity columns alongside the mutable state columns, with CreatedAt
// serving as the tombstone marker. A row with a zero CreatedAt is absent in
// every way that matters even if its map entry still exists.
type groupRow struct {
	group core.ScalingGroup
	state core.GroupState
}

// Store is a thread-safe, in-memory core.Store.
type Store struct {
	mu        sync.RWMutex
	groups    map[groupKey]*groupRow
	policies  map[policyKey]core.Policy
	webhooks  map[webhookKey]core.Webhook
	byHash    map[string]webhookKey
	events    map[policyKey]core.ScheduleEvent
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		groups:   make(map[groupKey]*groupRow),
		policies: make(map[policyKey]core.Policy),
		webhooks: make(map[webhookKey]core.Webhook),
		byHash:   make(map[string]webhookKey),
		events:   make(map[policyKey]core.ScheduleEvent),
	}
}

func (s *Store) CreateGroup(ctx context.Context, group core.ScalingGroup, state core.GroupState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := groupKey{group.TenantID, group.GroupID}
	state.TenantID = group.TenantID
	state.GroupID = group.GroupID
	s.groups[k] = &groupRow{group: group, state: state.Clone()}
	return nil
}

// liveRow returns the row for k, performing the tombstone-resurrection
// check: a present row whose CreatedAt is the zero value is purged and
// treated as absent, exactly as a real backend treats a row with no
// created_at column set.
func (s *Store) liveRow(k groupKey) (*groupRow, bool) {
	row, ok := s.groups[k]
	if !ok {
		return nil, false
	}
	if row.group.CreatedAt.IsZero() {
		delete(s.groups, k)
		return nil, false
	}
	return row, true
}

func (s *Store) ViewManifest(ctx context.Context, tenantID, groupID string) (core.ScalingGroup, core.GroupState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.liveRow(groupKey{tenantID, groupID})
	if !ok {
		return core.ScalingGroup{}, core.GroupState{}, &core.NoSuchScalingGroupError{TenantID: tenantID, GroupID: groupID}
	}
	return row.group, row.state.Clone(), nil
}

func (s *Store) ViewConfig(ctx context.Context, tenantID, groupID string) (core.GroupConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.liveRow(groupKey{tenantID, groupID})
	if !ok {
		return core.GroupConfig{}, &core.NoSuchScalingGroupError{TenantID: tenantID, GroupID: groupID}
	}
	return row.group.GroupConfig, nil
}

func (s *Store) ViewLaunchConfig(ctx context.Context, tenantID, groupID string) (core.LaunchConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.liveRow(groupKey{tenantID, groupID})
	if !ok {
		return core.LaunchConfig{}, &core.NoSuchScalingGroupError{TenantID: tenantID, GroupID: groupID}
	}
	return row.group.LaunchConfig, nil
}

func (s *Store) ViewState(ctx context.Context, tenantID, groupID string) (core.GroupState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.liveRow(groupKey{tenantID, groupID})
	if !ok {
		return core.GroupState{}, &core.NoSuchScalingGroupError{TenantID: tenantID, GroupID: groupID}
	}
	return row.state.Clone(), nil
}

func (s *Store) UpdateConfig(ctx context.Context, tenantID, groupID string, cfg core.GroupConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.liveRow(groupKey{tenantID, groupID})
	if !ok {
		return &core.NoSuchScalingGroupError{TenantID: tenantID, GroupID: groupID}
	}
	row.group.GroupConfig = cfg
	return nil
}

func (s *Store) UpdateLaunchConfig(ctx context.Context, tenantID, groupID string, cfg core.LaunchConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.liveRow(groupKey{tenantID, groupID})
	if !ok {
		return &core.NoSuchScalingGroupError{TenantID: tenantID, GroupID: groupID}
	}
	row.group.LaunchConfig = cfg
	return nil
}

func (s *Store) UpdateState(ctx context.Context, state core.GroupState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := groupKey{state.TenantID, state.GroupID}
	row, ok := s.liveRow(k)
	if !ok {
		return &core.NoSuchScalingGroupError{TenantID: state.TenantID, GroupID: state.GroupID}
	}
	row.state = state.Clone()
	return nil
}

func (s *Store) DeleteGroup(ctx context.Context, tenantID, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := groupKey{tenantID, groupID}
	if _, ok := s.liveRow(k); !ok {
		return &core.NoSuchScalingGroupError{TenantID: tenantID, GroupID: groupID}
	}
	delete(s.groups, k)
	for pk := range s.policies {
		if pk.groupKey == k {
			delete(s.policies, pk)
		}
	}
	for wk := range s.webhooks {
		if wk.groupKey == k {
			delete(s.webhooks, wk)
			delete(s.byHash, wk.webhookID)
		}
	}
	for ek := range s.events {
		if ek.groupKey == k {
			delete(s.events, ek)
		}
	}
	return nil
}

func (s *Store) ListPolicies(ctx context.Context, tenantID, groupID string, page core.Page) ([]core.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []core.Policy
	for k, p := range s.policies {
		if k.tenantID == tenantID && k.groupID == groupID {
			all = append(all, p)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].PolicyID < all[j].PolicyID })
	return paginatePolicies(all, page), nil
}

func paginatePolicies(all []core.Policy, page core.Page) []core.Policy {
	start := 0
	if page.Marker != "" {
		for i, p := range all {
			if p.PolicyID > page.Marker {
				start = i
				break
			}
			start = i + 1
		}
	}
	if start >= len(all) {
		return nil
	}
	end := len(all)
	if page.Limit > 0 && start+page.Limit < end {
		end = start + page.Limit
	}
	out := make([]core.Policy, end-start)
	copy(out, all[start:end])
	return out
}

func (s *Store) GetPolicy(ctx context.Context, tenantID, groupID, policyID string) (core.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[policyKey{groupKey{tenantID, groupID}, policyID}]
	if !ok {
		return core.Policy{}, &core.NoSuchPolicyError{TenantID: tenantID, GroupID: groupID, PolicyID: policyID}
	}
	return p, nil
}

func (s *Store) CreatePolicies(ctx context.Context, policies []core.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range policies {
		s.policies[policyKey{groupKey{p.TenantID, p.GroupID}, p.PolicyID}] = p
	}
	return nil
}

func (s *Store) UpdatePolicy(ctx context.Context, policy core.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := policyKey{groupKey{policy.TenantID, policy.GroupID}, policy.PolicyID}
	if _, ok := s.policies[k]; !ok {
		return &core.NoSuchPolicyError{TenantID: policy.TenantID, GroupID: policy.GroupID, PolicyID: policy.PolicyID}
	}
	s.policies[k] = policy
	return nil
}

func (s *Store) DeletePolicy(ctx context.Context, tenantID, groupID, policyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := policyKey{groupKey{tenantID, groupID}, policyID}
	if _, ok := s.policies[k]; !ok {
		return &core.NoSuchPolicyError{TenantID: tenantID, GroupID: groupID, PolicyID: policyID}
	}
	delete(s.policies, k)
	delete(s.events, k)
	for wk := range s.webhooks {
		if wk.policyKey == k {
			delete(s.webhooks, wk)
			delete(s.byHash, wk.webhookID)
		}
	}
	return nil
}

func (s *Store) ListWebhooks(ctx context.Context, tenantID, groupID, policyID string, page core.Page) ([]core.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []core.Webhook
	pk := policyKey{groupKey{tenantID, groupID}, policyID}
	for k, w := range s.webhooks {
		if k.policyKey == pk {
			all = append(all, w)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].WebhookID < all[j].WebhookID })

	start := 0
	if page.Marker != "" {
		for i, w := range all {
			if w.WebhookID > page.Marker {
				start = i
				break
			}
			start = i + 1
		}
	}
	if start >= len(all) {
		return nil, nil
	}
	end := len(all)
	if page.Limit > 0 && start+page.Limit < end {
		end = start + page.Limit
	}
	out := make([]core.Webhook, end-start)
	copy(out, all[start:end])
	return out, nil
}

func (s *Store) GetWebhook(ctx context.Context, tenantID, groupID, policyID, webhookID string) (core.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k := webhookKey{policyKey{groupKey{tenantID, groupID}, policyID}, webhookID}
	w, ok := s.webhooks[k]
	if !ok {
		return core.Webhook{}, &core.NoSuchWebhookError{TenantID: tenantID, GroupID: groupID, PolicyID: policyID, WebhookID: webhookID}
	}
	return w, nil
}

func (s *Store) CreateWebhooks(ctx context.Context, webhooks []core.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range webhooks {
		k := webhookKey{policyKey{groupKey{w.TenantID, w.GroupID}, w.PolicyID}, w.WebhookID}
		s.webhooks[k] = w
		s.byHash[w.Capability.Hash] = k
	}
	return nil
}

func (s *Store) UpdateWebhook(ctx context.Context, webhook core.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := webhookKey{policyKey{groupKey{webhook.TenantID, webhook.GroupID}, webhook.PolicyID}, webhook.WebhookID}
	old, ok := s.webhooks[k]
	if !ok {
		return &core.NoSuchWebhookError{TenantID: webhook.TenantID, GroupID: webhook.GroupID, PolicyID: webhook.PolicyID, WebhookID: webhook.WebhookID}
	}
	if old.Capability.Hash != webhook.Capability.Hash {
		delete(s.byHash, old.Capability.Hash)
	}
	s.webhooks[k] = webhook
	s.byHash[webhook.Capability.Hash] = k
	return nil
}

func (s *Store) DeleteWebhook(ctx context.Context, tenantID, groupID, policyID, webhookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := webhookKey{policyKey{groupKey{tenantID, groupID}, policyID}, webhookID}
	w, ok := s.webhooks[k]
	if !ok {
		return &core.NoSuchWebhookError{TenantID: tenantID, GroupID: groupID, PolicyID: policyID, WebhookID: webhookID}
	}
	delete(s.webhooks, k)
	delete(s.byHash, w.Capability.Hash)
	return nil
}

func (s *Store) ResolveCapability(ctx context.Context, hash string) (core.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.byHash[hash]
	if !ok {
		return core.Webhook{}, &core.UnrecognizedCapabilityError{Hash: hash}
	}
	return s.webhooks[k], nil
}

func (s *Store) UpsertScheduleEvent(ctx context.Context, event core.ScheduleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := policyKey{groupKey{event.TenantID, event.GroupID}, event.PolicyID}
	s.events[k] = event
	return nil
}

func (s *Store) DeleteScheduleEvent(ctx context.Context, tenantID, groupID, policyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, policyKey{groupKey{tenantID, groupID}, policyID})
	return nil
}

func (s *Store) FetchDueEvents(ctx context.Context, now time.Time, batchSize int) ([]core.ScheduleEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []core.ScheduleEvent
	for _, e := range s.events {
		if !e.Trigger.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Trigger.Before(due[j].Trigger) })
	if batchSize > 0 && len(due) > batchSize {
		due = due[:batchSize]
	}
	return due, nil
}

func (s *Store) UpdateDueEvents(ctx context.Context, toDelete []core.ScheduleEvent, toUpdate []core.ScheduleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range toDelete {
		delete(s.events, policyKey{groupKey{e.TenantID, e.GroupID}, e.PolicyID})
	}
	for _, e := range toUpdate {
		s.events[policyKey{groupKey{e.TenantID, e.GroupID}, e.PolicyID}] = e
	}
	return nil
}

func (s *Store) TenantCounts(ctx context.Context, tenantID string) (core.TenantCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out core.TenantCounts
	for k, row := range s.groups {
		if k.tenantID != tenantID || row.group.CreatedAt.IsZero() {
			continue
		}
		out.Groups++
		out.Active += len(row.state.Active)
		out.Pending += len(row.state.Pending)
	}
	for k := range s.policies {
		if k.tenantID == tenantID {
			out.Policies++
		}
	}
	for k := range s.webhooks {
		if k.tenantID == tenantID {
			out.Webhooks++
		}
	}
	return out, nil
}

// GlobalCounts is the admin-metrics collector's one entry point: row counts
// across every tenant, matching CassAdmin.get_metrics's table-wide scope
// rather than TenantCounts's per-tenant one.
func (s *Store) GlobalCounts(ctx context.Context) (core.TenantCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out core.TenantCounts
	for _, row := range s.groups {
		if row.group.CreatedAt.IsZero() {
			continue
		}
		out.Groups++
		out.Active += len(row.state.Active)
		out.Pending += len(row.state.Pending)
	}
	out.Policies = len(s.policies)
	out.Webhooks = len(s.webhooks)
	return out, nil
}

func (s *Store) Health(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

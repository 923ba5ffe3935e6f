package memstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalepilot/autoscale/internal/core"
	"github.com/scalepilot/autoscale/internal/store/memstore"
)

func newTestGroup(tenantID, groupID string) core.ScalingGroup {
	return core.ScalingGroup{
		TenantID: tenantID,
		GroupID:  groupID,
		GroupConfig: core.GroupConfig{
			Name:        "web-servers",
			MinEntities: 1,
			MaxEntities: 10,
		},
		CreatedAt: time.Now(),
	}
}

func TestCreateAndViewManifest(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	group := newTestGroup("t1", "g1")
	require.NoError(t, s.CreateGroup(ctx, group, core.GroupState{}))

	got, state, err := s.ViewManifest(ctx, "t1", "g1")
	require.NoError(t, err)
	assert.Equal(t, "web-servers", got.GroupConfig.Name)
	assert.Equal(t, 0, state.EntityCount())
}

func TestViewManifest_NotFound(t *testing.T) {
	s := memstore.New()
	_, _, err := s.ViewManifest(context.Background(), "t1", "missing")

	var notFound *core.NoSuchScalingGroupError
	require.True(t, errors.As(err, &notFound))
}

func TestDeleteGroup_TombstoneResurrection(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	group := newTestGroup("t1", "g1")
	require.NoError(t, s.CreateGroup(ctx, group, core.GroupState{}))
	require.NoError(t, s.DeleteGroup(ctx, "t1", "g1"))

	_, err := s.ViewState(ctx, "t1", "g1")
	var notFound *core.NoSuchScalingGroupError
	require.True(t, errors.As(err, &notFound))

	// Re-creating under the same id must start from a clean state, not
	// inherit anything a dangling tombstone row left behind.
	require.NoError(t, s.CreateGroup(ctx, group, core.GroupState{}))
	state, err := s.ViewState(ctx, "t1", "g1")
	require.NoError(t, err)
	assert.Equal(t, 0, state.EntityCount())
}

func TestUpdateState_RoundTrips(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	group := newTestGroup("t1", "g1")
	require.NoError(t, s.CreateGroup(ctx, group, core.GroupState{}))

	state, err := s.ViewState(ctx, "t1", "g1")
	require.NoError(t, err)
	state.Active = map[string]core.ActiveServer{
		"srv-1": {CreatedAt: time.Now(), IPAddress: "10.0.0.1"},
	}
	require.NoError(t, s.UpdateState(ctx, state))

	got, err := s.ViewState(ctx, "t1", "g1")
	require.NoError(t, err)
	assert.Len(t, got.Active, 1)
}

func TestCapabilityResolution(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	wh := core.Webhook{
		TenantID: "t1", GroupID: "g1", PolicyID: "p1", WebhookID: "w1",
		Capability: core.WebhookCapability{Version: 1, Hash: "abc123"},
	}
	require.NoError(t, s.CreateWebhooks(ctx, []core.Webhook{wh}))

	got, err := s.ResolveCapability(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.PolicyID)

	_, err = s.ResolveCapability(ctx, "does-not-exist")
	var unrecognized *core.UnrecognizedCapabilityError
	require.True(t, errors.As(err, &unrecognized))
}

func TestFetchDueEvents_OrderedAndBatched(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"p3", "p1", "p2"} {
		require.NoError(t, s.UpsertScheduleEvent(ctx, core.ScheduleEvent{
			TenantID: "t1", GroupID: "g1", PolicyID: id,
			Trigger: now.Add(-time.Duration(10-i) * time.Minute),
		}))
	}
	// one not-yet-due event must not be returned
	require.NoError(t, s.UpsertScheduleEvent(ctx, core.ScheduleEvent{
		TenantID: "t1", GroupID: "g1", PolicyID: "future",
		Trigger: now.Add(time.Hour),
	}))

	due, err := s.FetchDueEvents(ctx, now, 2)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.True(t, due[0].Trigger.Before(due[1].Trigger))
}

func TestUpdateDueEvents_DeleteAndReschedule(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	now := time.Now()

	oneShot := core.ScheduleEvent{TenantID: "t1", GroupID: "g1", PolicyID: "p1", Trigger: now}
	cronStr := "*/5 * * * *"
	recurring := core.ScheduleEvent{TenantID: "t1", GroupID: "g1", PolicyID: "p2", Trigger: now, Cron: &cronStr}

	require.NoError(t, s.UpsertScheduleEvent(ctx, oneShot))
	require.NoError(t, s.UpsertScheduleEvent(ctx, recurring))

	nextFire := now.Add(5 * time.Minute)
	recurring.Trigger = nextFire
	require.NoError(t, s.UpdateDueEvents(ctx, []core.ScheduleEvent{oneShot}, []core.ScheduleEvent{recurring}))

	due, err := s.FetchDueEvents(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = s.FetchDueEvents(ctx, nextFire, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "p2", due[0].PolicyID)
}

func TestListPolicies_KeysetPagination(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	policies := make([]core.Policy, 0, 5)
	for _, id := range []string{"p1", "p2", "p3", "p4", "p5"} {
		policies = append(policies, core.Policy{TenantID: "t1", GroupID: "g1", PolicyID: id})
	}
	require.NoError(t, s.CreatePolicies(ctx, policies))

	first, err := s.ListPolicies(ctx, "t1", "g1", core.Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "p1", first[0].PolicyID)
	assert.Equal(t, "p2", first[1].PolicyID)

	second, err := s.ListPolicies(ctx, "t1", "g1", core.Page{Limit: 2, Marker: first[len(first)-1].PolicyID})
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, "p3", second[0].PolicyID)
	assert.Equal(t, "p4", second[1].PolicyID)
}

func TestTenantCounts(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	require.NoError(t, s.CreateGroup(ctx, newTestGroup("t1", "g1"), core.GroupState{
		Active:  map[string]core.ActiveServer{"srv-1": {}},
		Pending: map[string]time.Time{"srv-2": time.Now()},
	}))
	require.NoError(t, s.CreatePolicies(ctx, []core.Policy{{TenantID: "t1", GroupID: "g1", PolicyID: "p1"}}))
	require.NoError(t, s.CreateWebhooks(ctx, []core.Webhook{{TenantID: "t1", GroupID: "g1", PolicyID: "p1", WebhookID: "w1"}}))

	counts, err := s.TenantCounts(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Groups)
	assert.Equal(t, 1, counts.Policies)
	assert.Equal(t, 1, counts.Webhooks)
	assert.Equal(t, 1, counts.Active)
	assert.Equal(t, 1, counts.Pending)
}

func TestDeleteGroup_CascadesPoliciesWebhooksEvents(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	require.NoError(t, s.CreateGroup(ctx, newTestGroup("t1", "g1"), core.GroupState{}))
	require.NoError(t, s.CreatePolicies(ctx, []core.Policy{{TenantID: "t1", GroupID: "g1", PolicyID: "p1"}}))
	require.NoError(t, s.CreateWebhooks(ctx, []core.Webhook{{TenantID: "t1", GroupID: "g1", PolicyID: "p1", WebhookID: "w1", Capability: core.WebhookCapability{Hash: "h1"}}}))
	require.NoError(t, s.UpsertScheduleEvent(ctx, core.ScheduleEvent{TenantID: "t1", GroupID: "g1", PolicyID: "p1", Trigger: time.Now()}))

	require.NoError(t, s.DeleteGroup(ctx, "t1", "g1"))

	policies, err := s.ListPolicies(ctx, "t1", "g1", core.Page{})
	require.NoError(t, err)
	assert.Empty(t, policies)

	_, err = s.ResolveCapability(ctx, "h1")
	var unrecognized *core.UnrecognizedCapabilityError
	require.True(t, errors.As(err, &unrecognized))

	due, err := s.FetchDueEvents(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/scalepilot/autoscale/internal/core"
	"github.com/scalepilot/autoscale/internal/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "autoscale.db")

	require.NoError(t, goose.SetDialect("sqlite3"))
	db, err := goose.OpenDBWithDriver("sqlite", path)
	require.NoError(t, err)
	require.NoError(t, goose.Up(db, "../../../migrations/sqlite"))
	require.NoError(t, db.Close())

	store, err := sqlite.New(ctx, path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestGroup() (core.ScalingGroup, core.GroupState) {
	group := core.ScalingGroup{
		TenantID:  "t1",
		GroupID:   "g1",
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		GroupConfig: core.GroupConfig{
			Name:        "web",
			MinEntities: 1,
			MaxEntities: 5,
		},
		LaunchConfig: core.LaunchConfig{
			Server: core.ServerTemplate{ImageRef: "img-1", FlavorRef: "flavor-1"},
		},
	}
	state := core.GroupState{
		TenantID:      "t1",
		GroupID:       "g1",
		Active:        map[string]core.ActiveServer{},
		Pending:       map[string]time.Time{},
		PolicyTouched: map[string]time.Time{},
	}
	return group, state
}

func TestStore_CreateAndViewManifest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	group, state := newTestGroup()
	require.NoError(t, store.CreateGroup(ctx, group, state))

	got, gotState, err := store.ViewManifest(ctx, "t1", "g1")
	require.NoError(t, err)
	require.Equal(t, "web", got.GroupConfig.Name)
	require.True(t, got.CreatedAt.Equal(group.CreatedAt))
	require.Equal(t, 0, gotState.EntityCount())
}

func TestStore_ViewManifest_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, _, err := store.ViewManifest(context.Background(), "t1", "missing")
	var notFound *core.NoSuchScalingGroupError
	require.ErrorAs(t, err, &notFound)
}

func TestStore_DeleteGroupCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	group, state := newTestGroup()
	require.NoError(t, store.CreateGroup(ctx, group, state))

	change := 1
	require.NoError(t, store.CreatePolicies(ctx, []core.Policy{{
		TenantID: "t1", GroupID: "g1", PolicyID: "p1", Name: "scale-up",
		Type: core.PolicyTypeWebhook, Adjustment: core.PolicyAdjustment{Change: &change},
		CreatedAt: time.Now().UTC(),
	}}))

	require.NoError(t, store.DeleteGroup(ctx, "t1", "g1"))

	_, err := store.GetPolicy(ctx, "t1", "g1", "p1")
	var notFound *core.NoSuchPolicyError
	require.ErrorAs(t, err, &notFound)
}

func TestStore_ResolveCapability(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	group, state := newTestGroup()
	require.NoError(t, store.CreateGroup(ctx, group, state))

	change := 1
	require.NoError(t, store.CreatePolicies(ctx, []core.Policy{{
		TenantID: "t1", GroupID: "g1", PolicyID: "p1", Name: "scale-up",
		Type: core.PolicyTypeWebhook, Adjustment: core.PolicyAdjustment{Change: &change},
		CreatedAt: time.Now().UTC(),
	}}))
	require.NoError(t, store.CreateWebhooks(ctx, []core.Webhook{{
		TenantID: "t1", GroupID: "g1", PolicyID: "p1", WebhookID: "w1", Name: "hook-1",
		Capability: core.WebhookCapability{Version: 1, Hash: "cap-hash-1"},
		CreatedAt:  time.Now().UTC(),
	}}))

	resolved, err := store.ResolveCapability(ctx, "cap-hash-1")
	require.NoError(t, err)
	require.Equal(t, "p1", resolved.PolicyID)
}

func TestStore_FetchAndUpdateDueEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	group, state := newTestGroup()
	require.NoError(t, store.CreateGroup(ctx, group, state))

	change := 1
	require.NoError(t, store.CreatePolicies(ctx, []core.Policy{{
		TenantID: "t1", GroupID: "g1", PolicyID: "p1", Name: "nightly",
		Type: core.PolicyTypeSchedule, Adjustment: core.PolicyAdjustment{Change: &change},
		CreatedAt: time.Now().UTC(),
	}}))

	due := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, store.UpsertScheduleEvent(ctx, core.ScheduleEvent{
		TenantID: "t1", GroupID: "g1", PolicyID: "p1", Trigger: due,
	}))

	events, err := store.FetchDueEvents(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	require.NoError(t, store.UpdateDueEvents(ctx, events, nil))

	events, err = store.FetchDueEvents(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestStore_LockRowStaleTakeover(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ok, err := store.TryAcquireRow(ctx, "schedule", "replica-a", time.Now().Add(time.Millisecond))
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(10 * time.Millisecond)

	ok, err = store.TryAcquireRow(ctx, "schedule", "replica-b", time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.ReleaseRow(ctx, "schedule", "replica-b"))
}

func TestStore_TenantCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	group, state := newTestGroup()
	state.Active["srv-1"] = core.ActiveServer{CreatedAt: time.Now().UTC()}
	require.NoError(t, store.CreateGroup(ctx, group, state))

	change := 1
	require.NoError(t, store.CreatePolicies(ctx, []core.Policy{{
		TenantID: "t1", GroupID: "g1", PolicyID: "p1", Name: "scale-up",
		Type: core.PolicyTypeWebhook, Adjustment: core.PolicyAdjustment{Change: &change},
		CreatedAt: time.Now().UTC(),
	}}))

	counts, err := store.TenantCounts(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 1, counts.Groups)
	require.Equal(t, 1, counts.Policies)
	require.Equal(t, 1, counts.Active)
}

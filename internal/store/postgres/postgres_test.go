//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/scalepilot/autoscale/internal/core"
	"github.com/scalepilot/autoscale/internal/store/postgres"
)

// newTestStore starts a disposable Postgres container, runs the goose
// migrations against it, and returns a connected Store. Integration-only:
// requires Docker, so it is excluded from the default test run.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("autoscale_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	goose.SetBaseFS(nil)
	require.NoError(t, goose.SetDialect("postgres"))
	db, err := goose.OpenDBWithDriver("pgx", dsn)
	require.NoError(t, err)
	require.NoError(t, goose.Up(db, "../../../migrations/postgres"))
	require.NoError(t, db.Close())

	store, err := postgres.New(ctx, postgres.Config{DSN: dsn}, nil)
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
	require.Equal(t, 0, gotState.EntityCount())
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

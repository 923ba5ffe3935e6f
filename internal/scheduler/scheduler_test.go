package scheduler_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	k8sclock "k8s.io/utils/clock"
	faketesting "k8s.io/utils/clock/testing"

	"github.com/scalepilot/autoscale/internal/clockutil"
	"github.com/scalepilot/autoscale/internal/controller"
	"github.com/scalepilot/autoscale/internal/core"
	"github.com/scalepilot/autoscale/internal/group"
	"github.com/scalepilot/autoscale/internal/scheduler"
	"github.com/scalepilot/autoscale/internal/store/memstore"
)

// fakeLock is a minimal in-memory core.LockService, mirroring the fakeRowStore
// pattern in internal/lock/dblock_test.go but implementing the service
// interface directly so scheduler tests don't need a real RowStore.
type fakeLock struct {
	mu     sync.Mutex
	owner  map[string]string
	until  map[string]time.Time
	clock  k8sclock.PassiveClock
}

func newFakeLock(clock k8sclock.PassiveClock) *fakeLock {
	return &fakeLock{owner: map[string]string{}, until: map[string]time.Time{}, clock: clock}
}

func (f *fakeLock) Acquire(ctx context.Context, resource, owner string, ttl time.Duration, maxRetries int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if until, held := f.until[resource]; held && f.clock.Now().Before(until) {
		return &core.BusyLockError{Resource: resource}
	}
	f.owner[resource] = owner
	f.until[resource] = f.clock.Now().Add(ttl)
	return nil
}

func (f *fakeLock) Release(ctx context.Context, resource, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owner[resource] != owner {
		return nil
	}
	delete(f.owner, resource)
	delete(f.until, resource)
	return nil
}

// fakeDispatcher records every job handed to it instead of calling a worker.
type fakeDispatcher struct {
	mu      sync.Mutex
	launches int
	deletes  int
}

func (d *fakeDispatcher) DispatchLaunch(ctx context.Context, tenantID, groupID string, cfg core.LaunchConfig, jobs []controller.LaunchJob) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.launches += len(jobs)
}

func (d *fakeDispatcher) DispatchDelete(ctx context.Context, tenantID, groupID string, cfg core.LaunchConfig, jobs []controller.DeleteJob) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deletes += len(jobs)
}

func sequentialJobIDs() controller.NewJobID {
	n := 0
	return func() string {
		n++
		return "job-" + time.Now().String() + "-" + string(rune('a'+n))
	}
}

func newTestGroup(t *testing.T, store core.Store, lockSvc core.LockService, tenantID, groupID string, min, max int) *group.Group {
	t.Helper()
	g := group.New(store, lockSvc, slog.New(slog.DiscardHandler))
	_, err := g.Create(context.Background(), groupID, group.CreateGroupRequest{
		TenantID: tenantID,
		GroupConfig: core.GroupConfig{
			Name:        "web",
			MinEntities: min,
			MaxEntities: max,
		},
		LaunchConfig: core.LaunchConfig{
			Server: core.ServerTemplate{ImageRef: "img", FlavorRef: "flavor"},
		},
	})
	require.NoError(t, err)
	return g
}

func TestScheduler_DrainExecutesDueEventAndDeletesOneShot(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	fc := faketesting.NewFakeClock(time.Now())
	lockSvc := newFakeLock(fc)
	clock := clockutil.Wrap(fc)

	g := newTestGroup(t, store, lockSvc, "t1", "g1", 0, 5)
	change := 2
	at := fc.Now().Add(-time.Minute)
	policy, err := g.CreatePolicy(ctx, "t1", "g1", group.CreatePolicyRequest{
		Name: "nightly", Type: core.PolicyTypeSchedule,
		Adjustment: core.PolicyAdjustment{Change: &change},
		Schedule:   &core.ScheduleArgs{At: &at},
	})
	require.NoError(t, err)

	require.NoError(t, store.UpsertScheduleEvent(ctx, core.ScheduleEvent{
		TenantID: "t1", GroupID: "g1", PolicyID: policy.PolicyID,
		Trigger: fc.Now().Add(-time.Minute),
	}))

	dispatcher := &fakeDispatcher{}
	runner := controller.NewRunner(g, dispatcher, clock, sequentialJobIDs(), nil, nil)
	sched := scheduler.New(store, lockSvc, runner, clock, 10, time.Hour, slog.New(slog.DiscardHandler), nil)

	sched.Start(ctx)
	t.Cleanup(sched.Stop)

	require.Eventually(t, func() bool {
		state, err := store.ViewState(ctx, "t1", "g1")
		require.NoError(t, err)
		return state.EntityCount() == 2
	}, time.Second, 5*time.Millisecond)

	events, err := store.FetchDueEvents(ctx, fc.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, events, "one-shot event should be deleted after firing")

	assert.Equal(t, 2, dispatcher.launches)
}

func TestScheduler_RecurringEventRescheduledNotDeleted(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	fc := faketesting.NewFakeClock(time.Now())
	lockSvc := newFakeLock(fc)
	clock := clockutil.Wrap(fc)

	g := newTestGroup(t, store, lockSvc, "t1", "g1", 0, 5)
	change := 1
	cronExpr := "0 0 * * *"
	policy, err := g.CreatePolicy(ctx, "t1", "g1", group.CreatePolicyRequest{
		Name: "daily", Type: core.PolicyTypeSchedule,
		Adjustment: core.PolicyAdjustment{Change: &change},
		Schedule:   &core.ScheduleArgs{Cron: &cronExpr},
	})
	require.NoError(t, err)

	due := fc.Now().Add(-time.Minute)
	require.NoError(t, store.UpsertScheduleEvent(ctx, core.ScheduleEvent{
		TenantID: "t1", GroupID: "g1", PolicyID: policy.PolicyID,
		Trigger: due, Cron: &cronExpr,
	}))

	dispatcher := &fakeDispatcher{}
	runner := controller.NewRunner(g, dispatcher, clock, sequentialJobIDs(), nil, nil)
	sched := scheduler.New(store, lockSvc, runner, clock, 10, time.Hour, slog.New(slog.DiscardHandler), nil)

	sched.Start(ctx)
	t.Cleanup(sched.Stop)

	require.Eventually(t, func() bool {
		events, err := store.FetchDueEvents(ctx, fc.Now().Add(48*time.Hour), 10)
		require.NoError(t, err)
		if len(events) != 1 {
			return false
		}
		return events[0].Trigger.After(due)
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_StalePolicyEventIsDropped(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	fc := faketesting.NewFakeClock(time.Now())
	lockSvc := newFakeLock(fc)
	clock := clockutil.Wrap(fc)

	g := newTestGroup(t, store, lockSvc, "t1", "g1", 0, 5)

	require.NoError(t, store.UpsertScheduleEvent(ctx, core.ScheduleEvent{
		TenantID: "t1", GroupID: "g1", PolicyID: "gone",
		Trigger: fc.Now().Add(-time.Minute),
	}))

	dispatcher := &fakeDispatcher{}
	runner := controller.NewRunner(g, dispatcher, clock, sequentialJobIDs(), nil, nil)
	sched := scheduler.New(store, lockSvc, runner, clock, 10, time.Hour, slog.New(slog.DiscardHandler), nil)

	sched.Start(ctx)
	t.Cleanup(sched.Stop)

	require.Eventually(t, func() bool {
		events, err := store.FetchDueEvents(ctx, fc.Now().Add(time.Hour), 10)
		require.NoError(t, err)
		return len(events) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_LockBusySkipsTick(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	fc := faketesting.NewFakeClock(time.Now())
	lockSvc := newFakeLock(fc)
	clock := clockutil.Wrap(fc)

	g := newTestGroup(t, store, lockSvc, "t1", "g1", 0, 5)
	change := 1
	at := fc.Now().Add(-time.Minute)
	policy, err := g.CreatePolicy(ctx, "t1", "g1", group.CreatePolicyRequest{
		Name: "once", Type: core.PolicyTypeSchedule,
		Adjustment: core.PolicyAdjustment{Change: &change},
		Schedule:   &core.ScheduleArgs{At: &at},
	})
	require.NoError(t, err)
	require.NoError(t, store.UpsertScheduleEvent(ctx, core.ScheduleEvent{
		TenantID: "t1", GroupID: "g1", PolicyID: policy.PolicyID,
		Trigger: fc.Now().Add(-time.Minute),
	}))

	require.NoError(t, lockSvc.Acquire(ctx, "schedule", "other-replica", time.Minute, 0))

	dispatcher := &fakeDispatcher{}
	runner := controller.NewRunner(g, dispatcher, clock, sequentialJobIDs(), nil, nil)
	sched := scheduler.New(store, lockSvc, runner, clock, 10, 10*time.Millisecond, slog.New(slog.DiscardHandler), nil)

	sched.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	sched.Stop()

	events, err := store.FetchDueEvents(ctx, fc.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, events, 1, "event should still be due: the lock held by another replica must have blocked every tick")
	assert.Equal(t, 0, dispatcher.launches)
}

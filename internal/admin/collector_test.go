package admin_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	faketesting "k8s.io/utils/clock/testing"

	"github.com/scalepilot/autoscale/internal/admin"
	"github.com/scalepilot/autoscale/internal/clockutil"
	"github.com/scalepilot/autoscale/internal/core"
	"github.com/scalepilot/autoscale/internal/group"
	"github.com/scalepilot/autoscale/internal/store/memstore"
	"github.com/scalepilot/autoscale/pkg/metrics"
)

func TestCollector_PublishesGlobalCounts(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	fc := faketesting.NewFakeClock(time.Now())
	clock := clockutil.Wrap(fc)

	g := group.New(store, noLock{}, slog.New(slog.DiscardHandler))
	_, err := g.Create(ctx, "g1", group.CreateGroupRequest{
		TenantID:    "t1",
		GroupConfig: core.GroupConfig{Name: "g1", MinEntities: 0, MaxEntities: 5, CooldownSecs: 60},
		LaunchConfig: core.LaunchConfig{
			Server: core.ServerTemplate{ImageRef: "img", FlavorRef: "flavor"},
		},
	})
	require.NoError(t, err)

	change := 1
	_, err = g.CreatePolicy(ctx, "t1", "g1", group.CreatePolicyRequest{
		Name: "p1", Type: core.PolicyTypeWebhook,
		Adjustment: core.PolicyAdjustment{Change: &change},
	})
	require.NoError(t, err)

	m := metrics.NewAdminMetrics("test_admin_collector")
	c := admin.New(store, clock, time.Hour, slog.New(slog.DiscardHandler), m)

	c.Start(ctx)
	t.Cleanup(c.Stop)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.GroupsTotal) == 1 && testutil.ToFloat64(m.PoliciesTotal) == 1
	}, time.Second, 5*time.Millisecond)
}

// noLock is a no-op core.LockService: collector tests exercise the store
// read path only, not the modify_state lock protocol.
type noLock struct{}

func (noLock) Acquire(ctx context.Context, resource, owner string, ttl time.Duration, maxRetries int) error {
	return nil
}
func (noLock) Release(ctx context.Context, resource, owner string) error { return nil }

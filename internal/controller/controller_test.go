package controller_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalepilot/autoscale/internal/controller"
	"github.com/scalepilot/autoscale/internal/core"
)

func sequentialJobIDs() controller.NewJobID {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("job-%d", n)
	}
}

func emptyState() core.GroupState {
	return core.GroupState{
		TenantID:      "t1",
		GroupID:       "g1",
		Active:        map[string]core.ActiveServer{},
		Pending:       map[string]time.Time{},
		PolicyTouched: map[string]time.Time{},
	}
}

func TestExecute_ChangeSchedulesLaunches(t *testing.T) {
	cfg := core.GroupConfig{MinEntities: 0, MaxEntities: 10}
	change := 3
	policy := core.Policy{PolicyID: "p1", Adjustment: core.PolicyAdjustment{Change: &change}}

	decision, err := controller.Execute(cfg, policy, emptyState(), time.Now(), sequentialJobIDs())
	require.NoError(t, err)
	assert.Len(t, decision.Launch, 3)
	assert.Len(t, decision.State.Pending, 3)
}

func TestExecute_ChangePercentTruncatesTowardZero(t *testing.T) {
	cfg := core.GroupConfig{MinEntities: 0, MaxEntities: 100}
	percent := -50.0
	policy := core.Policy{PolicyID: "p1", Adjustment: core.PolicyAdjustment{ChangePercent: &percent}}

	state := emptyState()
	state.Active = map[string]core.ActiveServer{
		"s1": {CreatedAt: time.Unix(1, 0)},
	}
	// current=1, percent=-50 -> -0.5 truncated toward zero is 0, so target stays 1: at_limit.
	_, err := controller.Execute(cfg, policy, state, time.Now(), sequentialJobIDs())
	var cannotExecute *core.CannotExecutePolicyError
	require.ErrorAs(t, err, &cannotExecute)
	assert.Equal(t, core.ReasonAtLimit, cannotExecute.Reason)
}

func TestExecute_DesiredCapacityClampsToMax(t *testing.T) {
	cfg := core.GroupConfig{MinEntities: 0, MaxEntities: 5}
	desired := 20
	policy := core.Policy{PolicyID: "p1", Adjustment: core.PolicyAdjustment{DesiredCapacity: &desired}}

	decision, err := controller.Execute(cfg, policy, emptyState(), time.Now(), sequentialJobIDs())
	require.NoError(t, err)
	assert.Len(t, decision.Launch, 5)
}

func TestExecute_AtLimitWhenClampEqualsCurrent(t *testing.T) {
	cfg := core.GroupConfig{MinEntities: 0, MaxEntities: 2}
	desired := 50
	policy := core.Policy{PolicyID: "p1", Adjustment: core.PolicyAdjustment{DesiredCapacity: &desired}}

	state := emptyState()
	state.Active = map[string]core.ActiveServer{
		"s1": {CreatedAt: time.Now()},
		"s2": {CreatedAt: time.Now()},
	}

	_, err := controller.Execute(cfg, policy, state, time.Now(), sequentialJobIDs())
	var cannotExecute *core.CannotExecutePolicyError
	require.ErrorAs(t, err, &cannotExecute)
	assert.Equal(t, core.ReasonAtLimit, cannotExecute.Reason)
}

func TestExecute_PausedGroupRefuses(t *testing.T) {
	cfg := core.GroupConfig{MinEntities: 0, MaxEntities: 10}
	change := 1
	policy := core.Policy{PolicyID: "p1", Adjustment: core.PolicyAdjustment{Change: &change}}

	state := emptyState()
	state.Paused = true

	_, err := controller.Execute(cfg, policy, state, time.Now(), sequentialJobIDs())
	var cannotExecute *core.CannotExecutePolicyError
	require.ErrorAs(t, err, &cannotExecute)
	assert.Equal(t, core.ReasonPaused, cannotExecute.Reason)
}

func TestExecute_PolicyCooldownBlocks(t *testing.T) {
	cfg := core.GroupConfig{MinEntities: 0, MaxEntities: 10}
	change := 1
	policy := core.Policy{PolicyID: "p1", CooldownSecs: 300, Adjustment: core.PolicyAdjustment{Change: &change}}

	now := time.Now()
	state := emptyState()
	state.PolicyTouched["p1"] = now.Add(-1 * time.Minute)

	_, err := controller.Execute(cfg, policy, state, now, sequentialJobIDs())
	var cannotExecute *core.CannotExecutePolicyError
	require.ErrorAs(t, err, &cannotExecute)
	assert.Equal(t, core.ReasonPolicyCooldown, cannotExecute.Reason)
}

func TestExecute_GroupCooldownBlocks(t *testing.T) {
	cfg := core.GroupConfig{MinEntities: 0, MaxEntities: 10, CooldownSecs: 300}
	change := 1
	policy := core.Policy{PolicyID: "p1", Adjustment: core.PolicyAdjustment{Change: &change}}

	now := time.Now()
	state := emptyState()
	state.GroupTouched = now.Add(-1 * time.Minute)

	_, err := controller.Execute(cfg, policy, state, now, sequentialJobIDs())
	var cannotExecute *core.CannotExecutePolicyError
	require.ErrorAs(t, err, &cannotExecute)
	assert.Equal(t, core.ReasonGroupCooldown, cannotExecute.Reason)
}

func TestExecute_DeleteSelectsOldestFirstThenLexicographicID(t *testing.T) {
	cfg := core.GroupConfig{MinEntities: 0, MaxEntities: 10}
	change := -2
	policy := core.Policy{PolicyID: "p1", Adjustment: core.PolicyAdjustment{Change: &change}}

	base := time.Now()
	state := emptyState()
	state.Active = map[string]core.ActiveServer{
		"b-newer": {CreatedAt: base.Add(time.Minute)},
		"a-tied":  {CreatedAt: base},
		"z-tied":  {CreatedAt: base},
	}

	decision, err := controller.Execute(cfg, policy, state, base.Add(time.Hour), sequentialJobIDs())
	require.NoError(t, err)
	require.Len(t, decision.Delete, 2)
	assert.Equal(t, "a-tied", decision.Delete[0].ServerID)
	assert.Equal(t, "z-tied", decision.Delete[1].ServerID)
	assert.Len(t, decision.State.Active, 1)
	_, stillActive := decision.State.Active["b-newer"]
	assert.True(t, stillActive)
}

func TestExecute_TouchesGroupAndPolicyTimestamps(t *testing.T) {
	cfg := core.GroupConfig{MinEntities: 0, MaxEntities: 10}
	change := 1
	policy := core.Policy{PolicyID: "p1", Adjustment: core.PolicyAdjustment{Change: &change}}

	now := time.Now()
	decision, err := controller.Execute(cfg, policy, emptyState(), now, sequentialJobIDs())
	require.NoError(t, err)
	assert.True(t, decision.State.GroupTouched.Equal(now))
	assert.True(t, decision.State.PolicyTouched["p1"].Equal(now))
}

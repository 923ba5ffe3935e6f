// Package controller implements maybe_execute_scaling_policy: the pure
// decision function that turns a policy firing into a capacity change. It
// touches no I/O of its own — callers load the policy and the group's
// current config/state, call Execute, and re-enter group.ModifyState with
// the function this package returns.
package controller

import (
	"math"
	"sort"
	"time"

	"github.com/scalepilot/autoscale/internal/core"
)

// LaunchJob is one server the caller must hand to the launch worker after
// modify_state commits.
type LaunchJob struct {
	JobID string
}

// DeleteJob is one active server the caller must hand to the delete worker
// after modify_state commits.
type DeleteJob struct {
	ServerID      string
	LBMemberships []core.LBMembership
}

// Decision is the outcome of one Execute call: the new state to commit via
// modify_state, plus the jobs the worker must be dispatched afterward.
type Decision struct {
	State   core.GroupState
	Launch  []LaunchJob
	Delete  []DeleteJob
}

// NewJobID is the id generator Execute uses for jobs it schedules. Tests
// substitute a deterministic one; production wires google/uuid.
type NewJobID func() string

// Execute applies the spec's capacity decision for policy against the
// group's config and current state, observed at now. It returns
// *CannotExecutePolicyError for every refusal that is a normal outcome
// (paused, on cooldown, already at the clamped limit) rather than a bug.
func Execute(cfg core.GroupConfig, policy core.Policy, state core.GroupState, now time.Time, newJobID NewJobID) (Decision, error) {
	if state.Paused {
		return Decision{}, &core.CannotExecutePolicyError{Reason: core.ReasonPaused}
	}

	if touched, ok := state.PolicyTouched[policy.PolicyID]; ok {
		if now.Sub(touched) < time.Duration(policy.CooldownSecs)*time.Second {
			return Decision{}, &core.CannotExecutePolicyError{Reason: core.ReasonPolicyCooldown}
		}
	}
	if now.Sub(state.GroupTouched) < time.Duration(cfg.CooldownSecs)*time.Second {
		return Decision{}, &core.CannotExecutePolicyError{Reason: core.ReasonGroupCooldown}
	}

	current := state.EntityCount()
	target := computeTarget(current, policy.Adjustment)
	target = clamp(target, cfg.MinEntities, cfg.MaxEntities)

	if target == current {
		return Decision{}, &core.CannotExecutePolicyError{Reason: core.ReasonAtLimit}
	}

	next := state.Clone()
	var decision Decision

	diff := target - current
	switch {
	case diff > 0:
		for i := 0; i < diff; i++ {
			jobID := newJobID()
			next.Pending[jobID] = now
			decision.Launch = append(decision.Launch, LaunchJob{JobID: jobID})
		}
	case diff < 0:
		victims := selectDeletionVictims(next.Active, -diff)
		for _, id := range victims {
			decision.Delete = append(decision.Delete, DeleteJob{
				ServerID:      id,
				LBMemberships: next.Active[id].LBMemberships,
			})
			delete(next.Active, id)
		}
	}

	next.GroupTouched = now
	next.PolicyTouched[policy.PolicyID] = now
	decision.State = next
	return decision, nil
}

// computeTarget implements spec.md §4.5 step 4. change_percent truncates
// toward zero (not floor), so a shrink-by-percent on a small group never
// rounds away from zero into a larger cut than requested.
func computeTarget(current int, adj core.PolicyAdjustment) int {
	switch {
	case adj.Change != nil:
		return current + *adj.Change
	case adj.ChangePercent != nil:
		delta := math.Trunc(float64(current) * *adj.ChangePercent / 100)
		return current + int(delta)
	case adj.DesiredCapacity != nil:
		return *adj.DesiredCapacity
	default:
		return current
	}
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// selectDeletionVictims picks n servers to delete: oldest CreatedAt first,
// ties broken by lexicographically smaller id, exactly as spec.md §4.5
// step 6 requires.
func selectDeletionVictims(active map[string]core.ActiveServer, n int) []string {
	ids := make([]string, 0, len(active))
	for id := range active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := active[ids[i]], active[ids[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return ids[i] < ids[j]
	})
	if n > len(ids) {
		n = len(ids)
	}
	return ids[:n]
}

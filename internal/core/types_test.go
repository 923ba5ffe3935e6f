package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalepilot/autoscale/internal/core"
)

func TestGroupState_EntityCount(t *testing.T) {
	s := core.GroupState{
		Active: map[string]core.ActiveServer{
			"srv-1": {},
			"srv-2": {},
		},
		Pending: map[string]time.Time{
			"srv-3": time.Now(),
		},
	}
	assert.Equal(t, 3, s.EntityCount())
}

func TestGroupState_EntityCount_Empty(t *testing.T) {
	var s core.GroupState
	assert.Equal(t, 0, s.EntityCount())
}

func TestGroupState_Clone_DeepCopiesMaps(t *testing.T) {
	touched := time.Now()
	orig := core.GroupState{
		TenantID:     "t1",
		GroupID:      "g1",
		GroupTouched: touched,
		Paused:       true,
		Active: map[string]core.ActiveServer{
			"srv-1": {
				IPAddress: "10.0.0.1",
				LBMemberships: []core.LBMembership{
					{LoadBalancerID: "lb-1", NodeID: "node-1"},
				},
			},
		},
		Pending: map[string]time.Time{
			"srv-2": touched,
		},
		PolicyTouched: map[string]time.Time{
			"policy-1": touched,
		},
	}

	clone := orig.Clone()

	require.Equal(t, orig.TenantID, clone.TenantID)
	require.Equal(t, orig.GroupID, clone.GroupID)
	require.Equal(t, orig.Paused, clone.Paused)
	assert.Equal(t, orig.Active, clone.Active)
	assert.Equal(t, orig.Pending, clone.Pending)
	assert.Equal(t, orig.PolicyTouched, clone.PolicyTouched)

	// Mutating the clone's maps and nested slices must not reach the original.
	clone.Active["srv-1"] = core.ActiveServer{IPAddress: "changed"}
	clone.Pending["srv-2"] = touched.Add(time.Hour)
	clone.PolicyTouched["policy-1"] = touched.Add(time.Hour)

	assert.Equal(t, "10.0.0.1", orig.Active["srv-1"].IPAddress)
	assert.Equal(t, touched, orig.Pending["srv-2"])
	assert.Equal(t, touched, orig.PolicyTouched["policy-1"])

	clone2 := orig.Clone()
	clone2.Active["srv-1"] = core.ActiveServer{
		LBMemberships: append(clone2.Active["srv-1"].LBMemberships, core.LBMembership{NodeID: "node-2"}),
	}
	assert.Len(t, orig.Active["srv-1"].LBMemberships, 1)
}

func TestGroupState_Clone_EmptySourceMaps(t *testing.T) {
	var orig core.GroupState
	clone := orig.Clone()

	assert.NotNil(t, clone.Active)
	assert.NotNil(t, clone.Pending)
	assert.NotNil(t, clone.PolicyTouched)
	assert.Equal(t, 0, clone.EntityCount())
}

func TestScheduleEvent_IsRecurring(t *testing.T) {
	cron := "*/5 * * * *"
	empty := ""

	cases := []struct {
		name string
		ev   core.ScheduleEvent
		want bool
	}{
		{"nil cron is one-shot", core.ScheduleEvent{}, false},
		{"empty cron is one-shot", core.ScheduleEvent{Cron: &empty}, false},
		{"non-empty cron is recurring", core.ScheduleEvent{Cron: &cron}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.ev.IsRecurring())
		})
	}
}

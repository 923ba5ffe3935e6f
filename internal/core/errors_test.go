package core_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scalepilot/autoscale/internal/core"
)

func TestErrors_MessagesIncludeIdentifyingFields(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			"NoSuchScalingGroupError",
			&core.NoSuchScalingGroupError{TenantID: "t1", GroupID: "g1"},
			"no such scaling group: tenant=t1 group=g1",
		},
		{
			"NoSuchPolicyError",
			&core.NoSuchPolicyError{TenantID: "t1", GroupID: "g1", PolicyID: "p1"},
			"no such policy: tenant=t1 group=g1 policy=p1",
		},
		{
			"NoSuchWebhookError",
			&core.NoSuchWebhookError{TenantID: "t1", GroupID: "g1", PolicyID: "p1", WebhookID: "w1"},
			"no such webhook: tenant=t1 group=g1 policy=p1 webhook=w1",
		},
		{
			"UnrecognizedCapabilityError",
			&core.UnrecognizedCapabilityError{Hash: "abc123"},
			`unrecognized capability hash "abc123"`,
		},
		{
			"GroupNotEmptyError",
			&core.GroupNotEmptyError{TenantID: "t1", GroupID: "g1", Active: 2, Pending: 1},
			"scaling group t1/g1 is not empty: active=2 pending=1",
		},
		{
			"ValidationError",
			&core.ValidationError{Field: "type", Reason: "cannot change after creation"},
			"validation error: type: cannot change after creation",
		},
		{
			"CannotExecutePolicyError",
			&core.CannotExecutePolicyError{Reason: core.ReasonAtLimit},
			"cannot execute policy: at_limit",
		},
		{
			"BusyLockError",
			&core.BusyLockError{Resource: "group:t1:g1"},
			"lock busy: group:t1:g1",
		},
		{
			"UnexpectedServerStatusError",
			&core.UnexpectedServerStatusError{ServerID: "srv-1", Status: "ERROR", ExpectedStatus: "ACTIVE"},
			"expected srv-1 to have status ACTIVE, has ERROR",
		},
		{
			"NoEndpointError",
			&core.NoEndpointError{ServiceName: "compute", Region: "RegionOne"},
			`no endpoint for service "compute" in region "RegionOne"`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Error())
		})
	}
}

func TestErrors_AreErrorsAsCompatible(t *testing.T) {
	wrapped := fmt.Errorf("while executing: %w", &core.CannotExecutePolicyError{Reason: core.ReasonPaused})

	var target *core.CannotExecutePolicyError
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, core.ReasonPaused, target.Reason)
}

func TestErrResourceNotFound_IsASentinel(t *testing.T) {
	wrapped := fmt.Errorf("delete server: %w", core.ErrResourceNotFound)
	assert.True(t, errors.Is(wrapped, core.ErrResourceNotFound))
}

func TestCannotExecutePolicyReason_Values(t *testing.T) {
	assert.Equal(t, core.CannotExecutePolicyReason("paused"), core.ReasonPaused)
	assert.Equal(t, core.CannotExecutePolicyReason("group_cooldown"), core.ReasonGroupCooldown)
	assert.Equal(t, core.CannotExecutePolicyReason("policy_cooldown"), core.ReasonPolicyCooldown)
	assert.Equal(t, core.CannotExecutePolicyReason("at_limit"), core.ReasonAtLimit)
}

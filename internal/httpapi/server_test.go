package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalepilot/autoscale/internal/controller"
	"github.com/scalepilot/autoscale/internal/core"
)

// fakeGroupService is a minimal GroupService test double: just the
// capability lookup the anonymous execute endpoint needs.
type fakeGroupService struct {
	webhooks map[string]core.Webhook
}

func newFakeGroupService() *fakeGroupService {
	return &fakeGroupService{webhooks: map[string]core.Webhook{}}
}

func (f *fakeGroupService) ResolveCapability(ctx context.Context, hash string) (core.Webhook, error) {
	for _, wh := range f.webhooks {
		if wh.Capability.Hash == hash {
			return wh, nil
		}
	}
	return core.Webhook{}, &core.UnrecognizedCapabilityError{Hash: hash}
}

// fakeRunner is a PolicyRunner test double.
type fakeRunner struct {
	decision controller.Decision
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, tenantID, groupID, policyID string) (controller.Decision, error) {
	return f.decision, f.err
}

func newTestServer(groups *fakeGroupService, runner PolicyRunner) *Server {
	return New(Config{Groups: groups, Runner: runner})
}

func TestServer_ExecutePolicy(t *testing.T) {
	groups := newFakeGroupService()
	runner := &fakeRunner{decision: controller.Decision{
		Launch: []controller.LaunchJob{{JobID: "job-1"}},
	}}
	s := newTestServer(groups, runner)
	router := s.Router()

	req := httptest.NewRequest(http.MethodPost, "/v1/tenants/t1/groups/g1/policies/p1/execute", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ExecutePolicyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.LaunchCount)
}

func TestServer_ExecutePolicy_Refused(t *testing.T) {
	groups := newFakeGroupService()
	runner := &fakeRunner{err: &core.CannotExecutePolicyError{Reason: core.ReasonGroupCooldown}}
	s := newTestServer(groups, runner)
	router := s.Router()

	req := httptest.NewRequest(http.MethodPost, "/v1/tenants/t1/groups/g1/policies/p1/execute", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_ExecuteCapability(t *testing.T) {
	groups := newFakeGroupService()
	groups.webhooks["w1"] = core.Webhook{
		TenantID: "t1", GroupID: "g1", PolicyID: "p1", WebhookID: "w1",
		Capability: core.WebhookCapability{Version: 1, Hash: "abc123"},
	}
	runner := &fakeRunner{decision: controller.Decision{Delete: []controller.DeleteJob{{ServerID: "s1"}}}}
	s := newTestServer(groups, runner)
	router := s.Router()

	req := httptest.NewRequest(http.MethodPost, "/v1/execute/abc123", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ExecutePolicyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.DeleteCount)
}

func TestServer_ExecuteCapability_Unrecognized(t *testing.T) {
	groups := newFakeGroupService()
	s := newTestServer(groups, &fakeRunner{})
	router := s.Router()

	req := httptest.NewRequest(http.MethodPost, "/v1/execute/no-such-hash", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Healthz(t *testing.T) {
	groups := newFakeGroupService()
	s := newTestServer(groups, &fakeRunner{})
	router := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

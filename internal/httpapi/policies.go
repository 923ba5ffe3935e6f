package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

// ExecutePolicyResponse reports the job counts a direct policy execution
// produced, mirroring what the capability-execute endpoint returns.
type ExecutePolicyResponse struct {
	LaunchCount int `json:"launch_count"`
	DeleteCount int `json:"delete_count"`
}

// executePolicy handles a direct, authenticated execution request: the
// "user-originated execution" path the data-flow note describes as entering
// the Controller straight through ScalingGroup.modify_state, bypassing the
// anonymous capability URL a webhook caller would use instead. Provisioning
// the group/policy/webhook this acts on is an external collaborator's job
// (spec.md's Out-of-scope REST/JSON CRUD surface); this repo only consumes
// the ids already issued for them.
func (s *Server) executePolicy(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tenantID, groupID, policyID := vars["tenantID"], vars["groupID"], vars["policyID"]

	decision, err := s.runner.Run(r.Context(), tenantID, groupID, policyID)
	if err != nil {
		if s.metrics != nil {
			s.metrics.CapabilityExecTotal.WithLabelValues(execOutcome(err)).Inc()
		}
		handleDomainError(w, s.logger, err)
		return
	}
	if s.metrics != nil {
		s.metrics.CapabilityExecTotal.WithLabelValues("executed").Inc()
	}
	sendJSON(w, s.logger, ExecutePolicyResponse{
		LaunchCount: len(decision.Launch),
		DeleteCount: len(decision.Delete),
	}, http.StatusOK)
}

func execOutcome(err error) string {
	status := statusFor(err)
	switch status {
	case http.StatusForbidden:
		return "refused"
	case http.StatusNotFound:
		return "not_found"
	default:
		return "error"
	}
}

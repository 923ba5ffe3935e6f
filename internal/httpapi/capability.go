package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

// executeCapability handles the anonymous capability URL: POST
// /v1/execute/{hash}. No tenant, group, or policy id appears in the path —
// the hash alone resolves to the owning webhook via the capability secondary
// index, which is the whole point of an anonymous-capability URL. Issuing
// that webhook (and its capability hash) in the first place is an external
// collaborator's job; this repo only resolves and executes against it.
func (s *Server) executeCapability(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]

	if !s.capLimiter.allow(hash) {
		if s.metrics != nil {
			s.metrics.CapabilityExecTotal.WithLabelValues("rate_limited").Inc()
		}
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	webhook, err := s.groups.ResolveCapability(r.Context(), hash)
	if err != nil {
		if s.metrics != nil {
			s.metrics.CapabilityExecTotal.WithLabelValues("not_found").Inc()
		}
		handleDomainError(w, s.logger, err)
		return
	}

	decision, err := s.runner.Run(r.Context(), webhook.TenantID, webhook.GroupID, webhook.PolicyID)
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

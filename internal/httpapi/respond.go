package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/scalepilot/autoscale/internal/core"
)

// ErrorResponse is the JSON body returned for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func sendJSON(w http.ResponseWriter, logger *slog.Logger, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func sendError(w http.ResponseWriter, logger *slog.Logger, message string, status int) {
	sendJSON(w, logger, ErrorResponse{Error: message}, status)
}

// statusFor maps a domain error to the HTTP status code a client should see.
// Unrecognized errors are treated as internal.
func statusFor(err error) int {
	var notFoundGroup *core.NoSuchScalingGroupError
	var notFoundPolicy *core.NoSuchPolicyError
	var notFoundWebhook *core.NoSuchWebhookError
	var unrecognizedCapability *core.UnrecognizedCapabilityError
	var validation *core.ValidationError
	var notEmpty *core.GroupNotEmptyError
	var cannotExecute *core.CannotExecutePolicyError
	var busy *core.BusyLockError

	switch {
	case errors.As(err, &notFoundGroup), errors.As(err, &notFoundPolicy), errors.As(err, &notFoundWebhook), errors.As(err, &unrecognizedCapability):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notEmpty):
		return http.StatusConflict
	case errors.As(err, &cannotExecute):
		return http.StatusForbidden
	case errors.As(err, &busy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleDomainError writes the appropriate status/body for err, logging it
// at Error when the status is 5xx and at Warn otherwise.
func handleDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status >= 500 {
		logger.Error("request failed", "error", err)
	} else {
		logger.Warn("request refused", "error", err)
	}
	sendError(w, logger, err.Error(), status)
}

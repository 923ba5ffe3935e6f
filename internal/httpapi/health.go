package httpapi

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

func healthHandler(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sendJSON(w, logger, HealthResponse{
			Status:    "ok",
			Service:   "autoscale",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}, http.StatusOK)
	}
}

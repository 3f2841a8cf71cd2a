package handlers

import (
	"net/http"

	"github.com/unihub-app/unihub/backend/internal/realtime"
)

// Feed exposes the connection status surface of the subscription manager.
type Feed interface {
	Status() realtime.Status
	ForceReconnect()
}

// HealthHandler reports server and realtime-connection health.
type HealthHandler struct {
	feed Feed
}

// NewHealthHandler creates a new HealthHandler instance.
func NewHealthHandler(feed Feed) *HealthHandler {
	return &HealthHandler{feed: feed}
}

// healthResponse represents the health check response structure.
type healthResponse struct {
	Status     string          `json:"status"`
	Connection realtime.Status `json:"connection"`
}

// Check handles GET /health
// Returns the server's health status plus the realtime connection state so
// clients can render their connection indicator.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		Connection: h.feed.Status(),
	})
}

// Reconnect handles POST /api/connection/reconnect
// Wired to the UI's manual retry button: resets backoff and re-subscribes
// every open channel.
func (h *HealthHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	h.feed.ForceReconnect()
	writeJSON(w, http.StatusAccepted, h.feed.Status())
}

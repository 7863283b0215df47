package handler

import (
	"net/http"
)

// ConnectionChecker reports whether a backend connection is up.
type ConnectionChecker interface {
	IsConnected() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	backend ConnectionChecker
}

// NewHealthHandler creates a new health handler. backend may be nil when the
// message source has no connection to check.
func NewHealthHandler(backend ConnectionChecker) *HealthHandler {
	return &HealthHandler{backend: backend}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.backend != nil && !h.backend.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "message source not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

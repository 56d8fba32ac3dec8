package handlers

import (
	"net/http"
)

// HealthHandler handles the unauthenticated health endpoints.
type HealthHandler struct {
	cache Cache
}

// NewHealthHandler creates a health handler. cache may be nil while the
// cache is still recovering, in which case readiness fails.
func NewHealthHandler(cache Cache) *HealthHandler {
	return &HealthHandler{cache: cache}
}

// Liveness handles GET /health. It succeeds while the HTTP server responds.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Status: "healthy", Data: map[string]string{"service": "flashcache"}})
}

// Readiness handles GET /health/ready.
//
// Returns 200 OK once the cache is open, with its write mode and whether
// writes are enabled. Returns 503 Service Unavailable otherwise.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeJSON(w, http.StatusServiceUnavailable, Response{Status: "unhealthy", Error: "cache not open"})
		return
	}

	st := h.cache.Status()
	writeJSON(w, http.StatusOK, Response{Status: "healthy", Data: map[string]any{
		"write_mode":   st.WriteModeName,
		"enable_write": st.EnableWrite,
		"source":       st.Recovery.Source,
	}})
}

package http

import (
	"net/http"
	"time"

	"github.com/go-chi/render"

	"licensegate/internal/infrastructure"
)

// HealthHandler answers liveness probes.
type HealthHandler struct {
	startedAt time.Time
}

// NewHealthHandler creates the handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{startedAt: time.Now()}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{
		"status":         "healthy",
		"service":        infrastructure.ServiceName,
		"version":        infrastructure.ServiceVersion,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}

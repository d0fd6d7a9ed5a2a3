package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/render"

	apperrors "licenseapi/internal/errors"
)

// Pinger is the slice of the store the health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness, readiness and version endpoints.
type HealthHandler struct {
	store     Pinger
	version   string
	buildTime string
	startedAt time.Time
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(store Pinger, version, buildTime string) *HealthHandler {
	return &HealthHandler{
		store:     store,
		version:   version,
		buildTime: buildTime,
		startedAt: time.Now(),
	}
}

// HealthResponse is the payload for the health endpoints.
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	UptimeSec int64     `json:"uptime_seconds"`
	Timestamp time.Time `json:"timestamp"`
}

// VersionResponse is the payload for GET /api/version.
type VersionResponse struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time,omitempty"`
}

// Liveness handles GET /api/health. It answers as long as the process runs.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, &HealthResponse{
		Status:    "ok",
		Version:   h.version,
		UptimeSec: int64(time.Since(h.startedAt).Seconds()),
		Timestamp: time.Now().UTC(),
	})
}

// Readiness handles GET /api/health/ready. It fails when the store cannot
// be reached, which takes the instance out of rotation.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		render.Render(w, r, apperrors.NewErrorResponse(apperrors.ErrServiceUnavailable))
		return
	}

	render.JSON(w, r, &HealthResponse{
		Status:    "ready",
		Version:   h.version,
		UptimeSec: int64(time.Since(h.startedAt).Seconds()),
		Timestamp: time.Now().UTC(),
	})
}

// Version handles GET /api/version.
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, &VersionResponse{Version: h.version, BuildTime: h.buildTime})
}

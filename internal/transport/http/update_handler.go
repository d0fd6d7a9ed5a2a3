package http

import (
	"log/slog"
	"net/http"

	"github.com/Masterminds/semver/v3"
	"github.com/go-chi/render"

	"licenseapi/internal/config"
	apperrors "licenseapi/internal/errors"
	"licenseapi/internal/middleware"
)

// UpdateHandler serves the desktop plugin's update manifest. The manifest
// itself comes from configuration; the handler only adds the per-client
// comparison against the caller's installed version.
type UpdateHandler struct {
	manifest config.UpdateConfig
	logger   *slog.Logger
}

// NewUpdateHandler creates the update handler.
func NewUpdateHandler(manifest config.UpdateConfig, logger *slog.Logger) *UpdateHandler {
	return &UpdateHandler{
		manifest: manifest,
		logger:   logger.With(slog.String("handler", "update")),
	}
}

// UpdateCheckResponse tells a client whether a newer build exists and
// whether its installed version is still allowed to run.
type UpdateCheckResponse struct {
	CurrentVersion  string `json:"current_version"`
	MinimumVersion  string `json:"minimum_version"`
	UpdateAvailable bool   `json:"update_available"`
	ForceUpdate     bool   `json:"force_update"`
	CriticalUpdate  bool   `json:"critical_update"`
	ReleaseNotes    string `json:"release_notes,omitempty"`
	DownloadURL     string `json:"download_url,omitempty"`
	ChangelogURL    string `json:"changelog_url,omitempty"`
}

// Check handles GET /api/update/check?version=1.2.3. Without a version
// parameter the manifest is returned with no comparison flags set.
func (h *UpdateHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := &UpdateCheckResponse{
		CurrentVersion: h.manifest.CurrentVersion,
		MinimumVersion: h.manifest.MinimumVersion,
		CriticalUpdate: h.manifest.CriticalUpdate,
		ReleaseNotes:   h.manifest.ReleaseNotes,
		DownloadURL:    h.manifest.DownloadURL,
		ChangelogURL:   h.manifest.ChangelogURL,
	}

	clientVersion := r.URL.Query().Get("version")
	if clientVersion == "" {
		render.JSON(w, r, resp)
		return
	}

	installed, err := semver.NewVersion(clientVersion)
	if err != nil {
		render.Render(w, r, apperrors.NewErrorResponse(
			apperrors.ErrValidation("version", "must be a semantic version like 1.2.3")))
		return
	}

	latest, err := semver.NewVersion(h.manifest.CurrentVersion)
	if err != nil {
		h.logger.ErrorContext(ctx, "configured current version is not valid semver",
			slog.String("request_id", middleware.GetReqID(ctx)),
			slog.String("current_version", h.manifest.CurrentVersion))
		render.Render(w, r, apperrors.NewErrorResponse(apperrors.ErrInternalServer))
		return
	}

	resp.UpdateAvailable = latest.GreaterThan(installed)
	if minimum, err := semver.NewVersion(h.manifest.MinimumVersion); err == nil {
		resp.ForceUpdate = installed.LessThan(minimum)
	}

	render.JSON(w, r, resp)
}

package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "licenseapi/internal/errors"
	"licenseapi/internal/infrastructure"
	"licenseapi/internal/license"
	"licenseapi/internal/middleware"
	"licenseapi/internal/services"
)

// LicenseHandler serves the license lifecycle endpoints.
type LicenseHandler struct {
	service    services.LicenseService
	adminToken string
	logger     *slog.Logger
}

// NewLicenseHandler creates a license handler. adminToken may be empty, in
// which case the revoke action is open (self-hosted deployments).
func NewLicenseHandler(service services.LicenseService, adminToken string, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:    service,
		adminToken: adminToken,
		logger:     logger.With(slog.String("handler", "license")),
	}
}

// ActivateRequest is the payload for POST /api/license/activate.
type ActivateRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	DeviceID   string `json:"device_id" validate:"required"`
	Email      string `json:"email,omitempty" validate:"omitempty,email"`
}

// Bind implements render.Binder.
func (a *ActivateRequest) Bind(r *http.Request) error {
	if err := validate.Struct(a); err != nil {
		return err
	}
	if !license.ValidKeyFormat(a.LicenseKey) {
		return errors.New("invalid license key format, expected ACP-XXXXX-XXXXX-XXXXX-XXXXX")
	}
	return nil
}

// TakeoverRequest is the payload for POST /api/license/takeover.
type TakeoverRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	DeviceID   string `json:"device_id" validate:"required"`
	Confirm    bool   `json:"confirm,omitempty"`
}

// Bind implements render.Binder.
func (t *TakeoverRequest) Bind(r *http.Request) error {
	return validate.Struct(t)
}

// BindingCheckRequest is the payload for POST /api/license/binding-check.
type BindingCheckRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	DeviceID   string `json:"device_id" validate:"required"`
}

// Bind implements render.Binder.
func (b *BindingCheckRequest) Bind(r *http.Request) error {
	return validate.Struct(b)
}

// ManageRequest is the payload for POST /api/license/manage. Action is
// "deactivate" or "revoke"; revoke requires the admin token when configured.
type ManageRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	Action     string `json:"action" validate:"required,oneof=deactivate revoke"`
}

// Bind implements render.Binder.
func (m *ManageRequest) Bind(r *http.Request) error {
	return validate.Struct(m)
}

// IssueRequest is the payload for POST /api/license/issue, the manual
// issuance path used for refund-and-reissue and offline sales. The webhook
// drives the same service operation for gateway confirmations.
type IssueRequest struct {
	PaymentID   string `json:"payment_id" validate:"required"`
	OrderID     string `json:"order_id,omitempty"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	AmountMinor int64  `json:"amount,omitempty"`
	Currency    string `json:"currency,omitempty" validate:"omitempty,len=3"`
	LicenseKey  string `json:"license_key,omitempty"`
}

// Bind implements render.Binder.
func (i *IssueRequest) Bind(r *http.Request) error {
	return validate.Struct(i)
}

// IssueResponse reports the issued license and whether this call created it.
type IssueResponse struct {
	Success    bool       `json:"success"`
	Created    bool       `json:"created"`
	LicenseKey string     `json:"license_key"`
	Status     string     `json:"status"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	TraceID    string     `json:"trace_id"`
}

// LicenseResponse is the success envelope returned by the mutating
// endpoints. It stays minimal: the key is echoed back but the purchaser
// email is not.
type LicenseResponse struct {
	Success     bool       `json:"success"`
	Message     string     `json:"message"`
	LicenseKey  string     `json:"license_key"`
	Status      string     `json:"status"`
	Activations int        `json:"activations"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	TraceID     string     `json:"trace_id"`
	Timestamp   time.Time  `json:"timestamp"`
}

// Routes returns the chi router mounted at /api/license.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/issue", h.Issue)
	r.Post("/activate", h.Activate)
	r.Post("/takeover", h.Takeover)
	r.Post("/binding-check", h.BindingCheck)
	r.Post("/manage", h.Manage)
	r.Get("/verify", h.Verify)

	return r
}

// Issue handles POST /api/license/issue. The endpoint is admin-gated when a
// token is configured; issuance is idempotent on payment_id either way.
func (h *LicenseHandler) Issue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("license-handler")

	ctx, span := tracer.Start(ctx, "license_handler.issue",
		trace.WithAttributes(
			attribute.String("http.route", "/api/license/issue"),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()

	if !h.authorizedAdmin(r) {
		h.logger.WarnContext(ctx, "manual issuance rejected, missing or invalid admin token",
			slog.String("request_id", reqID),
			slog.String("remote_addr", r.RemoteAddr))
		render.Render(w, r, apperrors.NewErrorResponse(apperrors.ErrUnauthorized))
		return
	}

	data := &IssueRequest{}
	if err := render.Bind(r, data); err != nil {
		h.badRequest(w, r, span, err)
		return
	}

	result, err := h.service.Issue(ctx, services.IssueRequest{
		PaymentID:   data.PaymentID,
		OrderID:     data.OrderID,
		Email:       data.Email,
		AmountMinor: data.AmountMinor,
		Currency:    data.Currency,
		LicenseKey:  data.LicenseKey,
	})
	if err != nil {
		span.RecordError(err)
		h.handleError(w, r, err)
		return
	}

	span.SetAttributes(attribute.Bool("license.created", result.Created))
	h.logger.InfoContext(ctx, "manual issuance completed",
		slog.String("request_id", reqID),
		slog.String("payment_id", data.PaymentID),
		slog.Bool("created", result.Created))

	render.JSON(w, r, &IssueResponse{
		Success:    true,
		Created:    result.Created,
		LicenseKey: result.License.LicenseKey,
		Status:     result.License.Status,
		ExpiresAt:  result.License.ExpiresAt,
		TraceID:    reqID,
	})
}

// Activate handles POST /api/license/activate.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("license-handler")

	ctx, span := tracer.Start(ctx, "license_handler.activate",
		trace.WithAttributes(
			attribute.String("http.route", "/api/license/activate"),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()

	data := &ActivateRequest{}
	if err := render.Bind(r, data); err != nil {
		h.badRequest(w, r, span, err)
		return
	}

	span.SetAttributes(attribute.String("license.key_prefix", maskKey(data.LicenseKey)))

	l, err := h.service.Activate(ctx, data.LicenseKey, data.DeviceID, data.Email)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("license.result", "failure"))
		h.handleError(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.String("license.result", "success"),
		attribute.Int("license.activations", l.Activations),
	)

	h.logger.InfoContext(ctx, "activation request completed",
		slog.String("request_id", reqID),
		slog.String("license_key", maskKey(l.LicenseKey)),
		slog.Int("activations", l.Activations))

	render.JSON(w, r, h.licenseResponse(ctx, l, "License activated on this device."))
}

// Takeover handles POST /api/license/takeover. Without confirm the call is
// a dry run: a 409 with the current binding details, never a write.
func (h *LicenseHandler) Takeover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("license-handler")

	ctx, span := tracer.Start(ctx, "license_handler.takeover",
		trace.WithAttributes(
			attribute.String("http.route", "/api/license/takeover"),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()

	data := &TakeoverRequest{}
	if err := render.Bind(r, data); err != nil {
		h.badRequest(w, r, span, err)
		return
	}

	span.SetAttributes(attribute.Bool("takeover.confirm", data.Confirm))

	l, err := h.service.Takeover(ctx, data.LicenseKey, data.DeviceID, data.Confirm)
	if err != nil {
		var conflict *services.DeviceConflictError
		if errors.As(err, &conflict) {
			span.SetAttributes(attribute.String("takeover.result", "conflict"))
			apiErr := apperrors.NewWithDetails(
				http.StatusConflict,
				"DEVICE_CONFLICT",
				"License is bound to another device. Retry with confirm=true to transfer.",
				conflict.Details,
			)
			render.Render(w, r, apperrors.NewErrorResponse(apiErr))
			return
		}
		span.RecordError(err)
		h.handleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "takeover request completed",
		slog.String("request_id", reqID),
		slog.String("license_key", maskKey(l.LicenseKey)),
		slog.Bool("confirm", data.Confirm))

	render.JSON(w, r, h.licenseResponse(ctx, l, "License transferred to this device."))
}

// BindingCheck handles POST /api/license/binding-check. An unknown license
// answers bound=false rather than 404 so clients cannot probe for valid keys.
func (h *LicenseHandler) BindingCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data := &BindingCheckRequest{}
	if err := render.Bind(r, data); err != nil {
		h.badRequest(w, r, nil, err)
		return
	}

	res, err := h.service.BindingCheck(ctx, data.LicenseKey, data.DeviceID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			render.JSON(w, r, &services.BindingCheckResult{})
			return
		}
		h.handleError(w, r, err)
		return
	}

	render.JSON(w, r, res)
}

// Verify handles GET /api/license/verify?license_key=...&device_id=...
// It is a pure read and safe to poll.
func (h *LicenseHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("license-handler")

	ctx, span := tracer.Start(ctx, "license_handler.verify",
		trace.WithAttributes(
			attribute.String("http.route", "/api/license/verify"),
		),
	)
	defer span.End()

	key := r.URL.Query().Get("license_key")
	deviceID := r.URL.Query().Get("device_id")
	if key == "" {
		h.badRequest(w, r, span, errors.New("license_key query parameter is required"))
		return
	}

	res, err := h.service.Verify(ctx, key, deviceID)
	if err != nil {
		span.RecordError(err)
		h.handleError(w, r, err)
		return
	}

	span.SetAttributes(attribute.Bool("license.valid", res.Valid))
	render.JSON(w, r, res)
}

// Manage handles POST /api/license/manage.
func (h *LicenseHandler) Manage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)

	data := &ManageRequest{}
	if err := render.Bind(r, data); err != nil {
		h.badRequest(w, r, nil, err)
		return
	}

	var (
		l   *license.License
		err error
		msg string
	)
	switch data.Action {
	case "revoke":
		if !h.authorizedAdmin(r) {
			h.logger.WarnContext(ctx, "revoke rejected, missing or invalid admin token",
				slog.String("request_id", reqID),
				slog.String("remote_addr", r.RemoteAddr))
			render.Render(w, r, apperrors.NewErrorResponse(apperrors.ErrUnauthorized))
			return
		}
		l, err = h.service.Revoke(ctx, data.LicenseKey)
		msg = "License revoked."
	default:
		l, err = h.service.Deactivate(ctx, data.LicenseKey)
		msg = "License deactivated. The device slot is free."
	}
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "manage request completed",
		slog.String("request_id", reqID),
		slog.String("action", data.Action),
		slog.String("license_key", maskKey(l.LicenseKey)))

	render.JSON(w, r, h.licenseResponse(ctx, l, msg))
}

func (h *LicenseHandler) authorizedAdmin(r *http.Request) bool {
	if h.adminToken == "" {
		return true
	}
	got := r.Header.Get("X-Admin-Token")
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.adminToken)) == 1
}

func (h *LicenseHandler) licenseResponse(ctx context.Context, l *license.License, msg string) *LicenseResponse {
	return &LicenseResponse{
		Success:     true,
		Message:     msg,
		LicenseKey:  l.LicenseKey,
		Status:      l.Status,
		Activations: l.Activations,
		ExpiresAt:   l.ExpiresAt,
		TraceID:     middleware.GetReqID(ctx),
		Timestamp:   time.Now().UTC(),
	}
}

// handleError maps domain errors to HTTP responses.
func (h *LicenseHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)

	apiErr := apperrors.MapDomainError(err)
	h.logger.InfoContext(ctx, "request rejected",
		slog.String("request_id", reqID),
		slog.String("path", r.URL.Path),
		slog.Int("status", apiErr.StatusCode),
		slog.String("error_code", apiErr.ErrorCode),
		slog.String("error", err.Error()))

	render.Render(w, r, apperrors.NewErrorResponse(apiErr))
}

func (h *LicenseHandler) badRequest(w http.ResponseWriter, r *http.Request, span trace.Span, err error) {
	if span != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("error.type", "request_validation"))
	}
	reqID := middleware.GetReqID(r.Context())
	h.logger.WarnContext(r.Context(), "invalid request payload",
		slog.String("request_id", reqID),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()))

	problem := apperrors.NewProblemDetails(
		http.StatusBadRequest,
		"/errors/invalid-request",
		"Invalid Request",
		err.Error(),
		r.URL.Path+"#"+reqID,
	).WithExtension("trace_id", infrastructure.TraceIDFromContext(r.Context()))

	render.Render(w, r, problem)
}

// maskKey redacts the middle of a license key for logs and traces.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

package http

import (
	"context"
	"errors"
	"io"
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
	"licenseapi/internal/payment"
	"licenseapi/internal/services"
)

// maxWebhookBody caps how much of a webhook request we are willing to read.
const maxWebhookBody = 1 << 20

// PaymentsHandler serves the gateway-facing endpoints: order creation for
// checkout and the payment confirmation webhook.
type PaymentsHandler struct {
	service  services.LicenseService
	orders   payment.OrderCreator
	verifier *payment.Verifier
	metrics  *infrastructure.LicenseMetrics
	logger   *slog.Logger
}

// NewPaymentsHandler creates the payments handler. orders may be nil when
// the deployment confirms payments by webhook only.
func NewPaymentsHandler(service services.LicenseService, orders payment.OrderCreator, verifier *payment.Verifier, metrics *infrastructure.LicenseMetrics, logger *slog.Logger) *PaymentsHandler {
	return &PaymentsHandler{
		service:  service,
		orders:   orders,
		verifier: verifier,
		metrics:  metrics,
		logger:   logger.With(slog.String("handler", "payments")),
	}
}

// CreateOrderRequest is the payload for POST /api/payments/orders.
type CreateOrderRequest struct {
	AmountMinor int64  `json:"amount" validate:"required,gt=0"`
	Currency    string `json:"currency" validate:"required,len=3"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
}

// Bind implements render.Binder.
func (c *CreateOrderRequest) Bind(r *http.Request) error {
	return validate.Struct(c)
}

// CreateOrderResponse returns the gateway order plus the pre-generated
// license key carried in the order notes.
type CreateOrderResponse struct {
	Success    bool   `json:"success"`
	OrderID    string `json:"order_id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	LicenseKey string `json:"license_key"`
	TraceID    string `json:"trace_id"`
}

// WebhookResponse acknowledges a webhook delivery. The gateway only cares
// about the status code; the body is for operators reading logs.
type WebhookResponse struct {
	Success    bool   `json:"success"`
	Status     string `json:"status"`
	LicenseKey string `json:"license_key,omitempty"`
}

// Routes returns the chi router mounted at /api/payments.
func (h *PaymentsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/orders", h.CreateOrder)
	r.Post("/webhook", h.Webhook)

	return r
}

// CreateOrder handles POST /api/payments/orders. A license key is generated
// up front and travels in the order notes so the later confirmation reuses
// it instead of minting a second key.
func (h *PaymentsHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("payments-handler")

	ctx, span := tracer.Start(ctx, "payments_handler.create_order",
		trace.WithAttributes(
			attribute.String("http.route", "/api/payments/orders"),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()

	if h.orders == nil {
		render.Render(w, r, apperrors.NewErrorResponse(
			apperrors.New(http.StatusNotImplemented, "ORDERS_DISABLED", "Order creation is not configured on this deployment")))
		return
	}

	data := &CreateOrderRequest{}
	if err := render.Bind(r, data); err != nil {
		span.RecordError(err)
		render.Render(w, r, apperrors.NewErrorResponse(apperrors.InvalidRequestWithError(err)))
		return
	}

	key, err := license.GenerateKey()
	if err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "license key generation failed", slog.String("error", err.Error()))
		render.Render(w, r, apperrors.NewErrorResponse(apperrors.ErrInternalServer))
		return
	}

	notes := map[string]string{"license_key": key}
	if data.Email != "" {
		notes["email"] = data.Email
	}

	orderCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	order, err := h.orders.CreateOrder(orderCtx, data.AmountMinor, data.Currency, "rcpt_"+reqID, notes)
	if err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "order creation failed",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()))
		render.Render(w, r, apperrors.NewErrorResponse(apperrors.ErrServiceUnavailable))
		return
	}

	span.SetAttributes(attribute.String("payment.order_id", order.ID))
	h.logger.InfoContext(ctx, "checkout order created",
		slog.String("request_id", reqID),
		slog.String("order_id", order.ID),
		slog.Int64("amount", order.Amount))

	render.JSON(w, r, &CreateOrderResponse{
		Success:    true,
		OrderID:    order.ID,
		Amount:     order.Amount,
		Currency:   order.Currency,
		LicenseKey: key,
		TraceID:    reqID,
	})
}

// Webhook handles POST /api/payments/webhook. The raw body is read before
// any parsing because the signature covers the exact bytes on the wire.
// Unhandled event types are acknowledged with 200 so the gateway stops
// redelivering them.
func (h *PaymentsHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("payments-handler")

	ctx, span := tracer.Start(ctx, "payments_handler.webhook",
		trace.WithAttributes(
			attribute.String("http.route", "/api/payments/webhook"),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		span.RecordError(err)
		render.Render(w, r, apperrors.NewErrorResponse(apperrors.ErrInvalidRequestBody))
		return
	}

	signature := r.Header.Get("X-Razorpay-Signature")
	trusted, err := h.verifier.Verify(body, signature)
	if err != nil {
		span.SetAttributes(attribute.String("webhook.result", "bad_signature"))
		h.logger.WarnContext(ctx, "webhook signature rejected",
			slog.String("request_id", reqID),
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()))
		render.Render(w, r, apperrors.NewErrorResponse(apperrors.ErrInvalidSignature))
		return
	}

	ev, err := payment.ParseWebhook(body)
	if err != nil {
		span.RecordError(err)
		render.Render(w, r, apperrors.NewErrorResponse(apperrors.ErrInvalidRequestBody))
		return
	}

	if h.metrics != nil && h.metrics.WebhookEvents != nil {
		h.metrics.WebhookEvents.Add(ctx, 1)
	}
	span.SetAttributes(
		attribute.String("webhook.event", ev.Event),
		attribute.Bool("webhook.trusted", trusted),
	)

	req, ok := issueRequestFromEvent(ev)
	if !ok {
		h.logger.InfoContext(ctx, "webhook event ignored",
			slog.String("request_id", reqID),
			slog.String("event", ev.Event))
		render.JSON(w, r, &WebhookResponse{Success: true, Status: "ignored"})
		return
	}

	result, err := h.service.Issue(ctx, req)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, apperrors.ErrInvalidRequest) {
			render.Render(w, r, apperrors.NewErrorResponse(apperrors.InvalidRequestWithError(err)))
			return
		}
		// A 5xx tells the gateway to redeliver; issuance is idempotent, so a
		// retry of an already-created license is harmless.
		h.logger.ErrorContext(ctx, "issuance failed, webhook will be redelivered",
			slog.String("request_id", reqID),
			slog.String("payment_id", req.PaymentID),
			slog.String("error", err.Error()))
		render.Render(w, r, apperrors.NewErrorResponse(apperrors.ErrServiceUnavailable))
		return
	}

	status := "already_issued"
	if result.Created {
		status = "issued"
	}
	h.logger.InfoContext(ctx, "payment confirmation processed",
		slog.String("request_id", reqID),
		slog.String("event", ev.Event),
		slog.String("payment_id", req.PaymentID),
		slog.String("status", status),
		slog.Bool("trusted", trusted))

	render.JSON(w, r, &WebhookResponse{
		Success:    true,
		Status:     status,
		LicenseKey: result.License.LicenseKey,
	})
}

// issueRequestFromEvent extracts the issuance inputs from a webhook event.
// The second return is false for event types the backend does not act on.
func issueRequestFromEvent(ev *payment.WebhookEvent) (services.IssueRequest, bool) {
	switch ev.Event {
	case payment.EventPaymentCaptured:
		p := ev.Payload.Payment.Entity
		return services.IssueRequest{
			PaymentID:   p.ID,
			OrderID:     p.OrderID,
			Email:       p.Email,
			AmountMinor: p.Amount,
			Currency:    p.Currency,
			LicenseKey:  p.Notes["license_key"],
		}, true
	case payment.EventOrderPaid:
		o := ev.Payload.Order.Entity
		p := ev.Payload.Payment.Entity
		paymentID := p.ID
		if paymentID == "" {
			// Some gateways omit the payment entity on order.paid; the order
			// id still uniquely identifies the purchase.
			paymentID = o.ID
		}
		email := p.Email
		if email == "" {
			email = o.Notes["email"]
		}
		return services.IssueRequest{
			PaymentID:   paymentID,
			OrderID:     o.ID,
			Email:       email,
			AmountMinor: o.Amount,
			Currency:    o.Currency,
			LicenseKey:  o.Notes["license_key"],
		}, true
	default:
		return services.IssueRequest{}, false
	}
}

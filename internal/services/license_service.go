// Package services implements the business operations over the license
// store: idempotent issuance, the device binding state machine, and the pure
// verification read. Handlers call this layer; it owns the read-modify-
// conditional-write loops that make concurrent requests resolve cleanly.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "licenseapi/internal/errors"
	"licenseapi/internal/infrastructure"
	"licenseapi/internal/license"
	"licenseapi/internal/notify"
	"licenseapi/internal/store"
)

// LicenseService is the business-logic contract consumed by transport.
type LicenseService interface {
	Issue(ctx context.Context, req IssueRequest) (*IssueResult, error)
	Activate(ctx context.Context, licenseKey, deviceID, email string) (*license.License, error)
	Takeover(ctx context.Context, licenseKey, newDeviceID string, confirm bool) (*license.License, error)
	Deactivate(ctx context.Context, licenseKey string) (*license.License, error)
	Revoke(ctx context.Context, licenseKey string) (*license.License, error)
	Verify(ctx context.Context, licenseKey, deviceID string) (*license.VerifyResult, error)
	BindingCheck(ctx context.Context, licenseKey, deviceID string) (*BindingCheckResult, error)
}

// IssueRequest carries a payment confirmation into issuance.
type IssueRequest struct {
	PaymentID   string
	OrderID     string
	Email       string
	AmountMinor int64
	Currency    string
	// LicenseKey, when non-empty, was pre-generated by the ordering step and
	// must be reused so the key mailed at order time stays the issued key.
	LicenseKey string
}

// IssueResult reports the license plus whether this call created it.
type IssueResult struct {
	License *license.License
	Created bool
}

// BindingCheckResult answers the read-only "who holds the slot" query.
type BindingCheckResult struct {
	Bound             bool `json:"bound"`
	BoundToThisDevice bool `json:"bound_to_this_device"`
}

// IssuancePolicy is the configured validity applied at creation time.
type IssuancePolicy struct {
	// Validity is added to the creation time for expires_at; zero means a
	// perpetual license.
	Validity       time.Duration
	MaxActivations int
}

type licenseService struct {
	store    store.Store
	notifier notify.EmailSender
	policy   IssuancePolicy
	metrics  *infrastructure.LicenseMetrics
	logger   *slog.Logger
	now      func() time.Time
	// notifyTimeout bounds the fire-and-forget email attempt.
	notifyTimeout time.Duration
	genKey        func() (string, error)
}

// Option adjusts optional service behavior.
type Option func(*licenseService)

// WithNotifyTimeout bounds the fire-and-forget email attempt. Non-positive
// values keep the default.
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *licenseService) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

// NewLicenseService creates the service. notifier may be nil when email
// delivery is disabled; metrics may be nil in tests.
func NewLicenseService(st store.Store, notifier notify.EmailSender, policy IssuancePolicy, metrics *infrastructure.LicenseMetrics, logger *slog.Logger, opts ...Option) LicenseService {
	if policy.MaxActivations < 1 {
		policy.MaxActivations = 1
	}
	s := &licenseService{
		store:         st,
		notifier:      notifier,
		policy:        policy,
		metrics:       metrics,
		logger:        logger.With(slog.String("service", "license")),
		now:           time.Now,
		notifyTimeout: 10 * time.Second,
		genKey:        license.GenerateKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue turns a payment confirmation into exactly one license record. The
// payment_id unique index is the sole serialization point: a duplicate
// delivery, concurrent or not, lands on the "already issued" path and gets
// the existing record back.
func (s *licenseService) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	if req.PaymentID == "" {
		return nil, fmt.Errorf("%w: payment_id is required", apperrors.ErrInvalidRequest)
	}

	existing, err := s.store.GetByPaymentID(ctx, req.PaymentID)
	if err == nil {
		return &IssueResult{License: existing, Created: false}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, s.transient("issue", err)
	}

	key := license.NormalizeKey(req.LicenseKey)
	if key == "" {
		if key, err = s.genKey(); err != nil {
			return nil, s.transient("issue", err)
		}
	}

	now := s.now()
	var expiresAt *time.Time
	if s.policy.Validity > 0 {
		exp := now.Add(s.policy.Validity)
		expiresAt = &exp
	}

	l := &license.License{
		LicenseKey:     key,
		Email:          req.Email,
		PaymentID:      req.PaymentID,
		OrderID:        req.OrderID,
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		Status:         license.StatusActive,
		Activations:    0,
		MaxActivations: s.policy.MaxActivations,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
	}

	if err := s.store.Insert(ctx, l); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return nil, s.transient("issue", err)
		}
		// Lost the race: the winner's record is the license for this payment.
		winner, ferr := s.store.GetByPaymentID(ctx, req.PaymentID)
		if ferr == nil {
			s.logger.InfoContext(ctx, "duplicate payment confirmation resolved to existing license",
				slog.String("payment_id", req.PaymentID),
				slog.String("license_key", winner.LicenseKey))
			return &IssueResult{License: winner, Created: false}, nil
		}
		if !errors.Is(ferr, store.ErrNotFound) {
			return nil, s.transient("issue", ferr)
		}
		// The conflict was on the key itself. A pre-generated key reaching us
		// under two payment references (payment.captured, then order.paid with
		// the order id standing in for the missing payment entity) is the same
		// purchase, so the existing record is the answer.
		winner, ferr = s.store.GetByKey(ctx, key)
		if ferr != nil {
			return nil, s.transient("issue", ferr)
		}
		s.logger.InfoContext(ctx, "payment confirmation resolved to existing license by key",
			slog.String("payment_id", req.PaymentID),
			slog.String("existing_payment_id", winner.PaymentID),
			slog.String("license_key", winner.LicenseKey))
		return &IssueResult{License: winner, Created: false}, nil
	}

	if s.metrics != nil && s.metrics.LicensesIssued != nil {
		s.metrics.LicensesIssued.Add(ctx, 1)
	}
	s.logger.InfoContext(ctx, "license issued",
		slog.String("license_key", l.LicenseKey),
		slog.String("payment_id", l.PaymentID),
		slog.String("order_id", l.OrderID),
		slog.Bool("has_email", l.Email != ""))

	if l.Email == "" {
		// Never block revenue capture on email presence; flag for manual
		// follow-up instead.
		s.logger.WarnContext(ctx, "license issued without purchaser email, needs manual follow-up",
			slog.String("license_key", l.LicenseKey),
			slog.String("payment_id", l.PaymentID))
	} else {
		s.sendLicenseEmail(ctx, l)
	}

	return &IssueResult{License: l, Created: true}, nil
}

// sendLicenseEmail fires the notification without blocking the response.
// Failure is logged and never fails issuance.
func (s *licenseService) sendLicenseEmail(ctx context.Context, l *license.License) {
	if s.notifier == nil {
		return
	}
	traceID := infrastructure.TraceIDFromContext(ctx)
	msg := notify.LicenseEmail{
		Recipient:   l.Email,
		LicenseKey:  l.LicenseKey,
		PaymentID:   l.PaymentID,
		OrderID:     l.OrderID,
		AmountMinor: l.AmountMinor,
		Currency:    l.Currency,
		ExpiresAt:   l.ExpiresAt,
	}
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()
		sendCtx = infrastructure.WithTraceID(sendCtx, traceID)
		if err := s.notifier.SendLicenseEmail(sendCtx, msg); err != nil {
			s.logger.ErrorContext(sendCtx, "license email delivery failed",
				slog.String("license_key", l.LicenseKey),
				slog.String("recipient", l.Email),
				slog.String("error", err.Error()))
		}
	}()
}

// Activate binds the license to a device, or refreshes an existing binding
// to the same device. On a conditional-write conflict the loop re-reads and
// re-decides once so a racing activation surfaces the correct domain error.
func (s *licenseService) Activate(ctx context.Context, licenseKey, deviceID, email string) (*license.License, error) {
	key := license.NormalizeKey(licenseKey)
	if key == "" || deviceID == "" {
		return nil, fmt.Errorf("%w: license_key and device_id are required", apperrors.ErrInvalidRequest)
	}

	for attempt := 0; ; attempt++ {
		l, err := s.getByKey(ctx, key)
		if err != nil {
			return nil, err
		}

		outcome, err := license.CheckActivate(l, deviceID, email, s.now())
		if err != nil {
			s.recordRejection(ctx, "activate", err)
			return nil, err
		}

		err = s.applyBind(ctx, l, deviceID, outcome)
		if err == nil {
			updated, gerr := s.getByKey(ctx, key)
			if gerr != nil {
				return nil, gerr
			}
			if s.metrics != nil && s.metrics.Activations != nil {
				s.metrics.Activations.Add(ctx, 1)
			}
			s.logger.InfoContext(ctx, "license activated",
				slog.String("license_key", key),
				slog.String("device_id", deviceID),
				slog.Int("activations", updated.Activations),
				slog.Bool("rebind", outcome == license.BindRefresh))
			return updated, nil
		}
		if errors.Is(err, store.ErrConflict) && attempt == 0 {
			continue // another writer committed first; re-read and re-decide
		}
		if errors.Is(err, store.ErrConflict) {
			s.recordRejection(ctx, "activate", apperrors.ErrDeviceConflict)
			return nil, apperrors.ErrDeviceConflict
		}
		return nil, s.transient("activate", err)
	}
}

// Takeover transfers the binding to a new device. Without confirm it is a
// dry run that reports the current holder and never writes.
func (s *licenseService) Takeover(ctx context.Context, licenseKey, newDeviceID string, confirm bool) (*license.License, error) {
	key := license.NormalizeKey(licenseKey)
	if key == "" || newDeviceID == "" {
		return nil, fmt.Errorf("%w: license_key and device_id are required", apperrors.ErrInvalidRequest)
	}

	for attempt := 0; ; attempt++ {
		l, err := s.getByKey(ctx, key)
		if err != nil {
			return nil, err
		}

		outcome, err := license.CheckTakeover(l, newDeviceID, confirm, s.now())
		if err != nil {
			if errors.Is(err, apperrors.ErrDeviceConflict) {
				s.recordRejection(ctx, "takeover", err)
				return nil, &DeviceConflictError{Details: apperrors.DeviceConflictDetails{
					CurrentDeviceID: l.DeviceID,
					ActivatedAt:     l.ActivatedAt,
					Email:           l.Email,
				}}
			}
			s.recordRejection(ctx, "takeover", err)
			return nil, err
		}

		err = s.applyBind(ctx, l, newDeviceID, outcome)
		if err == nil {
			updated, gerr := s.getByKey(ctx, key)
			if gerr != nil {
				return nil, gerr
			}
			if outcome == license.BindTakeover && s.metrics != nil && s.metrics.Takeovers != nil {
				s.metrics.Takeovers.Add(ctx, 1)
			}
			s.logger.InfoContext(ctx, "license binding transferred",
				slog.String("license_key", key),
				slog.String("device_id", newDeviceID),
				slog.String("previous_device_id", l.DeviceID),
				slog.Int("activations", updated.Activations))
			return updated, nil
		}
		if errors.Is(err, store.ErrConflict) && attempt == 0 {
			continue
		}
		if errors.Is(err, store.ErrConflict) {
			return nil, apperrors.ErrDeviceConflict
		}
		return nil, s.transient("takeover", err)
	}
}

// applyBind translates a state-machine outcome into the matching guarded
// store write.
func (s *licenseService) applyBind(ctx context.Context, l *license.License, deviceID string, outcome license.BindOutcome) error {
	now := s.now()
	switch outcome {
	case license.BindRefresh:
		return s.store.BindDevice(ctx, l.LicenseKey, deviceID, now, false, deviceID)
	case license.BindNew:
		return s.store.BindDevice(ctx, l.LicenseKey, deviceID, now, true, "")
	case license.BindTakeover:
		return s.store.BindDevice(ctx, l.LicenseKey, deviceID, now, true, l.DeviceID)
	default:
		return fmt.Errorf("unknown bind outcome %d", outcome)
	}
}

// Deactivate releases the device slot. The activations counter is an audit
// log and is deliberately left untouched.
func (s *licenseService) Deactivate(ctx context.Context, licenseKey string) (*license.License, error) {
	key := license.NormalizeKey(licenseKey)
	if key == "" {
		return nil, fmt.Errorf("%w: license_key is required", apperrors.ErrInvalidRequest)
	}

	l, err := s.getByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := license.CheckDeactivate(l); err != nil {
		s.recordRejection(ctx, "deactivate", err)
		return nil, err
	}

	if err := s.store.ClearBinding(ctx, key); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Revoked (or deleted) between the read and the write.
			l, err = s.getByKey(ctx, key)
			if err != nil {
				return nil, err
			}
			if err := license.CheckDeactivate(l); err != nil {
				return nil, err
			}
			return nil, apperrors.ErrTransient
		}
		return nil, s.transient("deactivate", err)
	}

	s.logger.InfoContext(ctx, "license deactivated",
		slog.String("license_key", key),
		slog.String("released_device_id", l.DeviceID))
	return s.getByKey(ctx, key)
}

// Revoke is terminal: the license can never transition back to active and
// the device slot is cleared forever.
func (s *licenseService) Revoke(ctx context.Context, licenseKey string) (*license.License, error) {
	key := license.NormalizeKey(licenseKey)
	if key == "" {
		return nil, fmt.Errorf("%w: license_key is required", apperrors.ErrInvalidRequest)
	}

	if err := s.store.Revoke(ctx, key); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperrors.ErrNotFound
		}
		return nil, s.transient("revoke", err)
	}

	s.logger.InfoContext(ctx, "license revoked", slog.String("license_key", key))
	return s.getByKey(ctx, key)
}

// Verify is a pure read; it never mutates activations or the device slot.
func (s *licenseService) Verify(ctx context.Context, licenseKey, deviceID string) (*license.VerifyResult, error) {
	key := license.NormalizeKey(licenseKey)
	if key == "" {
		return nil, fmt.Errorf("%w: license_key is required", apperrors.ErrInvalidRequest)
	}

	l, err := s.getByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	res := l.Verify(deviceID, s.now())
	if s.metrics != nil && s.metrics.Verifications != nil {
		s.metrics.Verifications.Add(ctx, 1)
	}
	return &res, nil
}

// BindingCheck reports slot occupancy without mutating state; clients use it
// to decide whether to show a takeover prompt.
func (s *licenseService) BindingCheck(ctx context.Context, licenseKey, deviceID string) (*BindingCheckResult, error) {
	key := license.NormalizeKey(licenseKey)
	if key == "" || deviceID == "" {
		return nil, fmt.Errorf("%w: license_key and device_id are required", apperrors.ErrInvalidRequest)
	}

	l, err := s.getByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return &BindingCheckResult{
		Bound:             l.Bound(),
		BoundToThisDevice: l.BoundTo(deviceID),
	}, nil
}

func (s *licenseService) getByKey(ctx context.Context, key string) (*license.License, error) {
	l, err := s.store.GetByKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, s.transient("get", err)
	}
	return l, nil
}

func (s *licenseService) transient(operation string, err error) error {
	s.logger.Error("storage operation failed",
		slog.String("operation", operation),
		slog.String("error", err.Error()))
	return fmt.Errorf("%w: %v", apperrors.ErrTransient, err)
}

func (s *licenseService) recordRejection(ctx context.Context, operation string, err error) {
	s.metrics.RecordError(ctx, operation)
	s.logger.InfoContext(ctx, "license operation rejected",
		slog.String("operation", operation),
		slog.String("reason", err.Error()))
}

// DeviceConflictError carries the current binding so the client can prompt
// the user before confirming a takeover.
type DeviceConflictError struct {
	Details apperrors.DeviceConflictDetails
}

func (e *DeviceConflictError) Error() string {
	return apperrors.ErrDeviceConflict.Error()
}

// Unwrap makes errors.Is(err, apperrors.ErrDeviceConflict) hold.
func (e *DeviceConflictError) Unwrap() error {
	return apperrors.ErrDeviceConflict
}

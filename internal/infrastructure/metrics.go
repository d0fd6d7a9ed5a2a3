package infrastructure

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// LicenseMetrics carries the business counters for license operations.
type LicenseMetrics struct {
	LicensesIssued  metric.Int64Counter
	Activations     metric.Int64Counter
	Takeovers       metric.Int64Counter
	Verifications   metric.Int64Counter
	WebhookEvents   metric.Int64Counter
	OperationErrors metric.Int64Counter
}

// CreateLicenseMetrics registers the license counters on the meter.
func CreateLicenseMetrics(meter metric.Meter) (*LicenseMetrics, error) {
	m := &LicenseMetrics{}
	var err error

	if m.LicensesIssued, err = meter.Int64Counter("licenses_issued_total",
		metric.WithDescription("Licenses created by idempotent issuance")); err != nil {
		return nil, fmt.Errorf("create issued counter: %w", err)
	}
	if m.Activations, err = meter.Int64Counter("license_activations_total",
		metric.WithDescription("Successful device activations")); err != nil {
		return nil, fmt.Errorf("create activations counter: %w", err)
	}
	if m.Takeovers, err = meter.Int64Counter("license_takeovers_total",
		metric.WithDescription("Confirmed device takeovers")); err != nil {
		return nil, fmt.Errorf("create takeovers counter: %w", err)
	}
	if m.Verifications, err = meter.Int64Counter("license_verifications_total",
		metric.WithDescription("Verification reads")); err != nil {
		return nil, fmt.Errorf("create verifications counter: %w", err)
	}
	if m.WebhookEvents, err = meter.Int64Counter("payment_webhook_events_total",
		metric.WithDescription("Payment webhook events received")); err != nil {
		return nil, fmt.Errorf("create webhook counter: %w", err)
	}
	if m.OperationErrors, err = meter.Int64Counter("license_operation_errors_total",
		metric.WithDescription("License operations rejected with a domain error")); err != nil {
		return nil, fmt.Errorf("create errors counter: %w", err)
	}
	return m, nil
}

// RecordError increments the error counter tagged with the operation name.
func (m *LicenseMetrics) RecordError(ctx context.Context, operation string) {
	if m == nil || m.OperationErrors == nil {
		return
	}
	m.OperationErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

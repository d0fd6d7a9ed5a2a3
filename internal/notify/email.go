// Package notify delivers license keys to purchasers by email through a
// Resend-compatible REST API. Delivery is best effort: issuance never fails
// or rolls back because an email could not be sent.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// LicenseEmail is the payload handed to the notification sink.
type LicenseEmail struct {
	Recipient   string
	LicenseKey  string
	PaymentID   string
	OrderID     string
	AmountMinor int64
	Currency    string
	ExpiresAt   *time.Time
}

// EmailSender delivers a license email. Implementations must be safe for
// concurrent use.
type EmailSender interface {
	SendLicenseEmail(ctx context.Context, msg LicenseEmail) error
}

// ResendClient sends mail through the Resend HTTP API (or any API with the
// same POST /emails contract).
type ResendClient struct {
	baseURL string
	apiKey  string
	from    string
	client  *retryablehttp.Client
	logger  *slog.Logger
}

// NewResendClient builds a client for the given API endpoint. Transient
// failures are retried a couple of times with backoff; the overall attempt
// stays bounded by the caller's context.
func NewResendClient(baseURL, apiKey, from string, logger *slog.Logger) *ResendClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 1 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &ResendClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		from:    from,
		client:  rc,
		logger:  logger.With(slog.String("component", "notify")),
	}
}

type resendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// SendLicenseEmail posts the license email. A non-2xx response is an error;
// callers log it and move on.
func (c *ResendClient) SendLicenseEmail(ctx context.Context, msg LicenseEmail) error {
	body, err := json.Marshal(resendRequest{
		From:    c.from,
		To:      msg.Recipient,
		Subject: "Payment Successful! Your License Key",
		HTML:    renderLicenseEmail(msg),
	})
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("email API returned status %d", resp.StatusCode)
	}

	c.logger.InfoContext(ctx, "license email sent",
		slog.String("recipient", msg.Recipient),
		slog.String("payment_id", msg.PaymentID))
	return nil
}

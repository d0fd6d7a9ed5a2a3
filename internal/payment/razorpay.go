package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Order is the gateway's response to order creation: the id and amount the
// client needs to open the checkout flow.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// OrderCreator creates a payment order with the external gateway.
type OrderCreator interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]string) (*Order, error)
}

// RazorpayClient creates orders through the Razorpay Orders API using basic
// auth over the key pair.
type RazorpayClient struct {
	baseURL   string
	keyID     string
	keySecret string
	client    *retryablehttp.Client
	logger    *slog.Logger
}

// NewRazorpayClient builds a gateway client. baseURL is overridable for
// tests; production uses https://api.razorpay.com/v1.
func NewRazorpayClient(baseURL, keyID, keySecret string, logger *slog.Logger) *RazorpayClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 250 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 15 * time.Second
	rc.Logger = nil

	return &RazorpayClient{
		baseURL:   baseURL,
		keyID:     keyID,
		keySecret: keySecret,
		client:    rc,
		logger:    logger.With(slog.String("component", "payment")),
	}
}

// KeyID returns the public key id that checkout clients embed.
func (c *RazorpayClient) KeyID() string {
	return c.keyID
}

type createOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// CreateOrder creates an order at the gateway. Notes travel with the order
// and come back in the payment confirmation, which is how a pre-generated
// license key reaches the webhook.
func (c *RazorpayClient) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]string) (*Order, error) {
	body, err := json.Marshal(createOrderRequest{
		Amount:   amountMinor,
		Currency: currency,
		Receipt:  receipt,
		Notes:    notes,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal order request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.ErrorContext(ctx, "gateway rejected order creation",
			slog.Int("status", resp.StatusCode),
			slog.String("response", string(detail)))
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var order Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}

	c.logger.InfoContext(ctx, "payment order created",
		slog.String("order_id", order.ID),
		slog.Int64("amount", order.Amount),
		slog.String("currency", order.Currency))
	return &order, nil
}

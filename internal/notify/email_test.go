package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendLicenseEmail(t *testing.T) {
	var got resendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"email_1"}`))
	}))
	defer srv.Close()

	c := NewResendClient(srv.URL, "test-key", "license@example.com", slog.Default())

	exp := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	err := c.SendLicenseEmail(context.Background(), LicenseEmail{
		Recipient:   "buyer@example.com",
		LicenseKey:  "ACP-AAAAA-BBBBB-CCCCC-DDDDD",
		PaymentID:   "pay_123",
		OrderID:     "order_001",
		AmountMinor: 49900,
		Currency:    "INR",
		ExpiresAt:   &exp,
	})
	require.NoError(t, err)

	assert.Equal(t, "license@example.com", got.From)
	assert.Equal(t, "buyer@example.com", got.To)
	assert.Contains(t, got.HTML, "ACP-AAAAA-BBBBB-CCCCC-DDDDD")
	assert.Contains(t, got.HTML, "pay_123")
}

func TestSendLicenseEmailAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewResendClient(srv.URL, "test-key", "license@example.com", slog.Default())

	err := c.SendLicenseEmail(context.Background(), LicenseEmail{
		Recipient:  "buyer@example.com",
		LicenseKey: "ACP-AAAAA-BBBBB-CCCCC-DDDDD",
	})
	assert.Error(t, err)
}

func TestRenderLicenseEmail(t *testing.T) {
	html := renderLicenseEmail(LicenseEmail{
		Recipient:   "buyer@example.com",
		LicenseKey:  "ACP-AAAAA-BBBBB-CCCCC-DDDDD",
		PaymentID:   "pay_123",
		AmountMinor: 49900,
		Currency:    "INR",
	})

	assert.Contains(t, html, "ACP-AAAAA-BBBBB-CCCCC-DDDDD")
	assert.Contains(t, html, "pay_123")
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licenseapi/internal/license"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testLicense(key, paymentID string) *license.License {
	exp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &license.License{
		LicenseKey:     key,
		Email:          "buyer@example.com",
		PaymentID:      paymentID,
		OrderID:        "order_1",
		AmountMinor:    49900,
		Currency:       "INR",
		Status:         license.StatusActive,
		MaxActivations: 1,
		CreatedAt:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		ExpiresAt:      &exp,
	}
}

func TestInsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	l := testLicense("ACP-AAAAA-BBBBB-CCCCC-DDDDD", "pay_1")
	require.NoError(t, s.Insert(ctx, l))

	got, err := s.GetByKey(ctx, l.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, l.LicenseKey, got.LicenseKey)
	assert.Equal(t, l.PaymentID, got.PaymentID)
	assert.Equal(t, l.Email, got.Email)
	assert.Equal(t, license.StatusActive, got.Status)
	assert.Empty(t, got.DeviceID)
	assert.Nil(t, got.ActivatedAt)
	assert.True(t, l.CreatedAt.Equal(got.CreatedAt))
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, l.ExpiresAt.Equal(*got.ExpiresAt))

	byPayment, err := s.GetByPaymentID(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, l.LicenseKey, byPayment.LicenseKey)
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetByKey(ctx, "ACP-MISSING")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetByPaymentID(ctx, "pay_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertDuplicatePaymentID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, testLicense("ACP-AAAAA-BBBBB-CCCCC-DDDDD", "pay_1")))

	err := s.Insert(ctx, testLicense("ACP-EEEEE-FFFFF-GGGGG-HHHHH", "pay_1"))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestInsertDuplicateKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, testLicense("ACP-AAAAA-BBBBB-CCCCC-DDDDD", "pay_1")))

	err := s.Insert(ctx, testLicense("ACP-AAAAA-BBBBB-CCCCC-DDDDD", "pay_2"))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestBindDevice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	l := testLicense("ACP-AAAAA-BBBBB-CCCCC-DDDDD", "pay_1")
	require.NoError(t, s.Insert(ctx, l))

	// Fresh bind on the empty slot with the counter incremented.
	require.NoError(t, s.BindDevice(ctx, l.LicenseKey, "dev-a", now, true, ""))

	got, err := s.GetByKey(ctx, l.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, "dev-a", got.DeviceID)
	assert.Equal(t, 1, got.Activations)
	require.NotNil(t, got.ActivatedAt)

	// Same-device refresh keeps the counter.
	later := now.Add(time.Minute)
	require.NoError(t, s.BindDevice(ctx, l.LicenseKey, "dev-a", later, false, "dev-a"))

	got, err = s.GetByKey(ctx, l.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Activations)
	assert.True(t, later.Equal(*got.ActivatedAt))
}

func TestBindDeviceGuardFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	l := testLicense("ACP-AAAAA-BBBBB-CCCCC-DDDDD", "pay_1")
	require.NoError(t, s.Insert(ctx, l))
	require.NoError(t, s.BindDevice(ctx, l.LicenseKey, "dev-a", now, true, ""))

	// A second writer that decided against the empty slot loses.
	err := s.BindDevice(ctx, l.LicenseKey, "dev-b", now, true, "")
	assert.ErrorIs(t, err, ErrConflict)

	got, gerr := s.GetByKey(ctx, l.LicenseKey)
	require.NoError(t, gerr)
	assert.Equal(t, "dev-a", got.DeviceID, "loser must not overwrite the binding")
	assert.Equal(t, 1, got.Activations)
}

func TestBindDeviceRevokedLicense(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	l := testLicense("ACP-AAAAA-BBBBB-CCCCC-DDDDD", "pay_1")
	require.NoError(t, s.Insert(ctx, l))
	require.NoError(t, s.Revoke(ctx, l.LicenseKey))

	err := s.BindDevice(ctx, l.LicenseKey, "dev-a", time.Now(), true, "")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestClearBinding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	l := testLicense("ACP-AAAAA-BBBBB-CCCCC-DDDDD", "pay_1")
	require.NoError(t, s.Insert(ctx, l))
	require.NoError(t, s.BindDevice(ctx, l.LicenseKey, "dev-a", time.Now(), true, ""))

	require.NoError(t, s.ClearBinding(ctx, l.LicenseKey))

	got, err := s.GetByKey(ctx, l.LicenseKey)
	require.NoError(t, err)
	assert.Empty(t, got.DeviceID)
	assert.Nil(t, got.ActivatedAt)
	assert.Equal(t, 1, got.Activations, "audit counter survives deactivation")

	// Clearing an already-clear slot still succeeds.
	require.NoError(t, s.ClearBinding(ctx, l.LicenseKey))
}

func TestClearBindingRevoked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	l := testLicense("ACP-AAAAA-BBBBB-CCCCC-DDDDD", "pay_1")
	require.NoError(t, s.Insert(ctx, l))
	require.NoError(t, s.Revoke(ctx, l.LicenseKey))

	err := s.ClearBinding(ctx, l.LicenseKey)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRevoke(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	l := testLicense("ACP-AAAAA-BBBBB-CCCCC-DDDDD", "pay_1")
	require.NoError(t, s.Insert(ctx, l))
	require.NoError(t, s.BindDevice(ctx, l.LicenseKey, "dev-a", time.Now(), true, ""))

	require.NoError(t, s.Revoke(ctx, l.LicenseKey))

	got, err := s.GetByKey(ctx, l.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, license.StatusRevoked, got.Status)
	assert.Empty(t, got.DeviceID)

	// Revoking again is idempotent.
	require.NoError(t, s.Revoke(ctx, l.LicenseKey))
}

func TestRevokeMissing(t *testing.T) {
	s := newTestStore(t)
	err := s.Revoke(context.Background(), "ACP-MISSING")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}

package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "licenseapi/internal/errors"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func activeLicense(mutate ...func(*License)) *License {
	exp := testNow.Add(30 * 24 * time.Hour)
	l := &License{
		LicenseKey:     "ACP-7F3KQ-9M2XW-AB1CD-EF2GH",
		Email:          "buyer@example.com",
		PaymentID:      "pay_123",
		Status:         StatusActive,
		MaxActivations: 1,
		CreatedAt:      testNow.Add(-24 * time.Hour),
		ExpiresAt:      &exp,
	}
	for _, m := range mutate {
		m(l)
	}
	return l
}

func bound(deviceID string) func(*License) {
	return func(l *License) {
		l.DeviceID = deviceID
		at := testNow.Add(-time.Hour)
		l.ActivatedAt = &at
		l.Activations = 1
	}
}

func TestCheckActivate(t *testing.T) {
	tests := []struct {
		name     string
		license  *License
		deviceID string
		email    string
		want     BindOutcome
		wantErr  error
	}{
		{
			name:     "fresh license binds new device",
			license:  activeLicense(),
			deviceID: "dev-a",
			want:     BindNew,
		},
		{
			name:     "same device re-activation refreshes",
			license:  activeLicense(bound("dev-a")),
			deviceID: "dev-a",
			want:     BindRefresh,
		},
		{
			name:     "re-activation allowed even at activation capacity",
			license:  activeLicense(bound("dev-a"), func(l *License) { l.Activations = 5 }),
			deviceID: "dev-a",
			want:     BindRefresh,
		},
		{
			name:     "bound to another device conflicts",
			license:  activeLicense(bound("dev-a")),
			deviceID: "dev-b",
			wantErr:  apperrors.ErrDeviceConflict,
		},
		{
			name:     "empty device id rejected",
			license:  activeLicense(),
			deviceID: "",
			wantErr:  apperrors.ErrInvalidRequest,
		},
		{
			name:     "revoked license rejected",
			license:  activeLicense(func(l *License) { l.Status = StatusRevoked }),
			deviceID: "dev-a",
			wantErr:  apperrors.ErrRevoked,
		},
		{
			name: "expired license rejected",
			license: activeLicense(func(l *License) {
				exp := testNow.Add(-time.Minute)
				l.ExpiresAt = &exp
			}),
			deviceID: "dev-a",
			wantErr:  apperrors.ErrExpired,
		},
		{
			name:     "perpetual license never expires",
			license:  activeLicense(func(l *License) { l.ExpiresAt = nil }),
			deviceID: "dev-a",
			want:     BindNew,
		},
		{
			name:     "email mismatch rejected",
			license:  activeLicense(),
			deviceID: "dev-a",
			email:    "other@example.com",
			wantErr:  apperrors.ErrEmailMismatch,
		},
		{
			name:     "matching email accepted",
			license:  activeLicense(),
			deviceID: "dev-a",
			email:    "buyer@example.com",
			want:     BindNew,
		},
		{
			name:     "empty email skips the ownership check",
			license:  activeLicense(),
			deviceID: "dev-a",
			email:    "",
			want:     BindNew,
		},
		{
			name: "unbound license binds regardless of audit counter",
			license: activeLicense(func(l *License) {
				l.Activations = 2
			}),
			deviceID: "dev-b",
			want:     BindNew,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CheckActivate(tt.license, tt.deviceID, tt.email, testNow)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckTakeover(t *testing.T) {
	tests := []struct {
		name     string
		license  *License
		deviceID string
		confirm  bool
		want     BindOutcome
		wantErr  error
	}{
		{
			name:     "dry run against bound license reports conflict",
			license:  activeLicense(bound("dev-a")),
			deviceID: "dev-b",
			confirm:  false,
			wantErr:  apperrors.ErrDeviceConflict,
		},
		{
			name:     "confirmed takeover replaces binding",
			license:  activeLicense(bound("dev-a")),
			deviceID: "dev-b",
			confirm:  true,
			want:     BindTakeover,
		},
		{
			name:     "takeover to the same device is a refresh",
			license:  activeLicense(bound("dev-a")),
			deviceID: "dev-a",
			confirm:  false,
			want:     BindRefresh,
		},
		{
			name:     "takeover of unbound license binds without confirm",
			license:  activeLicense(),
			deviceID: "dev-a",
			confirm:  false,
			want:     BindNew,
		},
		{
			name:     "revoked license rejected",
			license:  activeLicense(bound("dev-a"), func(l *License) { l.Status = StatusRevoked }),
			deviceID: "dev-b",
			confirm:  true,
			wantErr:  apperrors.ErrRevoked,
		},
		{
			name: "expired license rejected even with confirm",
			license: activeLicense(bound("dev-a"), func(l *License) {
				exp := testNow.Add(-time.Minute)
				l.ExpiresAt = &exp
			}),
			deviceID: "dev-b",
			confirm:  true,
			wantErr:  apperrors.ErrExpired,
		},
		{
			name:     "empty device id rejected",
			license:  activeLicense(),
			deviceID: "",
			wantErr:  apperrors.ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CheckTakeover(tt.license, tt.deviceID, tt.confirm, testNow)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckDeactivate(t *testing.T) {
	assert.NoError(t, CheckDeactivate(activeLicense(bound("dev-a"))))
	assert.NoError(t, CheckDeactivate(activeLicense()), "deactivating an unbound license is a no-op")
	assert.ErrorIs(t, CheckDeactivate(activeLicense(func(l *License) { l.Status = StatusRevoked })), apperrors.ErrRevoked)
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name      string
		license   *License
		deviceID  string
		wantValid bool
	}{
		{"active bound matching device", activeLicense(bound("dev-a")), "dev-a", true},
		{"active bound other device", activeLicense(bound("dev-a")), "dev-b", false},
		{"no device id skips device check", activeLicense(bound("dev-a")), "", true},
		{"unbound license with device id", activeLicense(), "dev-a", false},
		{"revoked", activeLicense(bound("dev-a"), func(l *License) { l.Status = StatusRevoked }), "dev-a", false},
		{
			"expired",
			activeLicense(bound("dev-a"), func(l *License) {
				exp := testNow.Add(-time.Minute)
				l.ExpiresAt = &exp
			}),
			"dev-a",
			false,
		},
		{"perpetual", activeLicense(bound("dev-a"), func(l *License) { l.ExpiresAt = nil }), "dev-a", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.license.Verify(tt.deviceID, testNow)
			assert.Equal(t, tt.wantValid, res.Valid)
			assert.Equal(t, tt.license.Status, res.Status)
		})
	}
}

func TestVerifyIsPure(t *testing.T) {
	l := activeLicense(bound("dev-a"))
	before := *l
	_ = l.Verify("dev-b", testNow)
	assert.Equal(t, before, *l, "verification must not mutate the record")
}

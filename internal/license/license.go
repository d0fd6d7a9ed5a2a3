package license

import (
	"time"
)

// Status values stored on a license record. Expiry is derived from
// ExpiresAt at read time and is never stored as a status.
const (
	StatusActive  = "active"
	StatusRevoked = "revoked"
)

// License is the sole persisted entity. A record is created exactly once by
// issuance, mutated by binding operations, and never deleted.
type License struct {
	LicenseKey     string     `json:"license_key"`
	Email          string     `json:"email,omitempty"`
	PaymentID      string     `json:"payment_id"`
	OrderID        string     `json:"order_id,omitempty"`
	AmountMinor    int64      `json:"amount_minor"`
	Currency       string     `json:"currency,omitempty"`
	Status         string     `json:"status"`
	DeviceID       string     `json:"device_id,omitempty"`
	Activations    int        `json:"activations"`
	MaxActivations int        `json:"max_activations"`
	ActivatedAt    *time.Time `json:"activated_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// Bound reports whether the single device slot is occupied.
func (l *License) Bound() bool {
	return l.DeviceID != ""
}

// BoundTo reports whether the license is currently bound to deviceID.
func (l *License) BoundTo(deviceID string) bool {
	return l.DeviceID != "" && l.DeviceID == deviceID
}

// Expired reports whether the license has passed its expiry at the given
// time. A nil ExpiresAt means a perpetual license that never expires.
func (l *License) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

// Revoked reports whether the license is in its terminal state.
func (l *License) Revoked() bool {
	return l.Status == StatusRevoked
}

// VerifyResult is the outcome of a pure verification read.
type VerifyResult struct {
	Valid          bool       `json:"valid"`
	Status         string     `json:"status"`
	IsExpired      bool       `json:"is_expired"`
	DeviceMatches  bool       `json:"device_matches"`
	Activations    int        `json:"activations"`
	MaxActivations int        `json:"max_activations"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// Verify evaluates license validity as a pure function of stored state and
// the current time. When deviceID is empty the device check is skipped.
// Verify never mutates anything.
func (l *License) Verify(deviceID string, now time.Time) VerifyResult {
	res := VerifyResult{
		Status:         l.Status,
		IsExpired:      l.Expired(now),
		DeviceMatches:  deviceID == "" || l.BoundTo(deviceID),
		Activations:    l.Activations,
		MaxActivations: l.MaxActivations,
		ExpiresAt:      l.ExpiresAt,
	}
	res.Valid = l.Status == StatusActive && !res.IsExpired && res.DeviceMatches
	return res
}

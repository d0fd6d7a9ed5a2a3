package license

import (
	"time"

	apperrors "licenseapi/internal/errors"
)

// BindOutcome describes what a successful activate/takeover must write back.
// Binding decisions always key off the currently stored DeviceID, never off
// the activations counter: re-activating the already-bound device must not
// be blocked by a capacity check, and activations is an audit counter that
// only grows when a new device is bound.
type BindOutcome int

const (
	// BindNew binds the free device slot: set device, activated_at=now,
	// activations+1.
	BindNew BindOutcome = iota
	// BindRefresh is the idempotent same-device re-activation: refresh
	// activated_at, leave activations unchanged.
	BindRefresh
	// BindTakeover moves the slot to a new device: replace device,
	// reset activated_at, activations+1.
	BindTakeover
)

// CheckActivate decides the outcome of Activate(licenseKey, deviceID, email)
// against the stored record. It returns a domain sentinel when activation
// must be rejected and performs no mutation itself.
func CheckActivate(l *License, deviceID, email string, now time.Time) (BindOutcome, error) {
	if deviceID == "" {
		return 0, apperrors.ErrInvalidRequest
	}
	if l.Revoked() {
		return 0, apperrors.ErrRevoked
	}
	if l.Status != StatusActive {
		return 0, apperrors.ErrRevoked
	}
	if l.Expired(now) {
		return 0, apperrors.ErrExpired
	}
	if email != "" && l.Email != "" && email != l.Email {
		return 0, apperrors.ErrEmailMismatch
	}

	// Same-device re-activation is always allowed.
	if l.BoundTo(deviceID) {
		return BindRefresh, nil
	}
	// Slot occupancy is the capacity: an unbound license accepts a new
	// binding no matter how many audit-counter increments it has seen.
	if l.Bound() {
		return 0, apperrors.ErrDeviceConflict
	}
	return BindNew, nil
}

// CheckTakeover decides Takeover(licenseKey, newDeviceID, confirm). Without
// confirm it is a dry run: a conflicting binding is reported as
// ErrDeviceConflict and nothing may be written. With confirm the existing
// binding is replaced.
func CheckTakeover(l *License, newDeviceID string, confirm bool, now time.Time) (BindOutcome, error) {
	if newDeviceID == "" {
		return 0, apperrors.ErrInvalidRequest
	}
	if l.Revoked() || l.Status != StatusActive {
		return 0, apperrors.ErrRevoked
	}
	if l.Expired(now) {
		return 0, apperrors.ErrExpired
	}

	if l.BoundTo(newDeviceID) {
		return BindRefresh, nil
	}
	if !l.Bound() {
		return BindNew, nil
	}
	if !confirm {
		return 0, apperrors.ErrDeviceConflict
	}
	return BindTakeover, nil
}

// CheckDeactivate decides HardUnbind/Deactivate. Unbinding an already
// unbound license is a no-op success; a revoked license stays revoked.
func CheckDeactivate(l *License) error {
	if l.Revoked() {
		return apperrors.ErrRevoked
	}
	return nil
}

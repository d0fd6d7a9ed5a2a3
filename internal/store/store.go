// Package store persists license records. The store is the source of truth
// and the sole serialization point for concurrent mutations: every write is
// conditional and reports ErrConflict when its guard no longer holds, so
// racing requests resolve to exactly one winner.
package store

import (
	"context"
	"errors"
	"time"

	"licenseapi/internal/license"
)

var (
	// ErrNotFound is returned when no record matches the lookup key.
	ErrNotFound = errors.New("store: license not found")
	// ErrConflict is returned on a duplicate insert or when a conditional
	// update's guard fails. Callers re-fetch and re-decide; it is never
	// surfaced to API clients as-is.
	ErrConflict = errors.New("store: conflict")
)

// Store is the persistence contract for license records. All operations are
// atomic at the single-row level; no multi-row transactions are needed.
type Store interface {
	GetByKey(ctx context.Context, licenseKey string) (*license.License, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*license.License, error)

	// Insert creates a new record. ErrConflict means a record with the same
	// payment_id or license_key already exists; issuance treats that as
	// "already issued" and re-fetches.
	Insert(ctx context.Context, l *license.License) error

	// BindDevice writes a binding decided by the state machine. The write is
	// guarded on the device slot still holding prevDeviceID (empty string
	// for an unbound slot) and the license still being active; ErrConflict
	// means another writer got there first.
	BindDevice(ctx context.Context, licenseKey, deviceID string, activatedAt time.Time, increment bool, prevDeviceID string) error

	// ClearBinding releases the device slot. Guarded on the license not
	// being revoked. Clearing an already-clear slot is a no-op success.
	ClearBinding(ctx context.Context, licenseKey string) error

	// Revoke moves the license to its terminal state and clears the slot.
	// Revoking an already-revoked license is a no-op success.
	Revoke(ctx context.Context, licenseKey string) error

	// Ping reports whether the backing database is reachable.
	Ping(ctx context.Context) error

	Close() error
}

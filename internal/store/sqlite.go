package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"licenseapi/internal/license"
)

const schema = `
CREATE TABLE IF NOT EXISTS licenses (
	license_key     TEXT PRIMARY KEY,
	email           TEXT NOT NULL DEFAULT '',
	payment_id      TEXT NOT NULL UNIQUE,
	order_id        TEXT NOT NULL DEFAULT '',
	amount_minor    INTEGER NOT NULL DEFAULT 0,
	currency        TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'active',
	device_id       TEXT NOT NULL DEFAULT '',
	activations     INTEGER NOT NULL DEFAULT 0,
	max_activations INTEGER NOT NULL DEFAULT 1,
	activated_at    TEXT,
	created_at      TEXT NOT NULL,
	expires_at      TEXT
);
CREATE INDEX IF NOT EXISTS idx_licenses_email ON licenses(email);
`

// SQLiteStore implements Store on a local SQLite database via the pure-Go
// modernc.org/sqlite driver.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for an ephemeral store in tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		// WAL keeps concurrent readers unblocked during writes.
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The driver serializes writes; a single connection avoids SQLITE_BUSY
	// on the in-memory DSN where each connection gets its own database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const selectCols = `license_key, email, payment_id, order_id, amount_minor, currency,
	status, device_id, activations, max_activations, activated_at, created_at, expires_at`

func (s *SQLiteStore) GetByKey(ctx context.Context, licenseKey string) (*license.License, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectCols+` FROM licenses WHERE license_key = ?`, licenseKey)
	return scanLicense(row)
}

func (s *SQLiteStore) GetByPaymentID(ctx context.Context, paymentID string) (*license.License, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectCols+` FROM licenses WHERE payment_id = ?`, paymentID)
	return scanLicense(row)
}

func (s *SQLiteStore) Insert(ctx context.Context, l *license.License) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO licenses (`+selectCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.LicenseKey, l.Email, l.PaymentID, l.OrderID, l.AmountMinor, l.Currency,
		l.Status, l.DeviceID, l.Activations, l.MaxActivations,
		nullTime(l.ActivatedAt), fmtTime(l.CreatedAt), nullTime(l.ExpiresAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert license: %w", err)
	}
	return nil
}

func (s *SQLiteStore) BindDevice(ctx context.Context, licenseKey, deviceID string, activatedAt time.Time, increment bool, prevDeviceID string) error {
	inc := 0
	if increment {
		inc = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE licenses
		 SET device_id = ?, activated_at = ?, activations = activations + ?
		 WHERE license_key = ? AND status = ? AND device_id = ?`,
		deviceID, fmtTime(activatedAt), inc, licenseKey, license.StatusActive, prevDeviceID)
	if err != nil {
		return fmt.Errorf("bind device: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) ClearBinding(ctx context.Context, licenseKey string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET device_id = '', activated_at = NULL
		 WHERE license_key = ? AND status != ?`,
		licenseKey, license.StatusRevoked)
	if err != nil {
		return fmt.Errorf("clear binding: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) Revoke(ctx context.Context, licenseKey string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET status = ?, device_id = '', activated_at = NULL
		 WHERE license_key = ?`,
		license.StatusRevoked, licenseKey)
	if err != nil {
		return fmt.Errorf("revoke license: %w", err)
	}
	return requireRow(res)
}

// requireRow maps a zero-row conditional update to ErrConflict; the caller
// re-fetches to find out whether the record is gone or the guard failed.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (*license.License, error) {
	var (
		l                               license.License
		activatedAt, createdAt, expires sql.NullString
	)
	err := row.Scan(&l.LicenseKey, &l.Email, &l.PaymentID, &l.OrderID,
		&l.AmountMinor, &l.Currency, &l.Status, &l.DeviceID,
		&l.Activations, &l.MaxActivations, &activatedAt, &createdAt, &expires)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan license: %w", err)
	}

	if l.CreatedAt, err = parseTime(createdAt.String); err != nil {
		return nil, err
	}
	if l.ActivatedAt, err = parseNullTime(activatedAt); err != nil {
		return nil, err
	}
	if l.ExpiresAt, err = parseNullTime(expires); err != nil {
		return nil, err
	}
	return &l, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

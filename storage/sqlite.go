package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/fonzu/push"
)

// SQLite implements Store using SQLite.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (and provisions, if needed) SQLite storage.
// dsn is the data source name, e.g. "push.db" or ":memory:".
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS push_subscriptions (
			endpoint TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			p256dh TEXT NOT NULL,
			auth TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_push_subscriptions_active ON push_subscriptions(active);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Upsert inserts a subscription or overwrites key material and reactivates
// the row when the endpoint already exists.
func (s *SQLite) Upsert(ctx context.Context, endpoint string, keys push.Keys) (*Record, error) {
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (endpoint, id, p256dh, auth, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			active = 1,
			updated_at = excluded.updated_at
	`, endpoint, uuid.New().String(), keys.P256dh, keys.Auth, now, now)
	if err != nil {
		return nil, classify(fmt.Errorf("saving subscription: %w", err))
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT endpoint, id, p256dh, auth, active, created_at, updated_at
		FROM push_subscriptions WHERE endpoint = ?
	`, endpoint)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, classify(err)
	}
	return rec, nil
}

// Deactivate marks the endpoint inactive. Unknown endpoints are a no-op.
func (s *SQLite) Deactivate(ctx context.Context, endpoint string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE push_subscriptions SET active = 0, updated_at = ? WHERE endpoint = ?
	`, time.Now().UTC(), endpoint)
	if err != nil {
		return classify(fmt.Errorf("deactivating subscription: %w", err))
	}
	return nil
}

// ListActive returns all active records, most recently created first.
func (s *SQLite) ListActive(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT endpoint, id, p256dh, auth, active, created_at, updated_at
		FROM push_subscriptions
		WHERE active = 1
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, classify(fmt.Errorf("querying subscriptions: %w", err))
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return records, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec    Record
		active int
	)
	err := row.Scan(&rec.Endpoint, &rec.ID, &rec.Keys.P256dh, &rec.Keys.Auth, &active, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning row: %w", err)
	}
	rec.Active = active != 0
	return &rec, nil
}

// classify maps a missing-table error to ErrUnavailable so callers can treat
// an unprovisioned store as a soft condition.
func classify(err error) error {
	if err != nil && strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

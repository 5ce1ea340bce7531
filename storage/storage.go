// Package storage persists push subscription records. The endpoint URL is
// the record identity; records are deactivated, never deleted, so repeat
// registrations stay idempotent and history survives for audit.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/fonzu/push"
)

// ErrUnavailable means the backing table is not provisioned yet. Callers
// treat it as a soft condition: registration reports success anyway and
// dispatch sees zero subscribers.
var ErrUnavailable = errors.New("subscription store unavailable")

// Record is one stored subscription.
type Record struct {
	ID        string    `json:"id"` // surrogate id, for logs; endpoint is the identity
	Endpoint  string    `json:"endpoint"`
	Keys      push.Keys `json:"keys"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subscription returns the delivery view of the record.
func (r *Record) Subscription() *push.Subscription {
	return &push.Subscription{Endpoint: r.Endpoint, Keys: r.Keys}
}

// Store is the subscription record store.
type Store interface {
	// Upsert inserts a subscription or, when the endpoint is already known,
	// overwrites its key material and reactivates it. Never errors on a
	// duplicate endpoint.
	Upsert(ctx context.Context, endpoint string, keys push.Keys) (*Record, error)

	// Deactivate marks the endpoint inactive. Unknown endpoints are a no-op.
	Deactivate(ctx context.Context, endpoint string) error

	// ListActive returns all active records, most recently created first.
	ListActive(ctx context.Context) ([]*Record, error)

	// Close closes the storage connection.
	Close() error
}

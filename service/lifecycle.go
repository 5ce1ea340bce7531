// Package service orchestrates the push subsystem: the subscription
// lifecycle (register/unregister against the store) and notification
// dispatch (fan-out over every active subscription).
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"

	"github.com/fonzu/push"
	"github.com/fonzu/push/storage"
)

// Lifecycle is the thin boundary between subscribing clients and the store.
type Lifecycle struct {
	store storage.Store
}

// NewLifecycle creates a lifecycle service over the given store.
func NewLifecycle(store storage.Store) *Lifecycle {
	return &Lifecycle{store: store}
}

// Register validates and upserts a subscription. An unprovisioned store is
// not surfaced to the caller: the browser-side subscription already exists,
// so failing here would only confuse first-run setups. Logged instead.
func (l *Lifecycle) Register(ctx context.Context, sub *push.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}

	rec, err := l.store.Upsert(ctx, sub.Endpoint, sub.Keys)
	if err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			clog.FromContext(ctx).Warnf("subscription store unavailable, registration not persisted: %v", err)
			return nil
		}
		return fmt.Errorf("registering subscription: %w", err)
	}

	clog.FromContext(ctx).Infof("subscription registered: %s", rec.ID)
	return nil
}

// Unregister deactivates the endpoint's record. Unknown endpoints succeed;
// deactivation is idempotent. Same soft policy for an unprovisioned store.
func (l *Lifecycle) Unregister(ctx context.Context, endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", push.ErrValidation)
	}

	if err := l.store.Deactivate(ctx, endpoint); err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			clog.FromContext(ctx).Warnf("subscription store unavailable, unregistration not persisted: %v", err)
			return nil
		}
		return fmt.Errorf("unregistering subscription: %w", err)
	}

	clog.FromContext(ctx).Infof("subscription deactivated")
	return nil
}

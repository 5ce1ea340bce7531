package subscriber

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/chainguard-dev/clog"

	"github.com/fonzu/push"
)

// ErrUnsupported means the platform has no push capability; the agent stays
// in StatusUnsupported permanently and exposes no further actions.
var ErrUnsupported = errors.New("push notifications not supported")

// Agent drives the subscription lifecycle on the client.
type Agent struct {
	platform     Platform
	api          *Client
	appServerKey []byte

	mu     sync.Mutex
	status Status
}

// NewAgent creates an agent. appServerKey is the VAPID public key in
// uncompressed form (see keys.DecodeApplicationServerKey).
func NewAgent(platform Platform, api *Client, appServerKey []byte) *Agent {
	status := StatusUnsupported
	if platform.Supported() {
		status = StatusUnsubscribed
	}
	return &Agent{
		platform:     platform,
		api:          api,
		appServerKey: appServerKey,
		status:       status,
	}
}

// CheckSupport reports whether the platform can deliver push notifications.
func (a *Agent) CheckSupport() bool {
	return a.platform.Supported()
}

// Status returns the agent's current lifecycle state.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Subscribe requests permission, creates the platform subscription, and
// registers it with the server. A server-side registration failure does not
// fail the call: the platform subscription already exists and will deliver
// once the server catches up, so the user is told it worked and the
// discrepancy is logged.
func (a *Agent) Subscribe(ctx context.Context) error {
	if !a.setStatus(StatusUnsubscribed, StatusSubscribing) {
		if a.Status() == StatusUnsupported {
			return ErrUnsupported
		}
		return nil // already subscribed or in flight
	}

	platSub, err := a.platform.Subscribe(ctx, a.appServerKey)
	if err != nil {
		a.forceStatus(StatusUnsubscribed)
		if errors.Is(err, push.ErrPermissionDenied) {
			return fmt.Errorf("subscribing: %w", err)
		}
		return fmt.Errorf("creating platform subscription: %w", err)
	}

	sub := encodeSubscription(platSub)
	if err := a.api.Register(ctx, sub); err != nil {
		// Platform subscription is live but the server doesn't know it.
		// Reconciliation happens on the next subscribe; registration is
		// idempotent.
		clog.FromContext(ctx).Warnf("server registration failed, platform subscription kept: %v", err)
	}

	a.forceStatus(StatusSubscribed)
	return nil
}

// Unsubscribe deactivates the server-side record before tearing down the
// platform subscription, so the server stops delivering even if local
// teardown fails afterwards.
func (a *Agent) Unsubscribe(ctx context.Context) error {
	if a.Status() == StatusUnsupported {
		return ErrUnsupported
	}

	current, err := a.platform.Current(ctx)
	if err != nil {
		return fmt.Errorf("reading current subscription: %w", err)
	}
	if current == nil {
		a.forceStatus(StatusUnsubscribed)
		return nil
	}

	a.forceStatus(StatusUnsubscribing)

	if err := a.api.Unregister(ctx, current.Endpoint); err != nil {
		clog.FromContext(ctx).Warnf("server unregistration failed: %v", err)
	}
	if err := a.platform.Unsubscribe(ctx); err != nil {
		a.forceStatus(StatusSubscribed)
		return fmt.Errorf("tearing down platform subscription: %w", err)
	}

	a.forceStatus(StatusUnsubscribed)
	return nil
}

// Subscribed reports whether a live platform subscription exists. This is
// platform truth, independent of server-side state; the two can diverge.
func (a *Agent) Subscribed(ctx context.Context) (bool, error) {
	if !a.platform.Supported() {
		return false, nil
	}
	current, err := a.platform.Current(ctx)
	if err != nil {
		return false, fmt.Errorf("reading current subscription: %w", err)
	}
	return current != nil, nil
}

// encodeSubscription converts raw platform key material to the base64url
// wire format the server stores.
func encodeSubscription(ps *PlatformSubscription) *push.Subscription {
	return &push.Subscription{
		Endpoint: ps.Endpoint,
		Keys: push.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(ps.P256dh),
			Auth:   base64.RawURLEncoding.EncodeToString(ps.Auth),
		},
	}
}

// setStatus transitions from want to next atomically; reports success.
func (a *Agent) setStatus(want, next Status) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != want {
		return false
	}
	a.status = next
	return true
}

func (a *Agent) forceStatus(s Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = s
}

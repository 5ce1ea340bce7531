// Package subscriber bridges a platform's native push capability to the
// server-side subscription lifecycle. The platform (in production, the
// browser's service-worker registration and PushManager) is abstracted so
// the agent's ordering and failure rules are testable.
package subscriber

import "context"

// Status is the agent's lifecycle state.
type Status string

const (
	StatusUnsupported   Status = "unsupported"
	StatusUnsubscribed  Status = "unsubscribed"
	StatusSubscribing   Status = "subscribing"
	StatusSubscribed    Status = "subscribed"
	StatusUnsubscribing Status = "unsubscribing"
)

// PlatformSubscription is the push channel the platform created: the
// endpoint URL plus raw key material.
type PlatformSubscription struct {
	Endpoint string
	P256dh   []byte
	Auth     []byte
}

// Platform is the native push capability.
type Platform interface {
	// Supported reports whether service workers and push are available.
	Supported() bool

	// Subscribe requests notification permission and creates a platform
	// subscription bound to the application server key. Returns an error
	// wrapping push.ErrPermissionDenied when the user refuses.
	Subscribe(ctx context.Context, applicationServerKey []byte) (*PlatformSubscription, error)

	// Current returns the live subscription, or nil when there is none.
	Current(ctx context.Context) (*PlatformSubscription, error)

	// Unsubscribe tears down the live subscription.
	Unsubscribe(ctx context.Context) error
}

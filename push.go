// Package push defines the domain model for the Fonzu Wiki push-notification
// subsystem: subscriptions registered by browsers, outbound notifications
// fanned out to them, and the error kinds shared across the subsystem.
package push

import (
	"errors"
	"fmt"
)

// Error kinds. Operations wrap these so callers can classify failures with
// errors.Is and map them to transport status codes.
var (
	// ErrValidation indicates a malformed or incomplete request. Never
	// retried automatically.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized indicates a missing or mismatched dispatch credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPermissionDenied indicates the user declined notification
	// permission on the client. Requires a new user action to retry.
	ErrPermissionDenied = errors.New("notification permission denied")
)

// Keys contains the client's encryption key material. Opaque to everything
// but the push transport; replaced wholesale on re-subscription.
type Keys struct {
	P256dh string `json:"p256dh"` // Client's ECDH public key
	Auth   string `json:"auth"`   // Client's authentication secret
}

// Subscription identifies one push delivery channel as registered by a
// browser. The endpoint URL is the subscription's identity.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     Keys   `json:"keys"`
}

// Validate checks that the subscription carries everything delivery needs.
func (s *Subscription) Validate() error {
	if s.Endpoint == "" {
		return fmt.Errorf("%w: subscription endpoint is required", ErrValidation)
	}
	if s.Keys.P256dh == "" {
		return fmt.Errorf("%w: subscription p256dh key is required", ErrValidation)
	}
	if s.Keys.Auth == "" {
		return fmt.Errorf("%w: subscription auth key is required", ErrValidation)
	}
	return nil
}

// Action is one button on a displayed notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Notification is one logical outbound message. It is ephemeral: dispatched
// to every active subscription and never persisted.
type Notification struct {
	Title              string   `json:"title"`
	Body               string   `json:"body"`
	URL                string   `json:"url,omitempty"`
	Image              string   `json:"image,omitempty"`
	Icon               string   `json:"icon,omitempty"`
	Badge              string   `json:"badge,omitempty"`
	Tag                string   `json:"tag,omitempty"` // grouping key; later messages with the same tag replace earlier ones
	RequireInteraction bool     `json:"requireInteraction,omitempty"`
	Actions            []Action `json:"actions,omitempty"`
}

// Validate checks the fields required for display.
func (n *Notification) Validate() error {
	if n.Title == "" {
		return fmt.Errorf("%w: notification title is required", ErrValidation)
	}
	if n.Body == "" {
		return fmt.Errorf("%w: notification body is required", ErrValidation)
	}
	return nil
}

// DispatchStatus distinguishes why a dispatch produced its counts.
type DispatchStatus string

const (
	// StatusSent means deliveries were attempted; see the counts.
	StatusSent DispatchStatus = "sent"
	// StatusNoSubscribers means there was nothing to deliver to.
	StatusNoSubscribers DispatchStatus = "no_subscribers"
	// StatusDisabled means no VAPID signing key is configured, so delivery
	// is switched off. Deliberate degraded mode for development, not an
	// error.
	StatusDisabled DispatchStatus = "disabled"
)

// DispatchSummary aggregates one fan-out. Individual endpoints are never
// itemized to the caller; they are not user-addressable.
type DispatchSummary struct {
	Status    DispatchStatus
	Attempted int
	Delivered int
	Failed    int
}

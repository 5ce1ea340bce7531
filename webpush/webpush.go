// Package webpush implements the Web Push delivery transport: RFC 8291
// payload encryption and VAPID-authenticated HTTP delivery to a
// subscription's endpoint. Callers orchestrate around it; this package sends
// exactly one message to exactly one endpoint per call.
package webpush

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fonzu/push"
)

// DefaultTTL is how long the push service may hold an undelivered message.
const DefaultTTL = 2419200 // 4 weeks, in seconds

// Signer provides VAPID signing functionality.
type Signer interface {
	// Sign signs the given data and returns the signature.
	Sign(ctx context.Context, data []byte) ([]byte, error)
	// PublicKey returns the ECDSA public key in uncompressed format.
	PublicKey() []byte
}

// Options configures one delivery.
type Options struct {
	TTL     int    // seconds the push service may queue the message (default DefaultTTL)
	Urgency string // very-low, low, normal, high
	Topic   string // replacement key on the push service side
}

// StatusError is a non-2xx response from the push service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("push service returned %d: %s", e.Code, e.Body)
}

// IsGone reports whether err means the endpoint is permanently invalid and
// will never accept another delivery.
func IsGone(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == http.StatusGone || se.Code == http.StatusNotFound
}

// Client sends web push messages.
type Client struct {
	signer     Signer
	httpClient *http.Client
	subject    string // VAPID subject (mailto: or https: URL)
}

// NewClient creates a web push client that signs with the given signer.
func NewClient(signer Signer, subject string) *Client {
	return &Client{
		signer:     signer,
		httpClient: http.DefaultClient,
		subject:    subject,
	}
}

// WithHTTPClient sets a custom HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

// Send encrypts payload for the subscription's keys and posts it to the
// subscription's endpoint. A non-2xx answer from the push service is
// returned as a *StatusError.
func (c *Client) Send(ctx context.Context, sub *push.Subscription, payload []byte, opts *Options) error {
	if opts == nil {
		opts = &Options{}
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}

	body, err := encrypt(sub.Keys, payload)
	if err != nil {
		return fmt.Errorf("encrypting payload: %w", err)
	}

	auth, err := c.vapidAuthorization(ctx, sub.Endpoint)
	if err != nil {
		return fmt.Errorf("building VAPID authorization: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Content-Encoding", "aes128gcm")
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("TTL", strconv.Itoa(ttl))
	if opts.Urgency != "" {
		req.Header.Set("Urgency", opts.Urgency)
	}
	if opts.Topic != "" {
		req.Header.Set("Topic", opts.Topic)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: string(b)}
	}
	return nil
}

// vapidAuthorization builds the Authorization header for the endpoint's
// origin: a short-lived ES256 JWT plus the application server public key.
func (c *Client) vapidAuthorization(ctx context.Context, endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint: %w", err)
	}
	audience := u.Scheme + "://" + u.Host

	header, err := json.Marshal(map[string]string{
		"typ": "JWT",
		"alg": "ES256",
	})
	if err != nil {
		return "", fmt.Errorf("marshaling header: %w", err)
	}
	claims, err := json.Marshal(map[string]any{
		"aud": audience,
		"exp": time.Now().Add(12 * time.Hour).Unix(),
		"sub": c.subject,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling claims: %w", err)
	}

	signingInput := base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(claims)
	digest := sha256.Sum256([]byte(signingInput))

	sig, err := c.signer.Sign(ctx, digest[:])
	if err != nil {
		return "", fmt.Errorf("signing JWT: %w", err)
	}

	jwt := signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
	k := base64.RawURLEncoding.EncodeToString(c.signer.PublicKey())
	return "vapid t=" + jwt + ", k=" + k, nil
}

package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/fonzu/push"
)

// fakePlatform scripts the browser push capability.
type fakePlatform struct {
	supported    bool
	subscription *PlatformSubscription
	subscribeErr error
	events       *eventLog
}

func (p *fakePlatform) Supported() bool { return p.supported }

func (p *fakePlatform) Subscribe(_ context.Context, _ []byte) (*PlatformSubscription, error) {
	if p.subscribeErr != nil {
		return nil, p.subscribeErr
	}
	return p.subscription, nil
}

func (p *fakePlatform) Current(context.Context) (*PlatformSubscription, error) {
	return p.subscription, nil
}

func (p *fakePlatform) Unsubscribe(context.Context) error {
	p.events.add("platform teardown")
	p.subscription = nil
	return nil
}

// eventLog records cross-component ordering.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// newTestServer serves the registration API, logging actions and capturing
// the last registered subscription.
func newTestServer(t *testing.T, events *eventLog, status int) (*httptest.Server, *struct{ last push.Subscription }) {
	t.Helper()
	captured := &struct{ last push.Subscription }{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		action := r.URL.Query().Get("action")
		events.add("server " + action)
		if action == "subscribe" {
			if err := json.NewDecoder(r.Body).Decode(&captured.last); err != nil {
				t.Errorf("decoding subscription: %v", err)
			}
		}
		w.WriteHeader(status)
		fmt.Fprint(w, `{"success":true,"message":"ok"}`)
	}))
	t.Cleanup(server.Close)
	return server, captured
}

func testPlatformSubscription() *PlatformSubscription {
	return &PlatformSubscription{
		Endpoint: "https://push.example.com/abc123",
		P256dh:   []byte{0x04, 0x01, 0x02},
		Auth:     []byte{0x0a, 0x0b},
	}
}

func TestSubscribe(t *testing.T) {
	events := &eventLog{}
	server, captured := newTestServer(t, events, http.StatusOK)
	platform := &fakePlatform{supported: true, subscription: testPlatformSubscription(), events: events}
	agent := NewAgent(platform, NewClient(server.URL), []byte("app-key"))

	if got := agent.Status(); got != StatusUnsubscribed {
		t.Fatalf("Status() = %q, want %q", got, StatusUnsubscribed)
	}
	if err := agent.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if got := agent.Status(); got != StatusSubscribed {
		t.Errorf("Status() = %q, want %q", got, StatusSubscribed)
	}

	if captured.last.Endpoint != "https://push.example.com/abc123" {
		t.Errorf("registered endpoint = %q", captured.last.Endpoint)
	}
	// Key material is base64url, no padding.
	if captured.last.Keys.P256dh != "BAEC" {
		t.Errorf("registered p256dh = %q, want %q", captured.last.Keys.P256dh, "BAEC")
	}
	if captured.last.Keys.Auth != "Cgs" {
		t.Errorf("registered auth = %q, want %q", captured.last.Keys.Auth, "Cgs")
	}
}

func TestSubscribeUnsupported(t *testing.T) {
	events := &eventLog{}
	server, _ := newTestServer(t, events, http.StatusOK)
	agent := NewAgent(&fakePlatform{supported: false, events: events}, NewClient(server.URL), nil)

	if got := agent.Status(); got != StatusUnsupported {
		t.Fatalf("Status() = %q, want %q", got, StatusUnsupported)
	}
	if agent.CheckSupport() {
		t.Error("CheckSupport() = true, want false")
	}
	if err := agent.Subscribe(context.Background()); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Subscribe() error = %v, want ErrUnsupported", err)
	}
}

func TestSubscribePermissionDenied(t *testing.T) {
	events := &eventLog{}
	server, _ := newTestServer(t, events, http.StatusOK)
	platform := &fakePlatform{
		supported:    true,
		subscribeErr: fmt.Errorf("user dismissed prompt: %w", push.ErrPermissionDenied),
		events:       events,
	}
	agent := NewAgent(platform, NewClient(server.URL), nil)

	err := agent.Subscribe(context.Background())
	if !errors.Is(err, push.ErrPermissionDenied) {
		t.Fatalf("Subscribe() error = %v, want ErrPermissionDenied", err)
	}
	if got := agent.Status(); got != StatusUnsubscribed {
		t.Errorf("Status() = %q after refusal, want %q", got, StatusUnsubscribed)
	}
	if len(events.list()) != 0 {
		t.Errorf("server contacted after permission refusal: %v", events.list())
	}
}

func TestSubscribeToleratesRegisterFailure(t *testing.T) {
	events := &eventLog{}
	server, _ := newTestServer(t, events, http.StatusInternalServerError)
	platform := &fakePlatform{supported: true, subscription: testPlatformSubscription(), events: events}
	agent := NewAgent(platform, NewClient(server.URL), nil)

	// The platform subscription already exists; a server-side failure must
	// not be surfaced to the user.
	if err := agent.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe() error = %v, want nil despite register failure", err)
	}
	if got := agent.Status(); got != StatusSubscribed {
		t.Errorf("Status() = %q, want %q", got, StatusSubscribed)
	}
}

func TestUnsubscribeOrdering(t *testing.T) {
	events := &eventLog{}
	server, _ := newTestServer(t, events, http.StatusOK)
	platform := &fakePlatform{supported: true, subscription: testPlatformSubscription(), events: events}
	agent := NewAgent(platform, NewClient(server.URL), nil)

	if err := agent.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := agent.Unsubscribe(context.Background()); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if got := agent.Status(); got != StatusUnsubscribed {
		t.Errorf("Status() = %q, want %q", got, StatusUnsubscribed)
	}

	// The server record must be deactivated before local teardown, so the
	// server stops delivering even if teardown fails.
	want := []string{"server subscribe", "server unsubscribe", "platform teardown"}
	got := events.list()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestUnsubscribeWithoutSubscription(t *testing.T) {
	events := &eventLog{}
	server, _ := newTestServer(t, events, http.StatusOK)
	platform := &fakePlatform{supported: true, events: events}
	agent := NewAgent(platform, NewClient(server.URL), nil)

	if err := agent.Unsubscribe(context.Background()); err != nil {
		t.Fatalf("Unsubscribe() error = %v, want nil when nothing is subscribed", err)
	}
	if len(events.list()) != 0 {
		t.Errorf("events = %v, want none", events.list())
	}
}

func TestSubscribed(t *testing.T) {
	platform := &fakePlatform{supported: true, subscription: testPlatformSubscription(), events: &eventLog{}}
	agent := NewAgent(platform, NewClient("http://unused"), nil)

	got, err := agent.Subscribed(context.Background())
	if err != nil {
		t.Fatalf("Subscribed() error = %v", err)
	}
	if !got {
		t.Error("Subscribed() = false, want true")
	}

	platform.subscription = nil
	got, err = agent.Subscribed(context.Background())
	if err != nil {
		t.Fatalf("Subscribed() error = %v", err)
	}
	if got {
		t.Error("Subscribed() = true, want false")
	}
}

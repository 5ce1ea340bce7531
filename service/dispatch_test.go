package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fonzu/push"
	"github.com/fonzu/push/storage"
	"github.com/fonzu/push/webpush"
)

// fakeSender records deliveries and fails endpoints on demand.
type fakeSender struct {
	mu        sync.Mutex
	sent      []string
	failWith  map[string]error // endpoint -> error
	delay     time.Duration
	inFlight  atomic.Int32
	maxPar    atomic.Int32
	respectCx bool
}

func (f *fakeSender) Send(ctx context.Context, sub *push.Subscription, _ []byte, _ *webpush.Options) error {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxPar.Load()
		if cur <= max || f.maxPar.CompareAndSwap(max, cur) {
			break
		}
	}

	if f.delay > 0 {
		if f.respectCx {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		} else {
			time.Sleep(f.delay)
		}
	}

	f.mu.Lock()
	f.sent = append(f.sent, sub.Endpoint)
	f.mu.Unlock()

	if err, ok := f.failWith[sub.Endpoint]; ok {
		return err
	}
	return nil
}

func seedStore(t *testing.T, n int) *storage.Memory {
	t.Helper()
	store := storage.NewMemory()
	for i := 0; i < n; i++ {
		endpoint := fmt.Sprintf("https://push.example.com/sub-%d", i)
		if _, err := store.Upsert(context.Background(), endpoint, push.Keys{P256dh: "pk", Auth: "a"}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}
	return store
}

func testNotification() *push.Notification {
	return &push.Notification{
		Title: "New banner",
		Body:  "Limited character live now",
		URL:   "/news/123",
		Tag:   "news",
	}
}

func TestDispatchSettleAll(t *testing.T) {
	store := seedStore(t, 5)
	sender := &fakeSender{failWith: map[string]error{
		"https://push.example.com/sub-1": errors.New("connection reset"),
		"https://push.example.com/sub-3": errors.New("timeout"),
	}}
	d := NewDispatcher(store, sender)

	summary, err := d.Dispatch(context.Background(), testNotification())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if summary.Status != push.StatusSent {
		t.Errorf("Status = %q, want %q", summary.Status, push.StatusSent)
	}
	if summary.Attempted != 5 || summary.Delivered != 3 || summary.Failed != 2 {
		t.Errorf("summary = %+v, want attempted 5, delivered 3, failed 2", summary)
	}
	if len(sender.sent) != 5 {
		t.Errorf("sender saw %d attempts, want 5 (failures must not abort the batch)", len(sender.sent))
	}
}

func TestDispatchEmpty(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(storage.NewMemory(), sender)

	summary, err := d.Dispatch(context.Background(), testNotification())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if summary.Status != push.StatusNoSubscribers {
		t.Errorf("Status = %q, want %q", summary.Status, push.StatusNoSubscribers)
	}
	if summary.Attempted != 0 || summary.Delivered != 0 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want all zero", summary)
	}
	if len(sender.sent) != 0 {
		t.Errorf("sender contacted %d times with zero subscriptions", len(sender.sent))
	}
}

func TestDispatchDisabled(t *testing.T) {
	d := NewDispatcher(seedStore(t, 3), nil)

	summary, err := d.Dispatch(context.Background(), testNotification())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if summary.Status != push.StatusDisabled {
		t.Errorf("Status = %q, want %q", summary.Status, push.StatusDisabled)
	}
	if summary.Attempted != 0 {
		t.Errorf("Attempted = %d, want 0 in degraded mode", summary.Attempted)
	}
}

func TestDispatchValidation(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(seedStore(t, 2), sender)

	for _, n := range []*push.Notification{
		{Body: "no title"},
		{Title: "no body"},
	} {
		_, err := d.Dispatch(context.Background(), n)
		if !errors.Is(err, push.ErrValidation) {
			t.Errorf("Dispatch(%+v) error = %v, want ErrValidation", n, err)
		}
	}
	if len(sender.sent) != 0 {
		t.Errorf("sender contacted %d times on invalid input, want 0", len(sender.sent))
	}
}

func TestDispatchStoreUnavailable(t *testing.T) {
	d := NewDispatcher(unavailableStore{}, &fakeSender{})

	summary, err := d.Dispatch(context.Background(), testNotification())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if summary.Status != push.StatusNoSubscribers {
		t.Errorf("Status = %q, want %q (unprovisioned store is zero subscribers)", summary.Status, push.StatusNoSubscribers)
	}
}

func TestDispatchDeactivatesGoneEndpoints(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, 3)
	sender := &fakeSender{failWith: map[string]error{
		"https://push.example.com/sub-0": &webpush.StatusError{Code: http.StatusGone, Body: "expired"},
	}}
	d := NewDispatcher(store, sender)

	summary, err := d.Dispatch(ctx, testNotification())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("Failed = %d, want 1", summary.Failed)
	}

	active, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("ListActive() count = %d, want 2 after gone endpoint deactivated", len(active))
	}
	for _, rec := range active {
		if rec.Endpoint == "https://push.example.com/sub-0" {
			t.Error("gone endpoint still active")
		}
	}
}

func TestDispatchBoundedConcurrency(t *testing.T) {
	sender := &fakeSender{delay: 20 * time.Millisecond}
	d := NewDispatcher(seedStore(t, 8), sender).WithWidth(2)

	if _, err := d.Dispatch(context.Background(), testNotification()); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if max := sender.maxPar.Load(); max > 2 {
		t.Errorf("max concurrent deliveries = %d, want <= 2", max)
	}
}

func TestDispatchTimeout(t *testing.T) {
	sender := &fakeSender{delay: 200 * time.Millisecond, respectCx: true}
	d := NewDispatcher(seedStore(t, 2), sender).WithTimeout(20 * time.Millisecond)

	start := time.Now()
	summary, err := d.Dispatch(context.Background(), testNotification())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if summary.Failed != 2 {
		t.Errorf("Failed = %d, want 2 (timeouts count as failed)", summary.Failed)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Dispatch() took %v, timed-out attempts must not block the join", elapsed)
	}
}

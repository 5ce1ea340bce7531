package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"

	"github.com/fonzu/push"
	"github.com/fonzu/push/storage"
	"github.com/fonzu/push/webpush"
)

const (
	defaultWidth   = 16
	defaultTimeout = 10 * time.Second
	defaultTTL     = 3600
)

// Sender delivers one encrypted message to one endpoint.
type Sender interface {
	Send(ctx context.Context, sub *push.Subscription, payload []byte, opts *webpush.Options) error
}

// Dispatcher fans one notification out to every active subscription.
type Dispatcher struct {
	store   storage.Store
	sender  Sender // nil means no signing key is configured; dispatch degrades to a no-op
	width   int
	timeout time.Duration
	ttl     int
}

// NewDispatcher creates a dispatcher. sender may be nil when the outbound
// transport is unconfigured; Dispatch then reports StatusDisabled.
func NewDispatcher(store storage.Store, sender Sender) *Dispatcher {
	return &Dispatcher{
		store:   store,
		sender:  sender,
		width:   defaultWidth,
		timeout: defaultTimeout,
		ttl:     defaultTTL,
	}
}

// WithWidth bounds how many deliveries run concurrently.
func (d *Dispatcher) WithWidth(width int) *Dispatcher {
	if width > 0 {
		d.width = width
	}
	return d
}

// WithTimeout bounds each delivery attempt. A timed-out attempt counts as
// failed; without a bound one stuck endpoint would hold the join forever.
func (d *Dispatcher) WithTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.timeout = timeout
	}
	return d
}

// WithTTL sets the push-service TTL attached to each delivery, in seconds.
func (d *Dispatcher) WithTTL(ttl int) *Dispatcher {
	if ttl > 0 {
		d.ttl = ttl
	}
	return d
}

// Dispatch delivers the notification to every active subscription and
// returns aggregate counts. Attempts are independent: every one settles,
// success or failure, before Dispatch returns, and no failure aborts the
// batch. Endpoints the push service reports permanently gone are
// soft-deactivated so later dispatches skip them.
func (d *Dispatcher) Dispatch(ctx context.Context, n *push.Notification) (*push.DispatchSummary, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	if d.sender == nil {
		clog.FromContext(ctx).Warnf("push delivery disabled: no VAPID signing key configured")
		return &push.DispatchSummary{Status: push.StatusDisabled}, nil
	}

	records, err := d.store.ListActive(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			clog.FromContext(ctx).Warnf("subscription store unavailable, dispatching to nobody")
			return &push.DispatchSummary{Status: push.StatusNoSubscribers}, nil
		}
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	if len(records) == 0 {
		return &push.DispatchSummary{Status: push.StatusNoSubscribers}, nil
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	opts := &webpush.Options{
		TTL:     d.ttl,
		Urgency: "normal",
		Topic:   n.Tag,
	}

	// Settle-all join: every attempt returns nil to the group so no failure
	// cancels a sibling; outcomes are tallied under the mutex instead.
	var (
		mu        sync.Mutex
		delivered int
		failed    int
	)
	g := new(errgroup.Group)
	g.SetLimit(d.width)

	for _, rec := range records {
		g.Go(func() error {
			actx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			err := d.sender.Send(actx, rec.Subscription(), payload, opts)

			mu.Lock()
			if err != nil {
				failed++
			} else {
				delivered++
			}
			mu.Unlock()

			if err != nil {
				clog.FromContext(ctx).Warnf("delivery to %s failed: %v", rec.ID, err)
				if webpush.IsGone(err) {
					if derr := d.store.Deactivate(ctx, rec.Endpoint); derr != nil {
						clog.FromContext(ctx).Errorf("deactivating gone endpoint %s: %v", rec.ID, derr)
					} else {
						clog.FromContext(ctx).Infof("deactivated gone endpoint: %s", rec.ID)
					}
				}
			}
			return nil
		})
	}
	_ = g.Wait() // tasks never return errors; the join is what matters

	clog.FromContext(ctx).Infof("dispatch complete: %d delivered, %d failed of %d", delivered, failed, len(records))
	return &push.DispatchSummary{
		Status:    push.StatusSent,
		Attempted: len(records),
		Delivered: delivered,
		Failed:    failed,
	}, nil
}

// Package notify is the delivery side of the push pipeline: it turns an
// incoming push payload into a displayed system notification and routes the
// user's click back into the application. In production this logic runs in
// the service worker; the presenter and window surfaces are abstracted here
// so the parsing, defaulting, and routing rules live in one testable place.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chainguard-dev/clog"

	"github.com/fonzu/push"
)

// Fallback payload shown when a push body cannot be parsed. Dropping the
// notification silently is not an option: the push service already counted
// the delivery, so the user must see something.
const (
	DefaultTitle = "Fonzu Wiki"
	DefaultBody  = "มีข่าวสารเกมใหม่แล้ว!"
	DefaultTag   = "general"
	DefaultIcon  = "/icons/icon-192x192.png"
	DefaultBadge = "/icons/badge-72x72.png"
)

// Standard action identifiers.
const (
	ActionOpen  = "open"
	ActionClose = "close"
)

// defaultActions is the two-button set used when the payload supplies none.
func defaultActions() []push.Action {
	return []push.Action{
		{Action: ActionOpen, Title: "อ่านเลย"},
		{Action: ActionClose, Title: "ปิด"},
	}
}

// Display is everything needed to show one system notification.
type Display struct {
	Title              string
	Body               string
	Icon               string
	Badge              string
	Image              string
	URL                string // navigation target, carried into the click
	Tag                string
	RequireInteraction bool
	Actions            []push.Action
}

// Decode parses a push payload. A payload that cannot be parsed yields the
// fixed fallback notification instead of an error.
func Decode(raw []byte) *push.Notification {
	var n push.Notification
	if err := json.Unmarshal(raw, &n); err != nil || n.Title == "" {
		return &push.Notification{
			Title: DefaultTitle,
			Body:  DefaultBody,
			Tag:   DefaultTag,
			Icon:  DefaultIcon,
			Badge: DefaultBadge,
		}
	}
	return &n
}

// Compose fills display options from the notification, defaulting the icon,
// badge, tag, and the open/close action pair.
func Compose(n *push.Notification) *Display {
	d := &Display{
		Title:              n.Title,
		Body:               n.Body,
		Icon:               n.Icon,
		Badge:              n.Badge,
		Image:              n.Image,
		URL:                n.URL,
		Tag:                n.Tag,
		RequireInteraction: n.RequireInteraction,
		Actions:            n.Actions,
	}
	if d.Icon == "" {
		d.Icon = DefaultIcon
	}
	if d.Badge == "" {
		d.Badge = DefaultBadge
	}
	if d.Tag == "" {
		d.Tag = DefaultTag
	}
	if d.URL == "" {
		d.URL = "/"
	}
	if len(d.Actions) == 0 {
		d.Actions = defaultActions()
	}
	return d
}

// Presenter shows a system notification.
type Presenter interface {
	Show(ctx context.Context, d *Display) error
}

// Window is one open application window.
type Window interface {
	URL() string
	Focus(ctx context.Context) error
}

// Windows enumerates and opens application windows.
type Windows interface {
	List(ctx context.Context) ([]Window, error)
	Open(ctx context.Context, url string) error
}

// Agent handles push and click events.
type Agent struct {
	presenter Presenter
	windows   Windows
}

// NewAgent creates a delivery agent over the given surfaces.
func NewAgent(presenter Presenter, windows Windows) *Agent {
	return &Agent{presenter: presenter, windows: windows}
}

// HandlePush shows the payload as a notification. It returns only after the
// notification is displayed: callers keep the background context alive for
// the duration of this call, which is the guard against the runtime
// terminating the worker before anything is rendered.
func (a *Agent) HandlePush(ctx context.Context, raw []byte) error {
	d := Compose(Decode(raw))
	if err := a.presenter.Show(ctx, d); err != nil {
		return fmt.Errorf("showing notification: %w", err)
	}
	clog.FromContext(ctx).Infof("notification shown: %s", d.Tag)
	return nil
}

// Click is a user interaction with a displayed notification. Action is empty
// when the user tapped the notification body.
type Click struct {
	Action string
	URL    string
}

// HandleClick routes a click: open (or an unspecified action) focuses an
// existing window already at the target URL, or opens exactly one new
// window there. Close navigates nowhere.
func (a *Agent) HandleClick(ctx context.Context, click Click) error {
	if click.Action == ActionClose {
		return nil
	}

	target := click.URL
	if target == "" {
		target = "/"
	}

	open, err := a.windows.List(ctx)
	if err != nil {
		return fmt.Errorf("listing windows: %w", err)
	}
	for _, w := range open {
		if w.URL() == target {
			return w.Focus(ctx)
		}
	}
	return a.windows.Open(ctx, target)
}

// HandleDismiss handles a dismissal without action: no side effect.
func (a *Agent) HandleDismiss(context.Context) {}

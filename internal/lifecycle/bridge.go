// Package lifecycle adapts host signals (install, activate, intercepted
// requests, cross-context messages, push and notification clicks) into calls
// on the generation manager and the strategy router.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/monastery360/offline-proxy/internal/generation"
	"github.com/monastery360/offline-proxy/internal/metrics"
	"github.com/monastery360/offline-proxy/internal/strategy"
)

// MessageSkipWaiting forces a pending generation to take over.
const MessageSkipWaiting = "SKIP_WAITING"

// SyncTag is the background-sync tag the client registers.
const SyncTag = "background-sync"

// Notification is shown for a valid push message.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Icon      string    `json:"icon,omitempty"`
	Badge     string    `json:"badge,omitempty"`
	Tag       string    `json:"tag,omitempty"`
	Renotify  bool      `json:"renotify"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier displays notifications on the host.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
	Close(ctx context.Context, id string) error
}

// WindowHost brings the application into focus, opening it at url if no
// window is open.
type WindowHost interface {
	FocusOrOpen(ctx context.Context, url string) error
}

// WindowHostFunc adapts a function to WindowHost.
type WindowHostFunc func(ctx context.Context, url string) error

func (f WindowHostFunc) FocusOrOpen(ctx context.Context, url string) error { return f(ctx, url) }

// Options decorate notifications and locate the application root.
type Options struct {
	Icon     string
	Badge    string
	Tag      string
	Renotify bool
	// Root is resolved against Origin when relative.
	Root   string
	Origin *url.URL
}

// Bridge is the single entry point of the host runtime.
type Bridge struct {
	manager  *generation.Manager
	router   *strategy.Router
	notifier Notifier
	windows  WindowHost
	opts     Options
}

func New(manager *generation.Manager, router *strategy.Router, notifier Notifier, windows WindowHost, opts Options) *Bridge {
	if opts.Root == "" {
		opts.Root = "/"
	}
	return &Bridge{
		manager:  manager,
		router:   router,
		notifier: notifier,
		windows:  windows,
		opts:     opts,
	}
}

// Install warms the generation of version. On failure the active generation
// keeps serving.
func (b *Bridge) Install(ctx context.Context, version string) error {
	err := b.manager.Install(ctx, version)
	if err != nil {
		metrics.IncInstall("failure")
		return err
	}
	metrics.IncInstall("success")
	b.publishActive()
	return nil
}

// Activate promotes the pending generation.
func (b *Bridge) Activate(ctx context.Context) error {
	if err := b.manager.Activate(ctx); err != nil {
		return err
	}
	b.publishActive()
	return nil
}

func (b *Bridge) publishActive() {
	if g := b.manager.Active(); g != nil {
		metrics.SetActiveGeneration(g.Version)
	}
}

// Generations reports the active and pending generations, either may be nil.
func (b *Bridge) Generations() (active, pending *generation.Generation) {
	return b.manager.Active(), b.manager.Pending()
}

// CacheNames lists the stores currently present.
func (b *Bridge) CacheNames(ctx context.Context) ([]string, error) {
	return b.manager.StoreNames(ctx)
}

// Fetch answers an intercepted request. It never fails.
func (b *Bridge) Fetch(ctx context.Context, req *strategy.Request) strategy.Outcome {
	start := time.Now()
	var out strategy.Outcome
	if req.IsHTTP() {
		out = b.router.Dispatch(ctx, b.manager.Stores(), req)
	} else {
		out = b.router.Passthrough(ctx, req)
	}
	metrics.ObserveOutcome(string(out.Classification), string(out.Source), time.Since(start))
	return out
}

type message struct {
	Type string `json:"type"`
}

// Message handles a cross-context command. Unknown or malformed messages are
// ignored.
func (b *Bridge) Message(ctx context.Context, data []byte) error {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		logrus.Debugf("Ignoring malformed message: %v", err)
		return nil
	}
	switch msg.Type {
	case MessageSkipWaiting:
		if err := b.manager.SkipWaiting(ctx); err != nil {
			return fmt.Errorf("skip waiting: %w", err)
		}
		b.publishActive()
	default:
		logrus.Debugf("Ignoring message of type %q", msg.Type)
	}
	return nil
}

type pushPayload struct {
	Title *string `json:"title"`
	Body  *string `json:"body"`
}

// Push shows a notification for payload. A payload that does not parse or
// lacks title or body is dropped; ok reports whether one was shown.
func (b *Bridge) Push(ctx context.Context, payload []byte) (n Notification, ok bool) {
	var p pushPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		logrus.Debugf("Dropping malformed push payload: %v", err)
		metrics.IncPush("dropped")
		return Notification{}, false
	}
	if p.Title == nil || p.Body == nil || *p.Title == "" {
		logrus.Debugf("Dropping push payload without title or body")
		metrics.IncPush("dropped")
		return Notification{}, false
	}

	n = Notification{
		ID:        uuid.NewString(),
		Title:     *p.Title,
		Body:      *p.Body,
		Icon:      b.opts.Icon,
		Badge:     b.opts.Badge,
		Tag:       b.opts.Tag,
		Renotify:  b.opts.Renotify,
		CreatedAt: time.Now(),
	}
	if err := b.notifier.Show(ctx, n); err != nil {
		logrus.Errorf("Failed to show notification %q: %v", n.Title, err)
		metrics.IncPush("failed")
		return Notification{}, false
	}
	metrics.IncPush("shown")
	return n, true
}

// NotificationClick closes the notification and focuses the application,
// returning the URL of the window.
func (b *Bridge) NotificationClick(ctx context.Context, id string) (string, error) {
	if err := b.notifier.Close(ctx, id); err != nil {
		return "", err
	}
	target := b.rootURL()
	if err := b.windows.FocusOrOpen(ctx, target); err != nil {
		return "", fmt.Errorf("failed to open %s: %w", target, err)
	}
	return target, nil
}

func (b *Bridge) rootURL() string {
	root, err := url.Parse(b.opts.Root)
	if err != nil || b.opts.Origin == nil || root.IsAbs() {
		return b.opts.Root
	}
	return b.opts.Origin.ResolveReference(root).String()
}

// Sync runs the background-sync hook. There are no queued offline actions
// yet, so it only acknowledges the tag.
func (b *Bridge) Sync(ctx context.Context, tag string) error {
	if tag != SyncTag {
		return fmt.Errorf("%w: %q", ErrUnknownSyncTag, tag)
	}
	logrus.Infof("Background sync triggered")
	return nil
}

// ErrUnknownSyncTag is returned for sync tags nobody registered.
var ErrUnknownSyncTag = errors.New("unknown sync tag")

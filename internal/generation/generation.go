// Package generation manages the versioned pairs of stores the proxy serves
// from: warming a new pair at install time and retiring old ones at activate
// time.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/monastery360/offline-proxy/internal/cache"
	"github.com/monastery360/offline-proxy/internal/strategy"
)

// Generation is the pair of stores valid for one deployed version.
type Generation struct {
	Version string `json:"version"`
	Static  string `json:"static"`
	Dynamic string `json:"dynamic"`
}

// New derives the store names of version for app.
func New(app, version string) Generation {
	return Generation{
		Version: version,
		Static:  app + "-static-" + version,
		Dynamic: app + "-dynamic-" + version,
	}
}

// InstallError is returned when the manifest could not be fully fetched. The
// previously active generation stays in place.
type InstallError struct {
	Version string
	Err     error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install of version %s failed: %v", e.Version, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// Config of a Manager.
type Config struct {
	// App prefixes every store name.
	App      string
	Manifest *strategy.Manifest
	// SkipWaiting activates every successful install immediately.
	SkipWaiting bool
	// Concurrency bounds parallel manifest fetches.
	Concurrency int
}

// Manager owns the store lifecycle. Only one install or activate runs at a
// time; reading the active generation never blocks.
type Manager struct {
	cfg      Config
	registry cache.Registry
	fetcher  strategy.Fetcher

	mu          sync.Mutex
	pending     *Generation
	skipWaiting bool

	active atomic.Pointer[activeGeneration]
}

// activeGeneration keeps the store handles opened at activation, so requests
// never reopen (and thereby recreate) a store deleted by a later activation.
type activeGeneration struct {
	gen    Generation
	stores strategy.Stores
}

func NewManager(cfg Config, registry cache.Registry, fetcher strategy.Fetcher) *Manager {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 6
	}
	return &Manager{
		cfg:         cfg,
		registry:    registry,
		fetcher:     fetcher,
		skipWaiting: cfg.SkipWaiting,
	}
}

// Active returns the generation serving requests, nil before the first
// activation.
func (m *Manager) Active() *Generation {
	a := m.active.Load()
	if a == nil {
		return nil
	}
	cp := a.gen
	return &cp
}

// Pending returns the installed generation waiting for activation.
func (m *Manager) Pending() *Generation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return nil
	}
	cp := *m.pending
	return &cp
}

// Install fetches the whole manifest for version and, only if every asset was
// fetched, writes it into the version's static store and records the
// generation as pending. It activates right away when skip-waiting is armed.
func (m *Manager) Install(ctx context.Context, version string) error {
	if version == "" {
		return &InstallError{Version: version, Err: errors.New("empty version")}
	}
	gen := New(m.cfg.App, version)
	logrus.Infof("Installing generation %s", version)

	entries, err := m.fetchManifest(ctx)
	if err != nil {
		logrus.Errorf("Failed to cache static assets for %s: %v", version, err)
		return &InstallError{Version: version, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	static, err := m.registry.Open(ctx, gen.Static)
	if err != nil {
		return &InstallError{Version: version, Err: err}
	}
	for key, entry := range entries {
		if err := static.Put(ctx, key, entry); err != nil {
			m.discardLocked(ctx, gen)
			return &InstallError{Version: version, Err: fmt.Errorf("failed to store %s: %w", key, err)}
		}
	}

	m.pending = &gen
	logrus.Infof("Static assets cached for %s (%d entries)", version, len(entries))

	if m.skipWaiting {
		return m.activateLocked(ctx)
	}
	return nil
}

// fetchManifest returns the entries keyed by store key. Any failure or
// non-2xx response fails the whole batch.
func (m *Manager) fetchManifest(ctx context.Context) (map[string]*cache.Entry, error) {
	urls := m.cfg.Manifest.URLs()
	results := make([]*cache.Entry, len(urls))
	reqs := make([]*strategy.Request, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for i, u := range urls {
		req, err := strategy.NewRequest("GET", u.String())
		if err != nil {
			return nil, err
		}
		reqs[i] = req
		i := i
		g.Go(func() error {
			resp, err := m.fetcher.Fetch(gctx, req)
			if err != nil {
				return fmt.Errorf("fetching %s: %w", req.URL, err)
			}
			if !resp.OK() {
				return fmt.Errorf("fetching %s: unexpected status %d", req.URL, resp.Status)
			}
			results[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := time.Now()
	out := make(map[string]*cache.Entry, len(urls))
	for i, req := range reqs {
		results[i].StoredAt = now
		out[req.Key()] = results[i]
	}
	return out, nil
}

// discardLocked removes the stores of a failed install unless they belong to
// the active generation.
func (m *Manager) discardLocked(ctx context.Context, gen Generation) {
	if a := m.active.Load(); a != nil && a.gen.Version == gen.Version {
		return
	}
	if m.pending != nil && m.pending.Version == gen.Version {
		return
	}
	if _, err := m.registry.Delete(ctx, gen.Static); err != nil {
		logrus.Errorf("Failed to discard store %s: %v", gen.Static, err)
	}
}

// Activate promotes the pending generation, deleting every other store of the
// app. It is a no-op when nothing is pending.
func (m *Manager) Activate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activateLocked(ctx)
}

func (m *Manager) activateLocked(ctx context.Context) error {
	gen := m.pending
	if gen == nil {
		return nil
	}
	logrus.Infof("Activating generation %s", gen.Version)

	names, err := m.registry.Names(ctx)
	if err != nil {
		return fmt.Errorf("failed to list stores: %w", err)
	}
	// Old stores go before the swap. Requests still holding their handles get
	// ErrStoreDeleted on write; reopening by name would bring them back.
	prefix := m.cfg.App + "-"
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) || name == gen.Static || name == gen.Dynamic {
			continue
		}
		logrus.Infof("Deleting old cache: %s", name)
		if _, err := m.registry.Delete(ctx, name); err != nil {
			return fmt.Errorf("failed to delete store %s: %w", name, err)
		}
	}
	static, err := m.registry.Open(ctx, gen.Static)
	if err != nil {
		return fmt.Errorf("failed to open store %s: %w", gen.Static, err)
	}
	dynamic, err := m.registry.Open(ctx, gen.Dynamic)
	if err != nil {
		return fmt.Errorf("failed to open store %s: %w", gen.Dynamic, err)
	}

	m.active.Store(&activeGeneration{
		gen:    *gen,
		stores: strategy.Stores{Static: static, Dynamic: dynamic},
	})
	m.pending = nil
	m.skipWaiting = m.cfg.SkipWaiting
	logrus.Infof("Generation %s activated", gen.Version)
	return nil
}

// SkipWaiting activates the pending generation now, or arms activation for
// the next successful install when nothing is pending.
func (m *Manager) SkipWaiting(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		m.skipWaiting = true
		return nil
	}
	return m.activateLocked(ctx)
}

// Stores returns the active generation's store handles. Both are nil before
// the first activation.
func (m *Manager) Stores() strategy.Stores {
	a := m.active.Load()
	if a == nil {
		return strategy.Stores{}
	}
	return a.stores
}

// StoreNames lists every store of the registry, including other apps'.
func (m *Manager) StoreNames(ctx context.Context) ([]string, error) {
	return m.registry.Names(ctx)
}

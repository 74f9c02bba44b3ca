// Package app assembles the proxy from its configuration.
package app

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/monastery360/offline-proxy/internal/cache"
	"github.com/monastery360/offline-proxy/internal/config"
	"github.com/monastery360/offline-proxy/internal/fallback"
	"github.com/monastery360/offline-proxy/internal/generation"
	"github.com/monastery360/offline-proxy/internal/lifecycle"
	"github.com/monastery360/offline-proxy/internal/proxy"
	"github.com/monastery360/offline-proxy/internal/strategy"
	"github.com/monastery360/offline-proxy/internal/upstream"
)

// App holds every long-lived component.
type App struct {
	Bridge  *lifecycle.Bridge
	Inbox   *lifecycle.Inbox
	Proxy   *proxy.Server
	Control *proxy.Control

	registry   cache.Registry
	background *strategy.Background

	mu  sync.Mutex
	cfg *config.Config
}

// New builds the application described by cfg. cfg must be valid.
func New(cfg *config.Config) (*App, error) {
	origin, err := cfg.GetOrigin()
	if err != nil {
		return nil, fmt.Errorf("invalid app origin: %w", err)
	}
	networkTimeout, err := cfg.GetNetworkTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid network timeout: %w", err)
	}
	upstreamTimeout, err := cfg.GetUpstreamTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid upstream timeout: %w", err)
	}

	manifest, err := strategy.NewManifest(origin, cfg.Manifest.Assets)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	fb := fallback.New(cfg.Texts())
	if cfg.Fallback.PageTemplate != "" {
		fb, err = fallback.NewWithPageFile(cfg.Texts(), cfg.Fallback.PageTemplate)
		if err != nil {
			return nil, err
		}
	}

	registry, err := openRegistry(cfg)
	if err != nil {
		return nil, err
	}

	client := upstream.New(upstreamTimeout, upstream.NewTransport())
	bg := strategy.NewBackground(cfg.Strategy.BackgroundWorkers, upstreamTimeout)
	router, err := strategy.NewRouter(strategy.Config{
		APIPath:        cfg.Strategy.APIPath,
		Manifest:       manifest,
		NetworkTimeout: networkTimeout,
	}, client, fb, bg)
	if err != nil {
		_ = registry.Close()
		return nil, fmt.Errorf("failed to create router: %w", err)
	}
	manager := generation.NewManager(generation.Config{
		App:         cfg.App.Name,
		Manifest:    manifest,
		SkipWaiting: cfg.App.SkipWaiting,
	}, registry, client)

	inbox := lifecycle.NewInbox()
	bridge := lifecycle.New(manager, router, inbox, lifecycle.WindowHostFunc(openWindow), lifecycle.Options{
		Icon:     cfg.Notifications.Icon,
		Badge:    cfg.Notifications.Badge,
		Tag:      cfg.Notifications.Tag,
		Renotify: cfg.Notifications.Renotify,
		Root:     cfg.Notifications.Root,
		Origin:   origin,
	})

	server, err := proxy.New(cfg, bridge)
	if err != nil {
		_ = registry.Close()
		return nil, fmt.Errorf("failed to create proxy server: %w", err)
	}

	return &App{
		Bridge:     bridge,
		Inbox:      inbox,
		Proxy:      server,
		Control:    proxy.NewControl(bridge, inbox),
		registry:   registry,
		background: bg,
		cfg:        cfg,
	}, nil
}

func openRegistry(cfg *config.Config) (cache.Registry, error) {
	switch cfg.Cache.Backend {
	case "leveldb":
		registry, err := cache.OpenLevelDB(cfg.Cache.Folder)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache: %w", err)
		}
		logrus.Infof("Cache directory: %s", cfg.Cache.Folder)
		return registry, nil
	case "sqlite":
		registry, err := cache.OpenSQLite(cfg.Cache.Folder)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache: %w", err)
		}
		logrus.Infof("Cache directory: %s", cfg.Cache.Folder)
		return registry, nil
	default:
		return cache.NewMemory(), nil
	}
}

// openWindow stands in for a browser: the proxy has no window to focus.
func openWindow(ctx context.Context, url string) error {
	logrus.Infof("Opening %s", url)
	return nil
}

// Install warms the configured version.
func (a *App) Install(ctx context.Context) error {
	a.mu.Lock()
	version := a.cfg.App.Version
	a.mu.Unlock()
	return a.Bridge.Install(ctx, version)
}

// Reload installs the version of cfg when it differs from the running one.
// Settings other than the version apply on restart.
func (a *App) Reload(ctx context.Context, cfg *config.Config) {
	a.mu.Lock()
	prev := a.cfg
	a.mu.Unlock()
	if cfg.App.Version == prev.App.Version {
		logrus.Debugf("Version unchanged (%s), nothing to install", cfg.App.Version)
		return
	}

	if !reflect.DeepEqual(cfg.Manifest.Assets, prev.Manifest.Assets) {
		logrus.Warnf("Manifest changed, new assets are precached after a restart")
	}
	logrus.Infof("Deploying version %s (was %s)", cfg.App.Version, prev.App.Version)
	if err := a.Bridge.Install(ctx, cfg.App.Version); err != nil {
		logrus.Errorf("Install of %s failed, keeping previous generation: %v", cfg.App.Version, err)
		return
	}

	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
}

// Close waits for background refreshes and releases the stores.
func (a *App) Close() error {
	a.background.Wait()
	return a.registry.Close()
}

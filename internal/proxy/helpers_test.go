package proxy

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/monastery360/offline-proxy/internal/cache"
	"github.com/monastery360/offline-proxy/internal/config"
	"github.com/monastery360/offline-proxy/internal/fallback"
	"github.com/monastery360/offline-proxy/internal/generation"
	"github.com/monastery360/offline-proxy/internal/lifecycle"
	"github.com/monastery360/offline-proxy/internal/strategy"
	"github.com/monastery360/offline-proxy/internal/upstream"
)

// fixture_upstream serves a tiny version of the site
func fixture_upstream() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/assets/css/style.css", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		_, _ = w.Write([]byte("body{}"))
	})
	mux.HandleFunc("/predict", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer": "Rumtek was founded in the 1960s"}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<h1>Hello from upstream " + r.URL.Path + "</h1>"))
	})
	return httptest.NewServer(mux)
}

// fixture_bridge wires the strategies against origin with a memory registry
func fixture_bridge(t *testing.T, origin string, assets ...string) (*lifecycle.Bridge, *lifecycle.Inbox, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.App.Name = "app"
	cfg.App.Origin = origin
	cfg.Manifest.Assets = assets

	base, err := cfg.GetOrigin()
	require.NoError(t, err)
	manifest, err := strategy.NewManifest(base, assets)
	require.NoError(t, err)

	client := upstream.New(2*time.Second, upstream.NewTransport())
	bg := strategy.NewBackground(4, 2*time.Second)
	t.Cleanup(bg.Wait)

	router, err := strategy.NewRouter(strategy.Config{
		APIPath:        cfg.Strategy.APIPath,
		Manifest:       manifest,
		NetworkTimeout: 500 * time.Millisecond,
	}, client, fallback.New(cfg.Texts()), bg)
	require.NoError(t, err)
	manager := generation.NewManager(generation.Config{
		App:         cfg.App.Name,
		Manifest:    manifest,
		SkipWaiting: true,
	}, cache.NewMemory(), client)

	inbox := lifecycle.NewInbox()
	bridge := lifecycle.New(manager, router, inbox, lifecycle.WindowHostFunc(noopWindow), lifecycle.Options{
		Icon:   cfg.Notifications.Icon,
		Badge:  cfg.Notifications.Badge,
		Tag:    cfg.Notifications.Tag,
		Root:   cfg.Notifications.Root,
		Origin: base,
	})
	return bridge, inbox, &cfg
}

// fixture_proxy starts the proxy in front of bridge and returns a client using it
func fixture_proxy(t *testing.T, cfg *config.Config, bridge *lifecycle.Bridge) (*Server, *httptest.Server, *http.Client) {
	t.Helper()
	proxyServer, err := New(cfg, bridge)
	require.NoError(t, err)

	proxyTestServer := httptest.NewServer(proxyServer.GetProxy())
	t.Cleanup(proxyTestServer.Close)

	proxyURL, _ := url.Parse(proxyTestServer.URL)
	client := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		},
		Timeout: 10 * time.Second,
	}
	return proxyServer, proxyTestServer, client
}

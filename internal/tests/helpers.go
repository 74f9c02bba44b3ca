// Package tests runs the whole proxy against a fake site.
package tests

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/monastery360/offline-proxy/internal/app"
	"github.com/monastery360/offline-proxy/internal/config"
)

// site is an upstream that can be taken offline and redeployed
type site struct {
	*httptest.Server
	offline      atomic.Bool
	predictDelay atomic.Int64

	mu      sync.Mutex
	content map[string]string
}

func (s *site) set(path, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content[path] = body
}

func (s *site) get(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.content[path]
	return body, ok
}

// fixture_upstream creates a test upstream serving the site's pages
func fixture_upstream() *site {
	s := &site{content: map[string]string{
		"/":                     "<h1>Monastery360</h1>",
		"/tourism.html":         "<h1>Tourism</h1>",
		"/assets/css/style.css": "body{color:maroon}",
		"/assets/js/app.js":     "console.log('v1')",
	}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		if s.offline.Load() {
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				_ = conn.Close()
			}
			return
		}
		if requ.URL.Path == "/predict" {
			if d := time.Duration(s.predictDelay.Load()); d > 0 {
				time.Sleep(d)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"answer": "Rumtek is near Gangtok"}`))
			return
		}
		body, ok := s.get(requ.URL.Path)
		if !ok {
			http.NotFound(w, requ)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	return s
}

// fixture_config creates a test config for the site at origin
func fixture_config(origin string) *config.Config {
	cfg := config.Default()
	cfg.App.Name = "monastery360"
	cfg.App.Version = "v1"
	cfg.App.Origin = origin
	cfg.Strategy.NetworkTimeout = "200ms"
	cfg.Strategy.UpstreamTimeout = "5s"
	cfg.Manifest.Assets = []string{"/", "/assets/css/style.css", "/assets/js/app.js"}
	return &cfg
}

// fixture_proxy builds the application and serves its proxy and control
// channel, returning a client that goes through the proxy
func fixture_proxy(cfg *config.Config) (*app.App, *httptest.Server, *httptest.Server, *http.Client, error) {
	a, err := app.New(cfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	proxyTestServer := httptest.NewServer(a.Proxy.GetProxy())
	controlTestServer := httptest.NewServer(a.Control.Routes())

	proxyURL, _ := url.Parse(proxyTestServer.URL)
	client := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		},
		Timeout: 10 * time.Second,
	}

	return a, proxyTestServer, controlTestServer, client, nil
}

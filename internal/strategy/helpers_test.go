package strategy

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/monastery360/offline-proxy/internal/cache"
	"github.com/monastery360/offline-proxy/internal/fallback"
)

const origin = "http://monastery.test"

var errOffline = errors.New("dial tcp: connection refused")

type fakeRoute struct {
	status int
	body   string
	err    error
	delay  time.Duration
}

// fakeFetcher answers from a URL table; unknown URLs behave as offline.
type fakeFetcher struct {
	mu     sync.Mutex
	routes map[string]fakeRoute
	calls  map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		routes: make(map[string]fakeRoute),
		calls:  make(map[string]int),
	}
}

func (f *fakeFetcher) set(rawURL string, rt fakeRoute) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[rawURL] = rt
}

func (f *fakeFetcher) count(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}

func (f *fakeFetcher) Fetch(ctx context.Context, req *Request) (*cache.Entry, error) {
	f.mu.Lock()
	rt, ok := f.routes[req.URL.String()]
	f.calls[req.URL.String()]++
	f.mu.Unlock()

	if !ok {
		return nil, errOffline
	}
	if rt.delay > 0 {
		select {
		case <-time.After(rt.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if rt.err != nil {
		return nil, rt.err
	}
	status := rt.status
	if status == 0 {
		status = http.StatusOK
	}
	return &cache.Entry{
		Status: status,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Body:   []byte(rt.body),
	}, nil
}

type fixture struct {
	router  *Router
	fetcher *fakeFetcher
	bg      *Background
	stores  Stores
	fb      *fallback.Synthesizer
}

func fixture_router(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	base, _ := url.Parse(origin)
	manifest, err := NewManifest(base, []string{
		"/",
		"/index.html",
		"/assets/css/modern.css",
		"/assets/images/chatbox-icon.svg",
		"https://cdn.jsdelivr.net/npm/ol@v7.5.0/ol.css",
	})
	require.NoError(t, err)

	reg := cache.NewMemory()
	ctx := context.Background()
	static, err := reg.Open(ctx, "app-static-v1")
	require.NoError(t, err)
	dynamic, err := reg.Open(ctx, "app-dynamic-v1")
	require.NoError(t, err)

	fetcher := newFakeFetcher()
	bg := NewBackground(4, 5*time.Second)
	fb := fallback.New(fallback.DefaultTexts())
	router, err := NewRouter(Config{
		APIPath:        "/predict",
		Manifest:       manifest,
		NetworkTimeout: timeout,
	}, fetcher, fb, bg)
	require.NoError(t, err)

	t.Cleanup(bg.Wait)
	return &fixture{
		router:  router,
		fetcher: fetcher,
		bg:      bg,
		stores:  Stores{Static: static, Dynamic: dynamic},
		fb:      fb,
	}
}

func request(t *testing.T, method, rawURL string) *Request {
	t.Helper()
	req, err := NewRequest(method, rawURL)
	require.NoError(t, err)
	return req
}

func cached(t *testing.T, store cache.Store, req *Request) *cache.Entry {
	t.Helper()
	e, err := store.Get(context.Background(), req.Key())
	require.NoError(t, err)
	return e
}

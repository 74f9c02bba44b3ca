package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monastery360/offline-proxy/internal/cache"
	"github.com/monastery360/offline-proxy/internal/fallback"
	"github.com/monastery360/offline-proxy/internal/generation"
	"github.com/monastery360/offline-proxy/internal/strategy"
)

const origin = "http://monastery.test"

type site struct {
	mu      sync.Mutex
	offline bool
	bodies  map[string]string
}

func (s *site) setOffline(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = v
}

func (s *site) Fetch(ctx context.Context, req *strategy.Request) (*cache.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.bodies[req.URL.String()]
	if s.offline || !ok {
		return nil, errors.New("connection refused")
	}
	return &cache.Entry{Status: http.StatusOK, Header: make(http.Header), Body: []byte(body)}, nil
}

type windows struct {
	opened []string
}

func (w *windows) FocusOrOpen(ctx context.Context, u string) error {
	w.opened = append(w.opened, u)
	return nil
}

func fixture_bridge(t *testing.T, skipWaiting bool) (*Bridge, *site, *Inbox, *windows, cache.Registry) {
	t.Helper()
	base, err := url.Parse(origin)
	require.NoError(t, err)
	manifest, err := strategy.NewManifest(base, []string{"/", "/assets/css/style.css"})
	require.NoError(t, err)

	s := &site{bodies: map[string]string{
		origin + "/":                     "home",
		origin + "/assets/css/style.css": "body{}",
		origin + "/tourism.html":         "tourism",
	}}
	reg := cache.NewMemory()
	bg := strategy.NewBackground(4, time.Second)
	t.Cleanup(bg.Wait)

	router, err := strategy.NewRouter(strategy.Config{
		APIPath:        "/predict",
		Manifest:       manifest,
		NetworkTimeout: 50 * time.Millisecond,
	}, s, fallback.New(fallback.DefaultTexts()), bg)
	require.NoError(t, err)
	manager := generation.NewManager(generation.Config{App: "app", Manifest: manifest, SkipWaiting: skipWaiting}, reg, s)

	inbox := NewInbox()
	w := &windows{}
	b := New(manager, router, inbox, w, Options{
		Icon:   "/assets/images/chatbox-icon.svg",
		Badge:  "/assets/images/chatbox-icon.svg",
		Tag:    "monastery-notification",
		Root:   "/",
		Origin: base,
	})
	return b, s, inbox, w, reg
}

func get(t *testing.T, rawURL string) *strategy.Request {
	t.Helper()
	req, err := strategy.NewRequest(http.MethodGet, rawURL)
	require.NoError(t, err)
	return req
}

func TestInstallActivatesAndServesFromCache(t *testing.T) {
	ctx := context.Background()
	b, s, _, _, _ := fixture_bridge(t, true)

	require.NoError(t, b.Install(ctx, "v1"))
	active, pending := b.Generations()
	require.NotNil(t, active)
	assert.Equal(t, "v1", active.Version)
	assert.Nil(t, pending)

	s.setOffline(true)
	out := b.Fetch(ctx, get(t, origin+"/assets/css/style.css"))
	assert.Equal(t, strategy.SourceCache, out.Source)
	assert.Equal(t, "body{}", string(out.Response.Body))
}

func TestFetchBeforeInstallUsesNetworkAndFallbacks(t *testing.T) {
	ctx := context.Background()
	b, s, _, _, _ := fixture_bridge(t, true)

	out := b.Fetch(ctx, get(t, origin+"/tourism.html"))
	assert.Equal(t, strategy.SourceNetwork, out.Source)

	s.setOffline(true)
	req := get(t, origin+"/tourism.html")
	req.Mode = "navigate"
	out = b.Fetch(ctx, req)
	assert.Equal(t, strategy.SourceFallback, out.Source)
	assert.Equal(t, http.StatusServiceUnavailable, out.Response.Status)
}

func TestFetchNonHTTPIsPassedThrough(t *testing.T) {
	b, _, _, _, _ := fixture_bridge(t, true)
	req := get(t, "ws://monastery.test/socket")

	out := b.Fetch(context.Background(), req)
	assert.Equal(t, strategy.ClassOther, out.Classification)
	assert.Equal(t, strategy.SourceFallback, out.Source)
}

func TestInstallFailureKeepsActive(t *testing.T) {
	ctx := context.Background()
	b, s, _, _, reg := fixture_bridge(t, true)
	require.NoError(t, b.Install(ctx, "v1"))

	s.setOffline(true)
	err := b.Install(ctx, "v2")
	var ierr *generation.InstallError
	require.ErrorAs(t, err, &ierr)

	active, _ := b.Generations()
	assert.Equal(t, "v1", active.Version)
	names, err := reg.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"app-dynamic-v1", "app-static-v1"}, names)
}

func TestMessageSkipWaiting(t *testing.T) {
	ctx := context.Background()
	b, _, _, _, _ := fixture_bridge(t, false)

	require.NoError(t, b.Install(ctx, "v1"))
	active, pending := b.Generations()
	assert.Nil(t, active)
	require.NotNil(t, pending)

	require.NoError(t, b.Message(ctx, []byte(`{"type":"SOMETHING_ELSE"}`)))
	active, _ = b.Generations()
	assert.Nil(t, active)

	require.NoError(t, b.Message(ctx, []byte(`not json`)))

	require.NoError(t, b.Message(ctx, []byte(`{"type":"SKIP_WAITING"}`)))
	active, pending = b.Generations()
	require.NotNil(t, active)
	assert.Equal(t, "v1", active.Version)
	assert.Nil(t, pending)
}

func TestActivate(t *testing.T) {
	ctx := context.Background()
	b, _, _, _, _ := fixture_bridge(t, false)

	require.NoError(t, b.Activate(ctx))
	require.NoError(t, b.Install(ctx, "v1"))
	require.NoError(t, b.Activate(ctx))
	active, _ := b.Generations()
	require.NotNil(t, active)
	assert.Equal(t, "v1", active.Version)
}

func TestPush(t *testing.T) {
	b, _, inbox, _, _ := fixture_bridge(t, true)
	ctx := context.Background()

	n, ok := b.Push(ctx, []byte(`{"title":"Festival","body":"Losar starts tomorrow"}`))
	require.True(t, ok)
	assert.Equal(t, "Festival", n.Title)
	assert.Equal(t, "Losar starts tomorrow", n.Body)
	assert.Equal(t, "/assets/images/chatbox-icon.svg", n.Icon)
	assert.Equal(t, "monastery-notification", n.Tag)
	assert.NotEmpty(t, n.ID)
	assert.Len(t, inbox.List(), 1)
}

func TestPushDropsMalformedPayloads(t *testing.T) {
	b, _, inbox, _, _ := fixture_bridge(t, true)

	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `hello`},
		{"missing body", `{"title":"x"}`},
		{"missing title", `{"body":"x"}`},
		{"empty title", `{"title":"","body":"x"}`},
		{"empty", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := b.Push(context.Background(), []byte(tt.payload))
			assert.False(t, ok)
		})
	}
	assert.Empty(t, inbox.List())
}

func TestNotificationClick(t *testing.T) {
	b, _, inbox, w, _ := fixture_bridge(t, true)
	ctx := context.Background()

	n, ok := b.Push(ctx, []byte(`{"title":"t","body":"b"}`))
	require.True(t, ok)

	target, err := b.NotificationClick(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, origin+"/", target)
	assert.Equal(t, []string{origin + "/"}, w.opened)
	assert.Empty(t, inbox.List())

	_, err = b.NotificationClick(ctx, n.ID)
	assert.ErrorIs(t, err, ErrNotificationNotFound)
}

func TestSync(t *testing.T) {
	b, _, _, _, _ := fixture_bridge(t, true)
	assert.NoError(t, b.Sync(context.Background(), SyncTag))
	assert.ErrorIs(t, b.Sync(context.Background(), "other"), ErrUnknownSyncTag)
}

func TestCacheNames(t *testing.T) {
	ctx := context.Background()
	b, _, _, _, _ := fixture_bridge(t, true)

	names, err := b.CacheNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, b.Install(ctx, "v1"))
	require.NoError(t, b.Install(ctx, "v2"))
	names, err = b.CacheNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"app-dynamic-v2", "app-static-v2"}, names)
}

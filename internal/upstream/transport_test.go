package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monastery360/offline-proxy/internal/strategy"
)

func TestFetch(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "identity", r.Header.Get("Accept-Encoding"))
		assert.Empty(t, r.Header.Get("Proxy-Connection"))
		assert.Equal(t, "yes", r.Header.Get("X-Client"))

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"method":"` + r.Method + `","body":"` + string(body) + `"}`))
	}))
	defer upstream.Close()

	req, err := strategy.NewRequest("POST", upstream.URL+"/predict")
	require.NoError(t, err)
	req.Body = []byte("hi")
	req.Header.Set("X-Client", "yes")
	req.Header.Set("Proxy-Connection", "keep-alive")

	resp, err := New(5*time.Second, nil).Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, `{"method":"POST","body":"hi"}`, string(resp.Body))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Empty(t, resp.Header.Get("Content-Length"))
	assert.Empty(t, resp.Header.Get("Connection"))
	assert.False(t, resp.StoredAt.IsZero())
}

func TestFetchDoesNotFollowRedirects(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer upstream.Close()

	req, err := strategy.NewRequest("GET", upstream.URL+"/")
	require.NoError(t, err)
	resp, err := New(5*time.Second, nil).Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.Status)
	assert.Equal(t, "/elsewhere", resp.Header.Get("Location"))
}

func TestFetchUnreachable(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	addr := upstream.URL
	upstream.Close()

	req, err := strategy.NewRequest("GET", addr+"/")
	require.NoError(t, err)
	_, err = New(time.Second, nil).Fetch(context.Background(), req)
	assert.Error(t, err)
}

func TestFetchTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()

	req, err := strategy.NewRequest("GET", upstream.URL+"/slow")
	require.NoError(t, err)
	_, err = New(50*time.Millisecond, nil).Fetch(context.Background(), req)
	assert.Error(t, err)
}

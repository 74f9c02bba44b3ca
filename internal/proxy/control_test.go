package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monastery360/offline-proxy/internal/lifecycle"
)

func fixture_control(t *testing.T, origin string, assets ...string) (*httptest.Server, *lifecycle.Inbox) {
	t.Helper()
	bridge, inbox, _ := fixture_bridge(t, origin, assets...)
	srv := httptest.NewServer(NewControl(bridge, inbox).Routes())
	t.Cleanup(srv.Close)
	return srv, inbox
}

func post(t *testing.T, u, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(u, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestControlHealth(t *testing.T) {
	srv, _ := fixture_control(t, "http://127.0.0.1:5000")
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, readBody(t, resp))
}

func TestControlMetrics(t *testing.T) {
	srv, _ := fixture_control(t, "http://127.0.0.1:5000")
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = readBody(t, resp)
}

func TestControlInstallAndGeneration(t *testing.T) {
	up := fixture_upstream()
	defer up.Close()
	srv, _ := fixture_control(t, up.URL, "/assets/css/style.css")

	resp, err := http.Get(srv.URL + "/generation")
	require.NoError(t, err)
	assert.JSONEq(t, `{"active":null,"pending":null}`, readBody(t, resp))

	resp = post(t, srv.URL+"/install", `{"version":"v1"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"active":{"version":"v1","static":"app-static-v1","dynamic":"app-dynamic-v1"},"pending":null}`, readBody(t, resp))

	resp, err = http.Get(srv.URL + "/caches")
	require.NoError(t, err)
	assert.JSONEq(t, `["app-dynamic-v1","app-static-v1"]`, readBody(t, resp))

	resp = post(t, srv.URL+"/install", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = readBody(t, resp)

	resp = post(t, srv.URL+"/activate", ``)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = readBody(t, resp)
}

func TestControlInstallFailure(t *testing.T) {
	up := fixture_upstream()
	srv, _ := fixture_control(t, up.URL, "/assets/css/style.css")
	up.Close()

	resp := post(t, srv.URL+"/install", `{"version":"v1"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "error")
}

func TestControlMessage(t *testing.T) {
	srv, _ := fixture_control(t, "http://127.0.0.1:5000")

	tests := []string{`{"type":"SKIP_WAITING"}`, `{"type":"PING"}`, `garbage`}
	for _, body := range tests {
		resp := post(t, srv.URL+"/message", body)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode, body)
		assert.Empty(t, readBody(t, resp))
	}
}

func TestControlPushAndClick(t *testing.T) {
	srv, inbox := fixture_control(t, "http://monastery.test")

	resp := post(t, srv.URL+"/push", `{"title":"Festival","body":"Losar"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	_ = readBody(t, resp)

	resp = post(t, srv.URL+"/push", `{"title":"no body"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	_ = readBody(t, resp)

	resp, err := http.Get(srv.URL + "/notifications")
	require.NoError(t, err)
	var listed []lifecycle.Notification
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "Festival", listed[0].Title)
	assert.Equal(t, "monastery-notification", listed[0].Tag)

	resp = post(t, srv.URL+"/notifications/"+listed[0].ID+"/click", ``)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"url":"http://monastery.test/"}`, readBody(t, resp))
	assert.Empty(t, inbox.List())

	resp = post(t, srv.URL+"/notifications/"+listed[0].ID+"/click", ``)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = readBody(t, resp)
}

func TestControlSync(t *testing.T) {
	srv, _ := fixture_control(t, "http://127.0.0.1:5000")

	resp := post(t, srv.URL+"/sync", `{"tag":"background-sync"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = readBody(t, resp)

	resp = post(t, srv.URL+"/sync", `{"tag":"unknown"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = readBody(t, resp)
}


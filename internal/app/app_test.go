package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardauth/internal/config"
	"cardauth/internal/shared/testutil"
)

const (
	testAppKey    = "test-app-key"
	testAppSecret = "test-app-secret"
	testCard      = "ABCD1234EFGH5678"
)

// =============================================================================
// Helpers
// =============================================================================

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Dir = t.TempDir()
	cfg.Storage.Driver = "file"
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.LoginBurst = 10
	cfg.Server.ShutdownTimeout = time.Second
	cfg.Telemetry.EnableMetrics = true
	cfg.Card.HeartbeatInterval = time.Hour
	if baseURL != "" {
		cfg.Card.AppKey = testAppKey
		cfg.Card.AppSecret = testAppSecret
		cfg.Card.BaseURL = baseURL
	}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *Application {
	t.Helper()
	a, err := NewWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

func loginReply() testutil.FakeReply {
	return testutil.OKReply(map[string]interface{}{
		"card_type":  "month",
		"expires":    "2099-01-01 00:00:00",
		"expires_ts": 4070908800,
	})
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// =============================================================================
// Wiring
// =============================================================================

func TestNewWithConfigUnconfigured(t *testing.T) {
	a := newTestApp(t, testConfig(t, ""))

	assert.Nil(t, a.API)
	assert.False(t, a.Sessions.Configured())
	assert.NotNil(t, a.Router)
	assert.Equal(t, "127.0.0.1:0", a.Server.Addr)

	w := doRequest(t, a.Router, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["configured"])

	w = doRequest(t, a.Router, http.MethodGet, "/api/config/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "Please configure the AppKey", body["message"])

	w = doRequest(t, a.Router, http.MethodGet, "/api/ping", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doRequest(t, a.Router, http.MethodPost, "/api/session/login", `{"card":"`+testCard+`"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServerWriteTimeoutCoversCardRetries(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Server.WriteTimeout = 15 * time.Second
	a := newTestApp(t, cfg)

	assert.Equal(t, cfg.HTTPWriteTimeout(), a.Server.WriteTimeout)
	assert.Greater(t, a.Server.WriteTimeout, cfg.Card.RetryEnvelope())
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	fake := testutil.NewFakeCardServer(t, testAppSecret)
	fake.Enqueue("/v1/card/login", loginReply())

	a := newTestApp(t, testConfig(t, fake.URL))
	require.NotNil(t, a.API)

	w := doRequest(t, a.Router, http.MethodPost, "/api/session/login", `{"card":"`+testCard+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doRequest(t, a.Router, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	view := decode(t, w)
	assert.Equal(t, true, view["authenticated"])
	assert.Equal(t, "ABCD****5678", view["card"])
	assert.Equal(t, "month", view["card_type"])
	assert.Equal(t, true, view["heartbeat_active"])

	w = doRequest(t, a.Router, http.MethodPost, "/api/session/heartbeat", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["success"])

	w = doRequest(t, a.Router, http.MethodPost, "/api/session/logout", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, a.Router, http.MethodGet, "/api/session", "")
	assert.Equal(t, false, decode(t, w)["authenticated"])

	for _, req := range fake.Requests("/v1/card/login") {
		assert.True(t, req.SignValid, req.Path)
	}
}

func TestSessionSurvivesRestart(t *testing.T) {
	fake := testutil.NewFakeCardServer(t, testAppSecret)
	fake.Enqueue("/v1/card/login", loginReply())

	cfg := testConfig(t, fake.URL)
	first, err := NewWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, first.Sessions.Login(context.Background(), testCard))
	require.NoError(t, first.Close(context.Background()))

	second := newTestApp(t, cfg)
	st := second.Sessions.Status()
	assert.True(t, st.Session.Authenticated)
	assert.Equal(t, testCard, st.Session.CardNumber)
	assert.True(t, st.HeartbeatActive)
}

func TestRouterFallbacks(t *testing.T) {
	a := newTestApp(t, testConfig(t, ""))

	w := doRequest(t, a.Router, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, a.Router, http.MethodDelete, "/api/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = doRequest(t, a.Router, http.MethodGet, "/api/health", "")
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = doRequest(t, a.Router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestSelfTest(t *testing.T) {
	a := newTestApp(t, testConfig(t, ""))
	res, err := a.SelfTest(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Passed())
}

// =============================================================================
// Serve
// =============================================================================

func TestServeDeliversNotificationsAndShutsDown(t *testing.T) {
	fake := testutil.NewFakeCardServer(t, testAppSecret)
	fake.Enqueue("/v1/card/login", loginReply())
	a := newTestApp(t, testConfig(t, fake.URL))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var hello map[string]interface{}
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "connection", hello["type"])

	require.NoError(t, a.Sessions.Login(context.Background(), testCard))

	var note map[string]interface{}
	require.NoError(t, conn.ReadJSON(&note))
	assert.Equal(t, "notification", note["type"])
	data := note["data"].(map[string]interface{})
	assert.Equal(t, "success", data["severity"])
	assert.Equal(t, "Card verified successfully", data["message"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestRunFailsOnBusyAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(t, "")
	cfg.Server.Addr = ln.Addr().String()
	a := newTestApp(t, cfg)

	err = a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

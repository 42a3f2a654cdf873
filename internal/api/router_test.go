package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saveenergy/speedgauge/internal/config"
	"github.com/saveenergy/speedgauge/internal/engine/enginetest"
	"github.com/saveenergy/speedgauge/pkg/session"
)

type testEnv struct {
	engine     *enginetest.Engine
	controller *session.Controller
	server     *httptest.Server
}

func newTestEnv(t *testing.T, configure func(*config.Config, *Router)) *testEnv {
	t.Helper()
	eng := enginetest.New()
	ctrl := session.NewController(eng)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-ctrl.Done()
	})

	cfg := config.DefaultConfig()
	handler := NewHandler(ctrl)
	handler.SetVersion("1.2.3")
	handler.SetTitle("Mirror Speed Test")
	router := NewRouter(handler)
	router.SetAllowedOrigins(cfg.AllowedOrigins)
	if configure != nil {
		configure(cfg, router)
	}

	srv := httptest.NewServer(router.SetupRoutes())
	t.Cleanup(srv.Close)
	return &testEnv{engine: eng, controller: ctrl, server: srv}
}

func (e *testEnv) do(t *testing.T, method, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, nil)
	require.NoError(t, err)
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

func TestHealthAndVersion(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, "GET", "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, body = env.do(t, "GET", "/api/v1/version")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"version":"1.2.3","title":"Mirror Speed Test"}`, string(body))
}

func TestGetDisplayDefaults(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, "GET", "/api/v1/display")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[DisplayResponse](t, body)
	assert.Equal(t, session.DefaultDisplay(), got.Display)
	assert.Equal(t, "0.00 Mbit/s", got.DownloadText)
	assert.Equal(t, "Start", got.ActionLabel)
	assert.Nil(t, got.Interpretation)
	assert.Nil(t, got.StartedAt)
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, "POST", "/api/v1/session/start")
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	started := decode[SessionResponse](t, body)
	assert.True(t, started.Started)
	assert.Equal(t, "Abort", started.ActionLabel)
	assert.NotEmpty(t, started.SessionID)

	resp, _ = env.do(t, "POST", "/api/v1/session/start")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, 1, env.engine.Starts())

	env.engine.Emit(enginetest.Sample("94.35", 1, "41.20", 1, "12.3", "2.0"))
	env.engine.Finish()
	require.NoError(t, env.controller.Flush(context.Background()))

	_, body = env.do(t, "GET", "/api/v1/display")
	done := decode[DisplayResponse](t, body)
	assert.Equal(t, session.OutcomeCompleted, done.Outcome)
	assert.Equal(t, "94.35 Mbit/s", done.DownloadText)
	require.NotNil(t, done.Interpretation)
	assert.Equal(t, "A", done.Interpretation.Grade)
	assert.NotNil(t, done.EndedAt)

	resp, body = env.do(t, "POST", "/api/v1/session/abort")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	aborted := decode[SessionResponse](t, body)
	assert.Equal(t, session.DefaultDisplay(), aborted.Display)
	assert.Nil(t, aborted.Interpretation)
}

func TestStartFailureReported(t *testing.T) {
	env := newTestEnv(t, nil)
	env.engine.StartErr = errors.New("engine offline")

	resp, body := env.do(t, "POST", "/api/v1/session/start")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "ENGINE_UNAVAILABLE")
}

func TestControlEndpointsRateLimited(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config, r *Router) {
		cfg.RateLimitPerIP = 1
		r.SetRateLimiter(NewRateLimiter(cfg))
	})

	resp, _ := env.do(t, "POST", "/api/v1/session/abort")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, "POST", "/api/v1/session/abort")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))

	resp, _ = env.do(t, "GET", "/api/v1/display")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "reads are not limited")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, r *Router) { r.EnableMetrics() })
	env.do(t, "POST", "/api/v1/session/abort")

	resp, body := env.do(t, "GET", "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "speedgauge_sessions_aborted_total")

	plain := newTestEnv(t, nil)
	resp, _ = plain.do(t, "GET", "/metrics")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStaticAssets(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, "GET", "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "<title>"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	resp, _ = env.do(t, "GET", "/app.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, "GET", "/embed.go")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, r *Router) {
		r.SetAllowedOrigins([]string{"https://gauge.example"})
	})

	req, err := http.NewRequest(http.MethodOptions, env.server.URL+"/api/v1/session/start", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://gauge.example")
	resp, err := env.server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://gauge.example", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	resp, err = env.server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRouterAllowedOrigin(t *testing.T) {
	router := &Router{allowedOrigins: []string{"*.example.com", "mirror.test"}}

	assert.True(t, router.isAllowedOrigin("https://foo.example.com"))
	assert.True(t, router.isAllowedOrigin("https://mirror.test:8443"))
	assert.False(t, router.isAllowedOrigin("https://example.org"))
	assert.False(t, (&Router{}).isAllowedOrigin("https://foo.example.com"))
}

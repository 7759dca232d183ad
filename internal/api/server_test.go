// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/loadgate/internal/health"
	"github.com/ManuGH/loadgate/internal/orchestrator"
)

type fakeNavigator struct {
	mu        sync.Mutex
	reloads   int
	cacheBust bool
	err       error
}

func (f *fakeNavigator) Reload(_ context.Context, cacheBust bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	f.cacheBust = cacheBust
	return f.err
}

func (f *fakeNavigator) GoHome(context.Context) error { return nil }

func sessionConfig() orchestrator.Config {
	return orchestrator.Config{
		PageName: "dashboard",
		Timeout:  time.Hour, // never fires during tests
		Retry: orchestrator.RetryPolicy{
			MaxRetries: 2,
			RetryDelay: time.Second,
		},
		ShowProgress:          true,
		EnableRetryStrategies: true,
	}
}

func newTestServer(t *testing.T, nav orchestrator.Navigator) *Server {
	t.Helper()
	factory := func(ov StartOverrides) *orchestrator.Orchestrator {
		cfg := sessionConfig()
		ov.Apply(&cfg)
		o := orchestrator.New(cfg, orchestrator.Deps{Navigator: nav})
		t.Cleanup(o.Cancel)
		return o
	}
	return NewServer(Options{}, factory, health.NewManager("test"))
}

func doRequest(handler http.Handler, method, target string) *httptest.ResponseRecorder {
	return doRequestBody(handler, method, target, "")
}

func doRequestBody(handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) orchestrator.ViewState {
	t.Helper()
	var vs orchestrator.ViewState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vs))
	return vs
}

func TestGetSessionWithoutStart(t *testing.T) {
	router := newTestServer(t, nil).Router()
	rec := doRequest(router, http.MethodGet, "/api/v1/session")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartCreatesSession(t *testing.T) {
	router := newTestServer(t, nil).Router()

	rec := doRequest(router, http.MethodPost, "/api/v1/session/start")
	require.Equal(t, http.StatusCreated, rec.Code)
	vs := decodeView(t, rec)
	assert.Equal(t, orchestrator.StateLoading, vs.State)
	assert.NotEmpty(t, vs.SessionID)
	assert.Equal(t, "dashboard", vs.PageName)

	rec = doRequest(router, http.MethodGet, "/api/v1/session")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, vs.SessionID, decodeView(t, rec).SessionID)
}

func TestStartAppliesOverrides(t *testing.T) {
	router := newTestServer(t, nil).Router()

	rec := doRequestBody(router, http.MethodPost, "/api/v1/session/start",
		`{"pageName":"settings","timeoutMs":10000,"maxRetries":0}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	vs := decodeView(t, rec)
	assert.Equal(t, "settings", vs.PageName)
	assert.Equal(t, 10, vs.RemainingSeconds)
}

func TestStartRejectsMalformedBody(t *testing.T) {
	router := newTestServer(t, nil).Router()

	rec := doRequestBody(router, http.MethodPost, "/api/v1/session/start", `{"timeoutMs":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// A rejected start must not leave a half-created session behind.
	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodGet, "/api/v1/session").Code)
}

func TestStartRejectsInvalidOverrides(t *testing.T) {
	router := newTestServer(t, nil).Router()

	for _, body := range []string{
		`{"timeoutMs":0}`,
		`{"timeoutMs":-5}`,
		`{"maxRetries":-1}`,
		`{"retryDelayMs":-100}`,
	} {
		rec := doRequestBody(router, http.MethodPost, "/api/v1/session/start", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestStartWhileLoadingConflicts(t *testing.T) {
	router := newTestServer(t, nil).Router()

	require.Equal(t, http.StatusCreated, doRequest(router, http.MethodPost, "/api/v1/session/start").Code)
	rec := doRequest(router, http.MethodPost, "/api/v1/session/start")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartAfterTerminalSessionSucceeds(t *testing.T) {
	router := newTestServer(t, nil).Router()

	first := decodeView(t, doRequest(router, http.MethodPost, "/api/v1/session/start"))
	rec := doRequest(router, http.MethodPost, "/api/v1/session/complete")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orchestrator.StateCompleted, decodeView(t, rec).State)

	rec = doRequest(router, http.MethodPost, "/api/v1/session/start")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEqual(t, first.SessionID, decodeView(t, rec).SessionID)
}

func TestCommandsWithoutSessionReturn404(t *testing.T) {
	router := newTestServer(t, nil).Router()
	for _, target := range []string{
		"/api/v1/session/retry",
		"/api/v1/session/complete",
		"/api/v1/session/cancel",
		"/api/v1/session/force-reload",
		"/api/v1/session/go-home",
	} {
		rec := doRequest(router, http.MethodPost, target)
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
	}
}

func TestManualRetryResetsSession(t *testing.T) {
	router := newTestServer(t, nil).Router()

	first := decodeView(t, doRequest(router, http.MethodPost, "/api/v1/session/start"))
	rec := doRequest(router, http.MethodPost, "/api/v1/session/retry")
	require.Equal(t, http.StatusOK, rec.Code)
	vs := decodeView(t, rec)
	assert.Equal(t, orchestrator.StateLoading, vs.State)
	assert.NotEqual(t, first.SessionID, vs.SessionID)
	assert.Zero(t, vs.RetryCount)
}

func TestCancelClearsSession(t *testing.T) {
	router := newTestServer(t, nil).Router()

	require.Equal(t, http.StatusCreated, doRequest(router, http.MethodPost, "/api/v1/session/start").Code)
	rec := doRequest(router, http.MethodPost, "/api/v1/session/cancel")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodGet, "/api/v1/session").Code)
	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodPost, "/api/v1/session/cancel").Code)
}

func TestForceReloadDelegatesToNavigator(t *testing.T) {
	nav := &fakeNavigator{}
	router := newTestServer(t, nav).Router()

	require.Equal(t, http.StatusCreated, doRequest(router, http.MethodPost, "/api/v1/session/start").Code)
	rec := doRequest(router, http.MethodPost, "/api/v1/session/force-reload")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1, nav.reloads)
	assert.True(t, nav.cacheBust)
	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodGet, "/api/v1/session").Code)
}

func TestForceReloadNavigatorFailure(t *testing.T) {
	nav := &fakeNavigator{err: errors.New("renderer unreachable")}
	router := newTestServer(t, nav).Router()

	require.Equal(t, http.StatusCreated, doRequest(router, http.MethodPost, "/api/v1/session/start").Code)
	rec := doRequest(router, http.MethodPost, "/api/v1/session/force-reload")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGoHomeLeavesSessionIntact(t *testing.T) {
	nav := &fakeNavigator{}
	router := newTestServer(t, nav).Router()

	first := decodeView(t, doRequest(router, http.MethodPost, "/api/v1/session/start"))
	rec := doRequest(router, http.MethodPost, "/api/v1/session/go-home")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, http.MethodGet, "/api/v1/session")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first.SessionID, decodeView(t, rec).SessionID)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	router := newTestServer(t, nil).Router()

	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/readyz").Code)

	rec := doRequest(router, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRequestIDHeaderSet(t *testing.T) {
	router := newTestServer(t, nil).Router()
	rec := doRequest(router, http.MethodGet, "/api/v1/session")
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))
}

func TestRateLimitExceeded(t *testing.T) {
	factory := func(StartOverrides) *orchestrator.Orchestrator {
		o := orchestrator.New(sessionConfig(), orchestrator.Deps{})
		t.Cleanup(o.Cancel)
		return o
	}
	srv := NewServer(Options{RateLimitEnabled: true, RateLimitPerMin: 2}, factory, nil)
	router := srv.Router()

	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodGet, "/api/v1/session").Code)
	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodGet, "/api/v1/session").Code)

	rec := doRequest(router, http.MethodGet, "/api/v1/session")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestStreamSendsSnapshotAndTerminalEvent(t *testing.T) {
	srv := newTestServer(t, nil)
	router := srv.Router()

	require.Equal(t, http.StatusCreated, doRequest(router, http.MethodPost, "/api/v1/session/start").Code)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/session/stream", nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		router.ServeHTTP(rec, req)
	}()

	// Let the stream subscribe and emit the initial snapshot.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, http.StatusOK, doRequest(router, http.MethodPost, "/api/v1/session/complete").Code)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after terminal state")
	}

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, strings.Contains(body, `"state":"loading"`), "missing snapshot event: %s", body)
	assert.True(t, strings.Contains(body, `"state":"completed"`), "missing terminal event: %s", body)
}

func TestStreamWithoutSession(t *testing.T) {
	router := newTestServer(t, nil).Router()
	rec := doRequest(router, http.MethodGet, "/api/v1/session/stream")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// SPDX-License-Identifier: MIT

// Package api exposes the loading-session control surface over HTTP: session
// commands, a live state stream, health endpoints and Prometheus metrics.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/loadgate/internal/health"
	xglog "github.com/ManuGH/loadgate/internal/log"
	"github.com/ManuGH/loadgate/internal/orchestrator"
)

// SessionFactory builds a fresh orchestrator for one loading session, with
// all observers already attached. The overrides come from the start request
// body and have already been validated.
type SessionFactory func(ov StartOverrides) *orchestrator.Orchestrator

// StartOverrides are optional per-session settings accepted by the start
// endpoint. Nil fields keep the daemon-configured values.
type StartOverrides struct {
	PageName                 *string `json:"pageName"`
	TimeoutMs                *int64  `json:"timeoutMs"`
	MaxRetries               *int    `json:"maxRetries"`
	RetryDelayMs             *int64  `json:"retryDelayMs"`
	RetryOnlyIfHealthy       *bool   `json:"retryOnlyIfHealthy"`
	ShowProgress             *bool   `json:"showProgress"`
	EnableAdvancedMonitoring *bool   `json:"enableAdvancedMonitoring"`
	ShowNetworkDiagnostics   *bool   `json:"showNetworkDiagnostics"`
	EnableRetryStrategies    *bool   `json:"enableRetryStrategies"`
}

func (ov StartOverrides) validate() error {
	if ov.TimeoutMs != nil && *ov.TimeoutMs <= 0 {
		return fmt.Errorf("timeoutMs must be positive, got %d", *ov.TimeoutMs)
	}
	if ov.MaxRetries != nil && *ov.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must not be negative, got %d", *ov.MaxRetries)
	}
	if ov.RetryDelayMs != nil && *ov.RetryDelayMs < 0 {
		return fmt.Errorf("retryDelayMs must not be negative, got %d", *ov.RetryDelayMs)
	}
	return nil
}

// Apply merges the overrides into cfg.
func (ov StartOverrides) Apply(cfg *orchestrator.Config) {
	if ov.PageName != nil {
		cfg.PageName = *ov.PageName
	}
	if ov.TimeoutMs != nil {
		cfg.Timeout = time.Duration(*ov.TimeoutMs) * time.Millisecond
	}
	if ov.MaxRetries != nil {
		cfg.Retry.MaxRetries = *ov.MaxRetries
	}
	if ov.RetryDelayMs != nil {
		cfg.Retry.RetryDelay = time.Duration(*ov.RetryDelayMs) * time.Millisecond
	}
	if ov.RetryOnlyIfHealthy != nil {
		cfg.Retry.OnlyIfHealthy = *ov.RetryOnlyIfHealthy
	}
	if ov.ShowProgress != nil {
		cfg.ShowProgress = *ov.ShowProgress
	}
	if ov.EnableAdvancedMonitoring != nil {
		cfg.EnableAdvancedMonitoring = *ov.EnableAdvancedMonitoring
	}
	if ov.ShowNetworkDiagnostics != nil {
		cfg.ShowNetworkDiagnostics = *ov.ShowNetworkDiagnostics
	}
	if ov.EnableRetryStrategies != nil {
		cfg.EnableRetryStrategies = *ov.EnableRetryStrategies
	}
}

// Options controls the HTTP surface.
type Options struct {
	RateLimitEnabled bool
	RateLimitPerMin  int
}

// Server owns at most one live session at a time and translates HTTP
// commands into orchestrator calls.
type Server struct {
	opts    Options
	factory SessionFactory
	health  *health.Manager
	logger  zerolog.Logger

	mu      sync.Mutex
	current *orchestrator.Orchestrator
}

// NewServer constructs the control server. factory must not be nil.
func NewServer(opts Options, factory SessionFactory, healthMgr *health.Manager) *Server {
	if opts.RateLimitPerMin <= 0 {
		opts.RateLimitPerMin = 60
	}
	return &Server{
		opts:    opts,
		factory: factory,
		health:  healthMgr,
		logger:  xglog.WithComponent("api"),
	}
}

// Router assembles the chi router with the canonical middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(requestLogger)

	if s.health != nil {
		r.Get("/healthz", s.health.ServeHealth)
		r.Get("/readyz", s.health.ServeReady)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.opts.RateLimitEnabled {
			r.Use(rateLimit(s.opts.RateLimitPerMin))
		}
		r.Get("/session", s.handleGetSession)
		r.Get("/session/stream", s.handleStream)
		r.Post("/session/start", s.handleStart)
		r.Post("/session/retry", s.handleRetry)
		r.Post("/session/complete", s.handleComplete)
		r.Post("/session/cancel", s.handleCancel)
		r.Post("/session/force-reload", s.handleForceReload)
		r.Post("/session/go-home", s.handleGoHome)
	})

	return r
}

// session returns the current orchestrator, or nil when none is live.
func (s *Server) session() *orchestrator.Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	// The body is optional; an empty body starts with configured defaults.
	var ov StartOverrides
	if err := json.NewDecoder(r.Body).Decode(&ov); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, fmt.Errorf("invalid start request: %w", err))
		return
	}
	if err := ov.validate(); err != nil {
		writeError(w, err)
		return
	}

	s.mu.Lock()
	if s.current != nil {
		if vs, ok := s.current.ViewState(); ok && !vs.State.Terminal() {
			s.mu.Unlock()
			writeConflict(w, orchestrator.ErrAlreadyStarted)
			return
		}
	}
	o := s.factory(ov)
	if err := o.Start(); err != nil {
		s.mu.Unlock()
		writeConflict(w, err)
		return
	}
	s.current = o
	s.mu.Unlock()

	vs, _ := o.ViewState()
	s.logger.Info().
		Str("event", "api.session_started").
		Str("session_id", vs.SessionID).
		Msg("session started")
	writeJSON(w, http.StatusCreated, vs)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	o := s.session()
	if o == nil {
		writeNotFound(w)
		return
	}
	vs, ok := o.ViewState()
	if !ok {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, vs)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	o := s.session()
	if o == nil {
		writeNotFound(w)
		return
	}
	if err := o.Retry(); err != nil {
		writeConflict(w, err)
		return
	}
	vs, _ := o.ViewState()
	writeJSON(w, http.StatusOK, vs)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	o := s.session()
	if o == nil {
		writeNotFound(w)
		return
	}
	if err := o.Complete(); err != nil {
		writeConflict(w, err)
		return
	}
	vs, _ := o.ViewState()
	writeJSON(w, http.StatusOK, vs)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	o := s.current
	s.current = nil
	s.mu.Unlock()

	if o == nil {
		writeNotFound(w)
		return
	}
	o.Cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleForceReload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	o := s.current
	s.current = nil
	s.mu.Unlock()

	if o == nil {
		writeNotFound(w)
		return
	}
	if err := o.ForceReload(r.Context()); err != nil {
		writeServiceUnavailable(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloading"})
}

// handleGoHome is a pure navigation effect; it does not touch session state.
func (s *Server) handleGoHome(w http.ResponseWriter, r *http.Request) {
	o := s.session()
	if o == nil {
		writeNotFound(w)
		return
	}
	if err := o.GoHome(r.Context()); err != nil {
		writeServiceUnavailable(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "navigating"})
}

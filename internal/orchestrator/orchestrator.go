// SPDX-License-Identifier: MIT

// Package orchestrator owns the loading lifecycle of one page/resource: it
// schedules the timeout deadline, drives progress and phase estimation,
// aggregates health and network observations, and decides whether an
// automatic retry is attempted.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/loadgate/internal/clock"
	"github.com/ManuGH/loadgate/internal/health"
	xglog "github.com/ManuGH/loadgate/internal/log"
	"github.com/ManuGH/loadgate/internal/metrics"
	"github.com/ManuGH/loadgate/internal/netcond"
	"github.com/ManuGH/loadgate/internal/phase"
	"github.com/ManuGH/loadgate/internal/progress"
)

// session is one load attempt. It is owned exclusively by the Orchestrator;
// collaborators report observations and the orchestrator applies them.
type session struct {
	id         string
	startedAt  time.Time
	state      State
	progress   float64
	phaseIndex int
	retryCount int
	health     health.Status
	network    netcond.Sample
}

// Orchestrator composes the estimator, phase walker, health prober and
// network reader around a single LoadingSession. All state transitions are
// funnelled through one mutex; every scheduled callback carries the epoch it
// was armed under and is discarded when the epoch has moved on, so timers
// from a torn-down or restarted run can never mutate state.
type Orchestrator struct {
	mu   sync.Mutex
	cfg  Config
	deps Deps
	est  *progress.Estimator

	started bool
	torn    bool
	epoch   uint64
	timers  []clock.Timer
	sess    *session

	subs    map[int]func(ViewState)
	nextSub int
}

// Option configuration pattern
type Option func(*Orchestrator)

// WithEstimator injects a progress estimator (deterministic in tests).
func WithEstimator(est *progress.Estimator) Option {
	return func(o *Orchestrator) { o.est = est }
}

// New creates an orchestrator for one logical load goal. Call Start to begin
// the first session.
func New(cfg Config, deps Deps, opts ...Option) *Orchestrator {
	cfg.applyDefaults()
	if deps.Scheduler == nil {
		deps.Scheduler = clock.NewReal()
	}
	if deps.Logger == nil {
		l := xglog.WithComponent("orchestrator")
		deps.Logger = &l
	}

	o := &Orchestrator{
		cfg:  cfg,
		deps: deps,
		est:  progress.NewEstimator(),
		subs: make(map[int]func(ViewState)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start creates the LoadingSession and arms all tickers and the timeout
// deadline. It may be called once per orchestrator.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.torn {
		o.mu.Unlock()
		return ErrTornDown
	}
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.started = true
	o.sess = &session{
		id:        uuid.NewString(),
		startedAt: o.deps.Scheduler.Now(),
		state:     StateLoading,
		health:    health.StatusUnknown,
		network:   netcond.Unknown(),
	}
	metrics.SetSessionState(o.cfg.PageName, string(StateLoading))
	metrics.SetProgress(o.cfg.PageName, 0)
	o.epoch++
	o.armLoadingTimersLocked(o.epoch)
	vs := o.snapshotLocked()
	subs := o.subsLocked()
	sid := o.sess.id
	o.mu.Unlock()

	o.deps.Logger.Info().
		Str("event", "session.started").
		Str("session_id", sid).
		Str("page", o.cfg.PageName).
		Dur("timeout", o.cfg.Timeout).
		Msg("loading session started")
	o.broadcast(vs, subs)
	return nil
}

// armLoadingTimersLocked schedules the periodic activities of one loading
// run: progress tick, phase tick, health polling, one network read, and the
// timeout deadline. Caller must hold the lock.
func (o *Orchestrator) armLoadingTimersLocked(epoch uint64) {
	s := o.deps.Scheduler

	if o.cfg.ShowProgress {
		o.timers = append(o.timers, s.ScheduleRepeating(o.cfg.ProgressTick, func() {
			o.onProgressTick(epoch)
		}))
	}
	o.timers = append(o.timers, s.ScheduleRepeating(o.cfg.PhaseTick, func() {
		o.onPhaseTick(epoch)
	}))
	if o.cfg.EnableAdvancedMonitoring && o.deps.Prober != nil {
		// Prime the last-sampled value immediately so the retry decision at a
		// short timeout is not stuck on "unknown", then poll on the interval.
		o.timers = append(o.timers, s.ScheduleOnce(0, func() {
			o.pollHealth(epoch)
		}))
		o.timers = append(o.timers, s.ScheduleRepeating(o.cfg.HealthPollInterval, func() {
			o.pollHealth(epoch)
		}))
	}
	if o.cfg.ShowNetworkDiagnostics && o.deps.NetReader != nil {
		o.timers = append(o.timers, s.ScheduleOnce(0, func() {
			o.readNetwork(epoch)
		}))
	}
	o.timers = append(o.timers, s.ScheduleOnce(o.cfg.Timeout, func() {
		o.onTimeout(epoch)
	}))
}

func (o *Orchestrator) stopTimersLocked() {
	for _, t := range o.timers {
		t.Stop()
	}
	o.timers = nil
}

// liveLocked reports whether a callback armed under epoch may still act.
func (o *Orchestrator) liveLocked(epoch uint64) bool {
	return !o.torn && o.epoch == epoch
}

func (o *Orchestrator) onProgressTick(epoch uint64) {
	o.mu.Lock()
	if !o.liveLocked(epoch) || o.sess.state != StateLoading {
		o.mu.Unlock()
		return
	}
	elapsed := o.deps.Scheduler.Now().Sub(o.sess.startedAt)
	o.sess.progress = o.est.Next(o.sess.progress, elapsed, o.cfg.Timeout, o.sess.network.Class)
	metrics.SetProgress(o.cfg.PageName, o.sess.progress)
	vs := o.snapshotLocked()
	subs := o.subsLocked()
	o.mu.Unlock()

	o.broadcast(vs, subs)
}

func (o *Orchestrator) onPhaseTick(epoch uint64) {
	o.mu.Lock()
	if !o.liveLocked(epoch) || o.sess.state != StateLoading {
		o.mu.Unlock()
		return
	}
	elapsed := o.deps.Scheduler.Now().Sub(o.sess.startedAt)
	idx := o.cfg.Phases.IndexFor(elapsed, o.cfg.Timeout)
	if idx <= o.sess.phaseIndex {
		o.mu.Unlock()
		return
	}
	o.sess.phaseIndex = idx
	vs := o.snapshotLocked()
	subs := o.subsLocked()
	o.mu.Unlock()

	o.deps.Logger.Debug().
		Str("event", "session.phase_changed").
		Str("session_id", vs.SessionID).
		Int("phase_index", idx).
		Str("phase", vs.PhaseName).
		Msg("phase advanced")
	o.broadcast(vs, subs)
}

// pollHealth runs one probe. The probe itself executes without the lock; its
// result is reported back through recordHealth with the same epoch so a
// result from a stale run is discarded. A failed probe is an unhealthy
// observation, never a fault.
func (o *Orchestrator) pollHealth(epoch uint64) {
	o.mu.Lock()
	if !o.liveLocked(epoch) || (o.sess.state != StateLoading && o.sess.state != StateRetrying) {
		o.mu.Unlock()
		return
	}
	prober := o.deps.Prober
	sid := o.sess.id
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(xglog.ContextWithSessionID(context.Background(), sid), o.cfg.ProbeTimeout)
	defer cancel()

	status, err := prober.Probe(ctx)
	if err != nil {
		status = health.StatusUnhealthy
		metrics.RecordProbeFailure(o.cfg.PageName)
		o.deps.Logger.Warn().
			Err(err).
			Str("event", "health.probe_failed").
			Str("session_id", sid).
			Msg("health probe failed, treating as unhealthy")
	}
	o.recordHealth(epoch, status)
}

func (o *Orchestrator) recordHealth(epoch uint64, status health.Status) {
	o.mu.Lock()
	if !o.liveLocked(epoch) || (o.sess.state != StateLoading && o.sess.state != StateRetrying) {
		o.mu.Unlock()
		return
	}
	if o.sess.health == status {
		o.mu.Unlock()
		return
	}
	o.sess.health = status
	vs := o.snapshotLocked()
	subs := o.subsLocked()
	o.mu.Unlock()

	o.broadcast(vs, subs)
}

// readNetwork samples network conditions once per loading run, best-effort.
func (o *Orchestrator) readNetwork(epoch uint64) {
	o.mu.Lock()
	if !o.liveLocked(epoch) || o.sess.state != StateLoading {
		o.mu.Unlock()
		return
	}
	reader := o.deps.NetReader
	sid := o.sess.id
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(xglog.ContextWithSessionID(context.Background(), sid), o.cfg.ProbeTimeout)
	defer cancel()

	sample, err := reader.Read(ctx)
	if err != nil {
		sample = netcond.Unknown()
		o.deps.Logger.Debug().
			Err(err).
			Str("event", "netcond.read_failed").
			Str("session_id", sid).
			Msg("network diagnostics unavailable")
	}

	o.mu.Lock()
	if !o.liveLocked(epoch) || o.sess.state != StateLoading {
		o.mu.Unlock()
		return
	}
	o.sess.network = sample
	vs := o.snapshotLocked()
	subs := o.subsLocked()
	o.mu.Unlock()

	o.broadcast(vs, subs)
}

// onTimeout fires the Loading -> TimedOut transition exactly once per run and
// immediately decides the follow-up: Retrying when budget and health permit,
// GivenUp otherwise.
func (o *Orchestrator) onTimeout(epoch uint64) {
	o.mu.Lock()
	if !o.liveLocked(epoch) || o.sess.state != StateLoading {
		o.mu.Unlock()
		return
	}
	o.stopTimersLocked()
	o.epoch++
	retryEpoch := o.epoch

	s := o.sess
	s.state = StateTimedOut
	s.progress = 100
	metrics.SetSessionState(o.cfg.PageName, string(StateTimedOut))
	metrics.SetProgress(o.cfg.PageName, 100)
	metrics.RecordTimeout(o.cfg.PageName)
	timedOut := o.snapshotLocked()

	eligible := o.cfg.EnableRetryStrategies &&
		s.retryCount < o.cfg.Retry.MaxRetries &&
		(!o.cfg.Retry.OnlyIfHealthy || s.health == health.StatusHealthy)

	var next ViewState
	if eligible {
		s.state = StateRetrying
		s.retryCount++
		metrics.SetSessionState(o.cfg.PageName, string(StateRetrying))
		metrics.RecordRetry(o.cfg.PageName, "auto")
		o.timers = append(o.timers, o.deps.Scheduler.ScheduleOnce(o.cfg.Retry.RetryDelay, func() {
			o.onRetryDelayElapsed(retryEpoch)
		}))
	} else {
		s.state = StateGivenUp
		metrics.SetSessionState(o.cfg.PageName, string(StateGivenUp))
		metrics.RecordSessionOutcome(o.cfg.PageName, "given_up")
	}
	next = o.snapshotLocked()
	subs := o.subsLocked()
	cb := o.cfg.OnTimeout
	o.mu.Unlock()

	o.deps.Logger.Warn().
		Str("event", "session.timed_out").
		Str("session_id", timedOut.SessionID).
		Str("page", o.cfg.PageName).
		Int("retry_count", timedOut.RetryCount).
		Bool("auto_retry", eligible).
		Msg("loading session timed out")

	o.invokeTimeoutCallback(cb)
	o.broadcast(timedOut, subs)
	o.broadcast(next, subs)
}

// invokeTimeoutCallback runs the externally supplied callback fire-and-forget;
// a panic inside it must not prevent the transition from completing.
func (o *Orchestrator) invokeTimeoutCallback(cb func()) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.deps.Logger.Error().
				Str("event", "session.timeout_callback_panic").
				Interface("panic", r).
				Msg("timeout callback panicked")
		}
	}()
	cb()
}

func (o *Orchestrator) onRetryDelayElapsed(epoch uint64) {
	o.mu.Lock()
	if !o.liveLocked(epoch) || o.sess.state != StateRetrying {
		o.mu.Unlock()
		return
	}
	vs := o.restartLocked()
	subs := o.subsLocked()
	o.mu.Unlock()

	o.deps.Logger.Info().
		Str("event", "session.auto_retry").
		Str("session_id", vs.SessionID).
		Int("retry_count", vs.RetryCount).
		Msg("automatic retry, reloading session")
	o.broadcast(vs, subs)
}

// restartLocked destroys the current run and recreates the session with the
// same configuration. Old timers are fully stopped before new ones are armed.
// Health and network observations carry over; retryCount is the caller's
// responsibility. Caller must hold the lock.
func (o *Orchestrator) restartLocked() ViewState {
	o.stopTimersLocked()
	o.epoch++

	prev := o.sess
	o.sess = &session{
		id:         uuid.NewString(),
		startedAt:  o.deps.Scheduler.Now(),
		state:      StateLoading,
		retryCount: prev.retryCount,
		health:     prev.health,
		network:    prev.network,
	}
	metrics.SetSessionState(o.cfg.PageName, string(StateLoading))
	metrics.SetProgress(o.cfg.PageName, 0)
	o.armLoadingTimersLocked(o.epoch)
	return o.snapshotLocked()
}

// Retry is the manual retry command. It is always permitted regardless of the
// automatic budget and resets retryCount to 0.
func (o *Orchestrator) Retry() error {
	o.mu.Lock()
	if o.torn {
		o.mu.Unlock()
		return ErrTornDown
	}
	if !o.started {
		o.mu.Unlock()
		return ErrNotStarted
	}
	o.sess.retryCount = 0
	vs := o.restartLocked()
	subs := o.subsLocked()
	o.mu.Unlock()

	metrics.RecordRetry(o.cfg.PageName, "manual")
	o.deps.Logger.Info().
		Str("event", "session.manual_retry").
		Str("session_id", vs.SessionID).
		Msg("manual retry, reloading session")
	o.broadcast(vs, subs)
	return nil
}

// Complete is the external signal that the underlying resource finished
// loading. It cancels all pending timers for the session.
func (o *Orchestrator) Complete() error {
	o.mu.Lock()
	if o.torn {
		o.mu.Unlock()
		return ErrTornDown
	}
	if !o.started {
		o.mu.Unlock()
		return ErrNotStarted
	}
	if o.sess.state.Terminal() {
		o.mu.Unlock()
		return nil
	}
	o.stopTimersLocked()
	o.epoch++
	o.sess.state = StateCompleted
	o.sess.progress = 100
	metrics.SetSessionState(o.cfg.PageName, string(StateCompleted))
	metrics.SetProgress(o.cfg.PageName, 100)
	metrics.RecordSessionOutcome(o.cfg.PageName, "completed")
	vs := o.snapshotLocked()
	subs := o.subsLocked()
	o.mu.Unlock()

	o.deps.Logger.Info().
		Str("event", "session.completed").
		Str("session_id", vs.SessionID).
		Int("retry_count", vs.RetryCount).
		Msg("loading session completed")
	o.broadcast(vs, subs)
	return nil
}

// Cancel tears down all timers and pollers. Idempotent; no state-change
// events are emitted afterwards.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	if o.torn {
		o.mu.Unlock()
		return
	}
	o.torn = true
	o.stopTimersLocked()
	o.epoch++
	cancelled := o.started && !o.sess.state.Terminal()
	var sid string
	if o.started {
		sid = o.sess.id
	}
	o.mu.Unlock()

	if cancelled {
		metrics.RecordSessionOutcome(o.cfg.PageName, "cancelled")
	}
	o.deps.Logger.Info().
		Str("event", "session.cancelled").
		Str("session_id", sid).
		Msg("orchestrator torn down")
}

// ForceReload leaves the orchestrator's authority: the session is torn down
// and the environment reload is requested from the navigation collaborator
// with a cache-busting marker.
func (o *Orchestrator) ForceReload(ctx context.Context) error {
	o.Cancel()
	if o.deps.Navigator == nil {
		return nil
	}
	if err := o.deps.Navigator.Reload(ctx, true); err != nil {
		o.deps.Logger.Error().
			Err(err).
			Str("event", "navigation.reload_failed").
			Msg("force reload request failed")
		return err
	}
	return nil
}

// GoHome is a pure navigation side effect, not part of the state machine.
func (o *Orchestrator) GoHome(ctx context.Context) error {
	if o.deps.Navigator == nil {
		return nil
	}
	if err := o.deps.Navigator.GoHome(ctx); err != nil {
		o.deps.Logger.Error().
			Err(err).
			Str("event", "navigation.go_home_failed").
			Msg("go home request failed")
		return err
	}
	return nil
}

// ViewState returns the current projection; ok is false before Start.
func (o *Orchestrator) ViewState() (ViewState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return ViewState{}, false
	}
	return o.snapshotLocked(), true
}

// Subscribe registers a view-state consumer, invoked on every update. The
// returned function unsubscribes; it never leaks timers.
func (o *Orchestrator) Subscribe(fn func(ViewState)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.torn {
		return func() {}
	}
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs, id)
	}
}

func (o *Orchestrator) snapshotLocked() ViewState {
	s := o.sess
	vs := ViewState{
		SessionID:       s.id,
		PageName:        o.cfg.PageName,
		State:           s.state,
		ProgressPercent: s.progress,
		PhaseIndex:      s.phaseIndex,
		Health:          s.health,
		NetworkClass:    s.network.Class,
		RetryCount:      s.retryCount,
		StartedAt:       s.startedAt,
	}

	switch s.state {
	case StateTimedOut, StateRetrying, StateGivenUp:
		vs.Phase = phase.Timeout()
	default:
		vs.Phase = o.cfg.Phases.At(s.phaseIndex)
	}
	vs.PhaseName = vs.Phase.Name
	vs.PhaseDescription = vs.Phase.Description

	if s.state == StateLoading {
		remaining := o.cfg.Timeout - o.deps.Scheduler.Now().Sub(s.startedAt)
		if remaining > 0 {
			vs.RemainingSeconds = int((remaining + time.Second - 1) / time.Second)
		}
	}
	return vs
}

func (o *Orchestrator) subsLocked() []func(ViewState) {
	if len(o.subs) == 0 {
		return nil
	}
	out := make([]func(ViewState), 0, len(o.subs))
	for _, fn := range o.subs {
		out = append(out, fn)
	}
	return out
}

func (o *Orchestrator) broadcast(vs ViewState, subs []func(ViewState)) {
	for _, fn := range subs {
		fn(vs)
	}
}

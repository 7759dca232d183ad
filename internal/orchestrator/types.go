// SPDX-License-Identifier: MIT

package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/loadgate/internal/clock"
	"github.com/ManuGH/loadgate/internal/health"
	"github.com/ManuGH/loadgate/internal/netcond"
	"github.com/ManuGH/loadgate/internal/phase"
)

// State is the lifecycle state of a loading session.
type State string

const (
	StateLoading   State = "loading"
	StateTimedOut  State = "timed_out"
	StateRetrying  State = "retrying"
	StateGivenUp   State = "given_up"
	StateCompleted State = "completed"
)

// Terminal reports whether no further automatic transitions can occur.
func (s State) Terminal() bool {
	return s == StateGivenUp || s == StateCompleted
}

var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrNotStarted     = errors.New("session not started")
	ErrTornDown       = errors.New("orchestrator torn down")
)

// RetryPolicy bounds automatic retries for one logical load goal.
type RetryPolicy struct {
	MaxRetries    int           // automatic retry budget, >= 0
	RetryDelay    time.Duration // wait before the automatic reload
	OnlyIfHealthy bool          // require last-sampled healthy status
}

// Config is the per-session configuration accepted by Start.
type Config struct {
	PageName string
	Timeout  time.Duration
	Retry    RetryPolicy

	// Phases defaults to phase.Default() when nil.
	Phases *phase.Table

	ShowProgress             bool
	EnableAdvancedMonitoring bool // backend health polling
	ShowNetworkDiagnostics   bool // one network condition read per run
	EnableRetryStrategies    bool // automatic retry on timeout

	// OnTimeout is invoked fire-and-forget on the timeout transition.
	// Panics are recovered and logged; they never block the transition.
	OnTimeout func()

	ProgressTick       time.Duration // default 150ms
	PhaseTick          time.Duration // default 500ms
	HealthPollInterval time.Duration // default 5s
	ProbeTimeout       time.Duration // default 2s
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Phases == nil {
		c.Phases = phase.Default()
	}
	if c.ProgressTick <= 0 {
		c.ProgressTick = 150 * time.Millisecond
	}
	if c.PhaseTick <= 0 {
		c.PhaseTick = 500 * time.Millisecond
	}
	if c.HealthPollInterval <= 0 {
		c.HealthPollInterval = 5 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
}

// Navigator is the injected collaborator for navigation effects. The
// orchestrator requests navigation; it never performs it itself.
type Navigator interface {
	Reload(ctx context.Context, cacheBust bool) error
	GoHome(ctx context.Context) error
}

// Deps holds all collaborators for the orchestrator. Prober, NetReader and
// Navigator are optional; their absence degrades the matching capability and
// never affects state transitions.
type Deps struct {
	Scheduler clock.Scheduler
	Prober    health.Prober
	NetReader netcond.Reader
	Navigator Navigator
	Logger    *zerolog.Logger
}

// ViewState is the read-only projection consumed by the presentation layer.
type ViewState struct {
	SessionID        string           `json:"sessionId"`
	PageName         string           `json:"pageName"`
	State            State            `json:"state"`
	ProgressPercent  float64          `json:"progressPercent"`
	Phase            phase.Definition `json:"-"`
	PhaseName        string           `json:"phaseName"`
	PhaseDescription string           `json:"phaseDescription"`
	PhaseIndex       int              `json:"phaseIndex"`
	Health           health.Status    `json:"healthStatus"`
	NetworkClass     netcond.Class    `json:"networkClass"`
	RetryCount       int              `json:"retryCount"`
	RemainingSeconds int              `json:"remainingSeconds"`
	StartedAt        time.Time        `json:"startedAt"`
}

// SPDX-License-Identifier: MIT

// Package config loads loadgate configuration from the environment with
// logged precedence (ENV > defaults) and validates it before use.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Defaults for the orchestrator and server surface.
const (
	DefaultTimeout            = 30 * time.Second
	DefaultMaxRetries         = 2
	DefaultRetryDelay         = 2 * time.Second
	DefaultProgressTick       = 150 * time.Millisecond
	DefaultPhaseTick          = 500 * time.Millisecond
	DefaultHealthPollInterval = 5 * time.Second
	DefaultProbeTimeout       = 2 * time.Second
	DefaultListenAddr         = ":8080"

	DefaultProgressBaseIncrement = 1.5
	DefaultProgressJitterMax     = 1.0
)

var (
	ErrTimeoutNotPositive = errors.New("load timeout must be positive")
	ErrNegativeRetries    = errors.New("max retries must not be negative")
)

// AppConfig is the full runtime configuration for loadgated.
type AppConfig struct {
	// Identity
	PageName string // page/resource name attached to sessions and logs
	LogLevel string

	// Server
	ListenAddr       string
	RateLimitEnabled bool
	RateLimitPerMin  int // command endpoint budget per client IP

	// Backend collaborators
	BackendHealthURL string // health probe target; empty disables probing
	NavigateURL      string // navigation webhook; empty disables navigation
	ProbeTimeout     time.Duration

	// Session lifecycle
	Timeout            time.Duration
	MaxRetries         int
	RetryDelay         time.Duration
	RetryOnlyIfHealthy bool

	// Feature toggles
	ShowProgress             bool
	EnableAdvancedMonitoring bool
	ShowNetworkDiagnostics   bool
	EnableRetryStrategies    bool

	// Tick cadence
	ProgressTick       time.Duration
	PhaseTick          time.Duration
	HealthPollInterval time.Duration

	// Progress increment band per tick, before network-class scaling
	ProgressBaseIncrement float64
	ProgressJitterMax     float64

	// Optional files
	PhaseTablePath string // YAML phase table override
	StatusFilePath string // terminal-state session report
}

// FromEnv builds an AppConfig from LOADGATE_* environment variables,
// falling back to defaults for anything unset.
func FromEnv() AppConfig {
	return AppConfig{
		PageName: ParseString("LOADGATE_PAGE_NAME", "dashboard"),
		LogLevel: ParseString("LOADGATE_LOG_LEVEL", "info"),

		ListenAddr:       ParseString("LOADGATE_LISTEN", DefaultListenAddr),
		RateLimitEnabled: ParseBool("LOADGATE_RATE_LIMIT_ENABLED", true),
		RateLimitPerMin:  ParseInt("LOADGATE_RATE_LIMIT_PER_MIN", 60),

		BackendHealthURL: ParseString("LOADGATE_BACKEND_HEALTH_URL", ""),
		NavigateURL:      ParseString("LOADGATE_NAVIGATE_URL", ""),
		ProbeTimeout:     ParseDuration("LOADGATE_PROBE_TIMEOUT", DefaultProbeTimeout),

		Timeout:            ParseDuration("LOADGATE_TIMEOUT", DefaultTimeout),
		MaxRetries:         ParseInt("LOADGATE_MAX_RETRIES", DefaultMaxRetries),
		RetryDelay:         ParseDuration("LOADGATE_RETRY_DELAY", DefaultRetryDelay),
		RetryOnlyIfHealthy: ParseBool("LOADGATE_RETRY_ONLY_IF_HEALTHY", true),

		ShowProgress:             ParseBool("LOADGATE_SHOW_PROGRESS", true),
		EnableAdvancedMonitoring: ParseBool("LOADGATE_ADVANCED_MONITORING", true),
		ShowNetworkDiagnostics:   ParseBool("LOADGATE_NETWORK_DIAGNOSTICS", true),
		EnableRetryStrategies:    ParseBool("LOADGATE_RETRY_STRATEGIES", true),

		ProgressTick:       ParseDuration("LOADGATE_PROGRESS_TICK", DefaultProgressTick),
		PhaseTick:          ParseDuration("LOADGATE_PHASE_TICK", DefaultPhaseTick),
		HealthPollInterval: ParseDuration("LOADGATE_HEALTH_POLL_INTERVAL", DefaultHealthPollInterval),

		ProgressBaseIncrement: ParseFloat("LOADGATE_PROGRESS_BASE_INCREMENT", DefaultProgressBaseIncrement),
		ProgressJitterMax:     ParseFloat("LOADGATE_PROGRESS_JITTER_MAX", DefaultProgressJitterMax),

		PhaseTablePath: ParseString("LOADGATE_PHASE_TABLE", ""),
		StatusFilePath: ParseString("LOADGATE_STATUS_FILE", ""),
	}
}

// Validate checks invariants that would otherwise surface as broken timers.
func (c AppConfig) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: %v", ErrTimeoutNotPositive, c.Timeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeRetries, c.MaxRetries)
	}
	if c.RetryDelay < 0 {
		return errors.New("retry delay must not be negative")
	}
	if c.ProgressTick <= 0 || c.PhaseTick <= 0 || c.HealthPollInterval <= 0 {
		return errors.New("tick intervals must be positive")
	}
	if c.ProgressBaseIncrement <= 0 || c.ProgressJitterMax < 0 {
		return errors.New("progress increment band must be positive")
	}
	return nil
}

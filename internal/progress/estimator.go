// SPDX-License-Identifier: MIT

// Package progress estimates a bounded, monotonically non-decreasing
// completion percentage from elapsed time and network conditions. The jitter
// band is a smoothing detail; the bounds are the contract.
package progress

import (
	"math/rand"
	"time"

	"github.com/ManuGH/loadgate/internal/netcond"
)

const (
	defaultBaseIncrement = 1.5
	defaultJitterMax     = 1.0

	// aheadMargin caps how far the displayed value may run ahead of the
	// elapsed-fraction baseline.
	aheadMargin = 10.0

	// loadingCeiling is the maximum value reported while still loading;
	// 100 is reserved for completed and timed-out sessions.
	loadingCeiling = 95.0
)

// Estimator produces per-tick progress values. It is not safe for concurrent
// use; the orchestrator drives it from its serialized tick path.
type Estimator struct {
	baseIncrement float64
	jitterMax     float64
	rng           *rand.Rand
}

// Option configuration pattern
type Option func(*Estimator)

// WithRand injects a seeded source for deterministic tests.
func WithRand(rng *rand.Rand) Option {
	return func(e *Estimator) { e.rng = rng }
}

// WithIncrementBand overrides the nominal per-tick increment band.
func WithIncrementBand(base, jitterMax float64) Option {
	return func(e *Estimator) {
		e.baseIncrement = base
		e.jitterMax = jitterMax
	}
}

// NewEstimator creates an estimator with the nominal increment band.
func NewEstimator(opts ...Option) *Estimator {
	e := &Estimator{
		baseIncrement: defaultBaseIncrement,
		jitterMax:     defaultJitterMax,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // UX jitter, not crypto
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Baseline is the expected progress from elapsed fraction alone:
// min(100, 100*elapsed/timeout).
func Baseline(elapsed, timeout time.Duration) float64 {
	if timeout <= 0 {
		return 0
	}
	if elapsed <= 0 {
		return 0
	}
	b := 100 * float64(elapsed) / float64(timeout)
	if b > 100 {
		return 100
	}
	return b
}

// Next returns the progress value for the current tick. Guarantees:
// result >= prev, result <= Baseline+10, result <= 95.
func (e *Estimator) Next(prev float64, elapsed, timeout time.Duration, class netcond.Class) float64 {
	increment := (e.baseIncrement + e.rng.Float64()*e.jitterMax) * class.SpeedFactor()

	next := prev + increment

	if limit := Baseline(elapsed, timeout) + aheadMargin; next > limit {
		next = limit
	}
	if next > loadingCeiling {
		next = loadingCeiling
	}
	if next < prev {
		next = prev
	}
	return next
}

// SPDX-License-Identifier: MIT

// Package metrics exposes prometheus instrumentation for load sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "loadgate_session_state",
		Help: "Current session state by page (active state=1, others 0)",
	}, []string{"page", "state"})

	progressPercent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "loadgate_session_progress_percent",
		Help: "Estimated loading progress of the current session",
	}, []string{"page"})

	timeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loadgate_session_timeouts_total",
		Help: "Total number of session timeout transitions",
	}, []string{"page"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loadgate_session_retries_total",
		Help: "Total number of session retries by kind (auto, manual)",
	}, []string{"page", "kind"})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loadgate_sessions_total",
		Help: "Total number of sessions reaching a terminal outcome",
	}, []string{"page", "outcome"})

	probeFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loadgate_health_probe_failures_total",
		Help: "Total number of failed backend health probes",
	}, []string{"page"})
)

var sessionStates = []string{"loading", "timed_out", "retrying", "given_up", "completed"}

// SetSessionState records the active session state for a page.
func SetSessionState(page, state string) {
	for _, s := range sessionStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		sessionState.WithLabelValues(page, s).Set(value)
	}
}

// SetProgress records the current estimated progress for a page.
func SetProgress(page string, percent float64) {
	progressPercent.WithLabelValues(page).Set(percent)
}

// RecordTimeout increments the timeout counter when a session times out.
func RecordTimeout(page string) {
	timeoutsTotal.WithLabelValues(page).Inc()
}

// RecordRetry increments the retry counter; kind is "auto" or "manual".
func RecordRetry(page, kind string) {
	retriesTotal.WithLabelValues(page, kind).Inc()
}

// RecordSessionOutcome increments the terminal-outcome counter.
func RecordSessionOutcome(page, outcome string) {
	sessionsTotal.WithLabelValues(page, outcome).Inc()
}

// RecordProbeFailure increments the failed-probe counter.
func RecordProbeFailure(page string) {
	probeFailuresTotal.WithLabelValues(page).Inc()
}

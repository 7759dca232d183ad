// SPDX-License-Identifier: MIT

// Package report persists a small JSON summary when a session reaches a
// terminal outcome, so operators can inspect the last result after the fact.
package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/ManuGH/loadgate/internal/clock"
	xglog "github.com/ManuGH/loadgate/internal/log"
	"github.com/ManuGH/loadgate/internal/orchestrator"
)

// Report is the terminal-state summary of one loading session.
type Report struct {
	SessionID       string    `json:"sessionId"`
	PageName        string    `json:"pageName"`
	Outcome         string    `json:"outcome"`
	RetryCount      int       `json:"retryCount"`
	ProgressPercent float64   `json:"progressPercent"`
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt"`
}

// Writer writes reports atomically to a fixed path.
type Writer struct {
	path   string
	logger zerolog.Logger
}

// NewWriter creates a writer for the given path.
func NewWriter(path string) *Writer {
	return &Writer{
		path:   path,
		logger: xglog.WithComponent("report"),
	}
}

// Write safely replaces the report file with full durability guarantees
// using renameio: fsync before rename prevents data loss on power failure.
func (w *Writer) Write(r Report) error {
	pendingFile, err := renameio.NewPendingFile(w.path)
	if err != nil {
		return fmt.Errorf("create pending report file: %w", err)
	}
	defer func() {
		// Cleanup on error - renameio removes temp file if not committed
		if err := pendingFile.Cleanup(); err != nil {
			w.logger.Debug().Err(err).Msg("cleanup pending report file")
		}
	}()

	enc := json.NewEncoder(pendingFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("write report data: %w", err)
	}

	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace report file: %w", err)
	}

	return nil
}

// Observer returns a view-state subscriber that writes a report whenever a
// session reaches a terminal state. Write failures are logged, never fatal.
func (w *Writer) Observer(clk clock.Clock) func(orchestrator.ViewState) {
	return func(vs orchestrator.ViewState) {
		if !vs.State.Terminal() {
			return
		}
		r := Report{
			SessionID:       vs.SessionID,
			PageName:        vs.PageName,
			Outcome:         string(vs.State),
			RetryCount:      vs.RetryCount,
			ProgressPercent: vs.ProgressPercent,
			StartedAt:       vs.StartedAt,
			FinishedAt:      clk.Now(),
		}
		if err := w.Write(r); err != nil {
			w.logger.Error().
				Err(err).
				Str("event", "report.write_failed").
				Str("session_id", vs.SessionID).
				Msg("failed to write session report")
			return
		}
		w.logger.Info().
			Str("event", "report.written").
			Str("session_id", vs.SessionID).
			Str("outcome", r.Outcome).
			Str("path", w.path).
			Msg("session report written")
	}
}

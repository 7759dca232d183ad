// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ManuGH/loadgate/internal/orchestrator"
)

// handleStream serves the live session state as Server-Sent Events. The
// stream starts with a snapshot, then sends every subsequent transition, and
// closes after a terminal state.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	o := s.session()
	if o == nil {
		writeNotFound(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Slow consumers drop intermediate updates rather than block transitions.
	updates := make(chan orchestrator.ViewState, 16)
	unsubscribe := o.Subscribe(func(vs orchestrator.ViewState) {
		select {
		case updates <- vs:
		default:
		}
	})
	defer unsubscribe()

	if vs, live := o.ViewState(); live {
		if err := writeEvent(w, flusher, vs); err != nil || vs.State.Terminal() {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case vs := <-updates:
			if err := writeEvent(w, flusher, vs); err != nil {
				return
			}
			if vs.State.Terminal() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, vs orchestrator.ViewState) error {
	payload, err := json.Marshal(vs)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

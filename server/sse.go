package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dshills/bioquery-go/graph/emit"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 15 * time.Second

// handleStream serves a run's event stream over SSE. History is replayed
// first (the bus retains at least the terminal event for finished runs), then
// live events until run_completed/run_failed closes the connection.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if _, ok := s.orch.Get(runID); !ok {
		writeError(w, http.StatusNotFound, "run_not_found", "unknown run id", nil)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported",
			"response writer does not support streaming", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, unsubscribe := s.orch.Bus().Subscribe(runID)
	defer unsubscribe()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			// Comment line per the SSE spec; ignored by clients.
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()

		case ev, open := <-events:
			if !open {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
			if ev.Terminal() {
				return
			}
		}
	}
}

// writeSSE renders one event in "event: name / data: json" wire format. The
// data payload always carries run_id and an ISO-8601 UTC timestamp; meta
// fields are flattened in.
func writeSSE(w http.ResponseWriter, ev emit.Event) {
	payload := make(map[string]any, len(ev.Meta)+3)
	for k, v := range ev.Meta {
		payload[k] = v
	}
	payload["run_id"] = ev.RunID
	payload["timestamp"] = ev.Ts.UTC().Format(time.RFC3339Nano)
	if ev.Node != "" {
		payload["node_name"] = ev.Node
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
}

// Package server exposes the orchestrator over the public HTTP API: query
// submission, run snapshots, SSE event streaming, and operational endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/bioquery-go/graph/emit"
	"github.com/dshills/bioquery-go/research"
)

// Server is the HTTP front end. It owns no run state; everything lives in
// the orchestrator.
type Server struct {
	orch   *research.Orchestrator
	logger *log.Logger
	http   *http.Server
}

// New builds the server with all routes registered.
func New(addr string, orch *research.Orchestrator, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{orch: orch, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/research/query", s.handleSubmit)
	mux.HandleFunc("GET /api/research/stream/{run_id}", s.handleStream)
	mux.HandleFunc("GET /api/research/query/{run_id}", s.handleSnapshot)
	mux.HandleFunc("GET /api/research/active-queries", s.handleActive)
	mux.HandleFunc("GET /api/research/synthesis/{run_id}", s.handleSynthesis)
	mux.HandleFunc("GET /api/orchestrator/visualization", s.handleVisualization)
	mux.HandleFunc("GET /api/orchestrator/status", s.handleStatus)
	mux.HandleFunc("GET /api/orchestrator/capabilities", s.handleCapabilities)
	mux.HandleFunc("GET /api/orchestrator/middleware-status", s.handleMiddlewareStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route tree, for tests driving the server in-process.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe runs the server until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Printf("listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains connections and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req research.QueryRequest
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "request body is not valid JSON: "+err.Error(), nil)
		return
	}

	result, err := s.orch.Submit(req)
	if err != nil {
		var verr *research.ValidationError
		if errors.As(err, &verr) {
			// Structural problems (a missing required field) are 400; value
			// violations on well-formed fields are 422.
			status := http.StatusBadRequest
			if verr.Semantic {
				status = http.StatusUnprocessableEntity
			}
			writeError(w, status, "validation_failed", verr.Error(),
				map[string]any{"field": verr.Field})
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
		return
	}

	s.logger.Printf("run %s submitted: %q", result.RunID, req.Query)
	writeJSON(w, http.StatusOK, result)
}

// snapshotResponse inlines the run view and appends recent event history.
type snapshotResponse struct {
	research.View
	RecentEvents []emit.Event `json:"recent_events,omitempty"`
}

// recentEventLimit caps how much event history a snapshot carries.
const recentEventLimit = 50

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	run, ok := s.orch.Get(runID)
	if !ok {
		writeError(w, http.StatusNotFound, "run_not_found", "unknown run id", nil)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{
		View:         run.View(),
		RecentEvents: s.orch.Bus().History(runID, recentEventLimit),
	})
}

func (s *Server) handleActive(w http.ResponseWriter, _ *http.Request) {
	active := s.orch.Active()
	views := make([]research.View, 0, len(active))
	for _, run := range active {
		views = append(views, run.View())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active_queries": views,
		"count":          len(views),
	})
}

func (s *Server) handleSynthesis(w http.ResponseWriter, r *http.Request) {
	run, ok := s.orch.Get(r.PathValue("run_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "run_not_found", "unknown run id", nil)
		return
	}

	status := run.StatusNow()
	if status != research.StatusCompleted && status != research.StatusPartial {
		writeError(w, http.StatusBadRequest, "synthesis_not_ready",
			"run has not produced a synthesis yet", map[string]any{"status": status})
		return
	}

	st := run.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":         run.ID,
		"status":         status,
		"answer":         st.Answer,
		"answer_type":    st.AnswerType,
		"citations":      st.Citations,
		"citations_more": st.CitationsMore,
		"quality":        st.Quality,
		"partial":        st.Partial,
		"checkpoint_id":  st.CheckpointID,
	})
}

func (s *Server) handleVisualization(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Visualization())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":     true,
		"status":      "operational",
		"initialized": true,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Capabilities())
}

func (s *Server) handleMiddlewareStatus(w http.ResponseWriter, _ *http.Request) {
	if m := s.orch.Metrics(); m != nil {
		writeJSON(w, http.StatusOK, m.Stats())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"components": map[string]string{
			"orchestrator": "operational",
			"event_bus":    "operational",
		},
		"active_queries": s.orch.ActiveCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders the standard error envelope.
func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	body := map[string]any{
		"code":      code,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if len(details) > 0 {
		body["details"] = details
	}
	writeJSON(w, status, map[string]any{"error": body})
}

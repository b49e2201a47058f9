// Package server exposes the runtime over HTTP: the dialogue SSE endpoint,
// a health check and prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parley-run/parley/pkg/config"
	"github.com/parley-run/parley/pkg/events"
	"github.com/parley-run/parley/pkg/executor"
)

// AgentResolver maps an agent id (and optional per-request model override)
// to the executor serving it.
type AgentResolver func(agentID, modelID string) (*executor.Executor, error)

type Server struct {
	cfg     config.ServerConfig
	resolve AgentResolver
	httpSrv *http.Server
}

func New(cfg config.ServerConfig, resolve AgentResolver) *Server {
	s := &Server{cfg: cfg, resolve: resolve}
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(loggingMiddleware)
	r.Use(metricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Post("/api/agents/{agentID}/dialogue", s.handleDialogue)
	return r
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) Start() error {
	slog.Info("HTTP server starting", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

type dialogueRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversationId"`
	InitFlag       bool   `json:"initFlag"`
	ModelID        string `json:"model_id"`
}

func (s *Server) handleDialogue(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	var req dialogueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	exec, err := s.resolve(agentID, req.ModelID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" || req.InitFlag {
		conversationID = uuid.NewString()
	}

	// r.Context() is cancelled when the client disconnects, which stops the
	// executor and triggers its finalization.
	frames, err := exec.Stream(r.Context(), req.Query, conversationID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writer, err := events.NewSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	for frame := range frames {
		if err := writer.Write(frame); err != nil {
			slog.Debug("Client went away mid-stream", "agent", agentID, "conversation", conversationID)
			for range frames {
			}
			return
		}
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

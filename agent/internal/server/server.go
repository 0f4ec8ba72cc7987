// Package server provides the agent's optional status server.
//
// Routes:
//
//	GET /healthz                              liveness, never authenticated
//	GET /metrics                              Prometheus metrics
//	GET /api/v1/status                        agent health and the status board
//	GET /api/v1/components/{id}               latest result for one component
//	GET /api/v1/components/{id}/history       stored results, newest first
//
// Everything except /healthz sits behind basic auth when it is configured.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pilot-net/cachet-agent/agent/internal/config"
	"github.com/pilot-net/cachet-agent/pkg/types"
)

// History reads stored results.
type History interface {
	Recent(ctx context.Context, componentID int, limit int) ([]types.CheckResult, error)
}

// Deps are the sources the server reads from.
type Deps struct {
	Board    *Board
	Health   func() types.AgentHealth
	History  History              // optional
	Gatherer prometheus.Gatherer // optional; /metrics is not routed without it
}

// Server serves agent status over HTTP.
type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	logger *slog.Logger
	router chi.Router
}

// StatusResponse is returned by /api/v1/status.
type StatusResponse struct {
	Agent      types.AgentHealth   `json:"agent"`
	Components []types.CheckResult `json:"components"`
}

// New creates the server and its routes.
func New(cfg config.ServerConfig, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Board == nil {
		deps.Board = NewBoard()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "server"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(BasicAuth(s.cfg.BasicAuthUser, s.cfg.BasicAuthHash, s.logger))

		if s.deps.Gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
		}
		r.Get("/api/v1/status", s.handleStatus)
		r.Get("/api/v1/components/{id}", s.handleComponent)
		r.Get("/api/v1/components/{id}/history", s.handleHistory)
	})

	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("status server shutdown error", "error", err)
		return err
	}
	s.logger.Info("status server stopped")
	return nil
}

// =============================================================================
// HANDLERS
// =============================================================================

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Components: s.deps.Board.Snapshot()}
	if s.deps.Health != nil {
		resp.Agent = s.deps.Health()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleComponent(w http.ResponseWriter, r *http.Request) {
	id, ok := componentID(w, r)
	if !ok {
		return
	}
	res, found := s.deps.Board.Get(id)
	if !found {
		writeError(w, http.StatusNotFound, "component has not been checked")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := componentID(w, r)
	if !ok {
		return
	}
	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	results, err := s.deps.History.Recent(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("reading history", "component_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if results == nil {
		results = []types.CheckResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func componentID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid component id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

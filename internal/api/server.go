// Package api provides the HTTP server for gridpool: health, run history,
// starting runs and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tutu-network/gridpool/internal/domain"
	"github.com/tutu-network/gridpool/internal/health"
)

// Version is reported by /api/version. Set by the CLI at startup.
var Version = "dev"

// Runner executes runs on behalf of the API.
type Runner interface {
	Execute(ctx context.Context, req domain.RunRequest) (domain.RunRecord, error)
	DefaultRequest() domain.RunRequest
}

// Server is the gridpool HTTP API server.
type Server struct {
	runner         Runner
	store          domain.RunStore // nil when history is disabled
	health         *health.Checker
	metricsEnabled bool
	maxConcurrent  int
}

// NewServer creates a new API server. store and checker may be nil.
func NewServer(runner Runner, store domain.RunStore, checker *health.Checker) *Server {
	return &Server{runner: runner, store: store, health: checker, maxConcurrent: 1}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetMaxConcurrent caps how many runs POST /api/runs executes at once.
// Requests over the cap get 429.
func (s *Server) SetMaxConcurrent(n int) {
	if n > 0 {
		s.maxConcurrent = n
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Minute))

	r.Get("/health", s.handleHealth)

	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version": Version,
		})
	})

	r.Route("/api/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Get("/{id}", s.handleGetRun)
		r.With(middleware.Throttle(s.maxConcurrent)).Post("/", s.handleStartRun)
	})

	r.Get("/api/costs", s.handleListCosts)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	s.health.RunOnce(r.Context())
	status, code := "ok", http.StatusOK
	if !s.health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": s.health.Statuses(),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "error",
		},
	})
}

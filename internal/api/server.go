// Package api exposes the HTTP interface for the poller service: health,
// metrics, and read-mostly status surfaces plus unit teardown.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropsignal/fleetpoller/internal/metrics"
	"github.com/dropsignal/fleetpoller/internal/schedule"
	"github.com/dropsignal/fleetpoller/internal/watch"
	"github.com/dropsignal/fleetpoller/internal/worker"
)

// Fleet is the slice of fleet manager behavior the API needs.
type Fleet interface {
	Units() []watch.ProxyUnit
	Teardown(ctx context.Context, unitID string) error
}

// QueueReporter reports scheduler progress.
type QueueReporter interface {
	Status() schedule.Status
}

// PoolReporter reports worker state.
type PoolReporter interface {
	States() []worker.State
	Size() int
}

// Server wires HTTP handlers to the fleet, queue, and worker pool.
type Server struct {
	router chi.Router
	fleet  Fleet
	queue  QueueReporter
	pool   PoolReporter
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. Queue and pool may
// be nil when the process runs in management-only mode.
func NewServer(fleet Fleet, queue QueueReporter, pool PoolReporter, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		fleet:  fleet,
		queue:  queue,
		pool:   pool,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.getStatus)
		r.Route("/fleet", func(r chi.Router) {
			r.Get("/", s.listUnits)
			r.Delete("/{unit_id}", s.teardownUnit)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, s.logger)
}

type statusResponse struct {
	Fleet   fleetSummary     `json:"fleet"`
	Queue   *schedule.Status `json:"queue,omitempty"`
	Workers []worker.State   `json:"workers,omitempty"`
}

type fleetSummary struct {
	Units   int               `json:"units"`
	Regions map[string]int    `json:"regions"`
	List    []watch.ProxyUnit `json:"list"`
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	units := s.fleet.Units()
	regions := make(map[string]int)
	for _, u := range units {
		regions[u.Region]++
	}
	resp := statusResponse{
		Fleet: fleetSummary{Units: len(units), Regions: regions, List: units},
	}
	if s.queue != nil {
		qs := s.queue.Status()
		resp.Queue = &qs
	}
	if s.pool != nil {
		resp.Workers = s.pool.States()
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}

func (s *Server) listUnits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"units": s.fleet.Units()}, s.logger)
}

func (s *Server) teardownUnit(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "unit_id")
	if err := s.fleet.Teardown(r.Context(), unitID); err != nil {
		writeError(w, http.StatusNotFound, err.Error(), s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"unit_id": unitID, "status": "removed"}, s.logger)
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error", logger)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *zap.Logger) {
	writeJSON(w, status, map[string]string{"error": msg}, logger)
}

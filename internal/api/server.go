package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/harvest"
	"github.com/JakeFAU/article-harvester/internal/progress/sinks"
)

// Runner starts runs in the background and remembers the last report.
type Runner interface {
	TriggerRun() error
	LatestReport() (harvest.RunReport, bool)
}

// RunTracker exposes live per-run progress.
type RunTracker interface {
	Runs() []sinks.RunProgress
	Run(id string) (sinks.RunProgress, bool)
}

// Deps are the collaborators the server reads from. Only Runner is required.
type Deps struct {
	Runner   Runner
	Tracker  RunTracker
	Gatherer prometheus.Gatherer
	// Registerer receives the HTTP request histogram; nil skips it.
	Registerer prometheus.Registerer
	// Ready reports downstream readiness; nil means always ready.
	Ready  func(ctx context.Context) error
	Logger *zap.Logger
	// APIKey protects the /v1 routes when non-empty.
	APIKey string
}

// Server wires HTTP handlers to the runner and progress tracker.
type Server struct {
	router  chi.Router
	runner  Runner
	tracker RunTracker
	ready   func(ctx context.Context) error
	logger  *zap.Logger
}

const requestTimeout = 30 * time.Second

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) (*Server, error) {
	if deps.Runner == nil {
		return nil, errors.New("api: runner is required")
	}
	s := &Server{
		runner:  deps.Runner,
		tracker: deps.Tracker,
		ready:   deps.Ready,
		logger:  deps.Logger,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	if deps.Registerer != nil {
		mw, err := metricsMiddleware(deps.Registerer)
		if err != nil {
			return nil, err
		}
		r.Use(mw)
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(requestTimeout))
		if deps.APIKey != "" {
			r.Use(apiKeyMiddleware(deps.APIKey))
		}
		r.Post("/runs", s.triggerRun)
		r.Get("/runs", s.listRuns)
		r.Get("/runs/latest", s.latestReport)
		r.Get("/runs/{run_id}", s.getRun)
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) triggerRun(w http.ResponseWriter, _ *http.Request) {
	if err := s.runner.TriggerRun(); err != nil {
		if errors.Is(err, harvest.ErrRunInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) latestReport(w http.ResponseWriter, _ *http.Request) {
	report, ok := s.runner.LatestReport()
	if !ok {
		writeError(w, http.StatusNotFound, "no completed run yet")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeJSON(w, http.StatusOK, map[string]any{"runs": []sinks.RunProgress{}})
		return
	}
	runs := s.tracker.Runs()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if limit < len(runs) {
			runs = runs[:limit]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if s.tracker == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	run, ok := s.tracker.Run(runID)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type requestIDKey struct{}

// RequestID returns the ID assigned to the request by the server middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", RequestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func metricsMiddleware(reg prometheus.Registerer) (func(http.Handler) http.Handler, error) {
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvest_http_request_duration_seconds",
		Help:    "Admin API request latency by route and status code.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "code"})
	if err := reg.Register(duration); err != nil {
		return nil, fmt.Errorf("register http metrics: %w", err)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			route := "unknown"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			duration.WithLabelValues(r.Method, route, strconv.Itoa(ww.status)).Observe(time.Since(start).Seconds())
		})
	}, nil
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
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

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

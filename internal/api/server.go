package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/vamdc-lines/internal/catalog"
	"github.com/JakeFAU/vamdc-lines/internal/engine"
	"github.com/JakeFAU/vamdc-lines/internal/metrics"
	"github.com/JakeFAU/vamdc-lines/internal/vamdc"
)

// DefaultRequestTimeout bounds one /v1 request.
const DefaultRequestTimeout = 10 * time.Minute

// LineService runs line requests; *engine.Engine satisfies it.
type LineService interface {
	Inspect(ctx context.Context, snap *catalog.Snapshot, req engine.Request) (vamdc.AggregatedResult, error)
	Retrieve(ctx context.Context, snap *catalog.Snapshot, req engine.Request, mode vamdc.OutputMode) (vamdc.AggregatedResult, error)
}

// SnapshotSource supplies the reference tables for each request.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*catalog.Snapshot, error)
}

// Config controls the server.
type Config struct {
	// APIKey, when set, is required on /v1 routes via X-API-Key or api_key.
	APIKey         string
	RequestTimeout time.Duration
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	// Metrics, when set, records per-route request counts and latencies.
	Metrics *metrics.Collectors
}

// Server wires HTTP handlers to the engine.
type Server struct {
	router chi.Router
	lines  LineService
	tables SnapshotSource
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(lines LineService, tables SnapshotSource, cfg Config, logger *zap.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{lines: lines, tables: tables, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Post("/lines", s.retrieveLines)
		r.Post("/lines/count", s.countLines)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.tables.Snapshot(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "reference tables unavailable: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type linesRequest struct {
	Species          []string `json:"species"`
	Nodes            []string `json:"nodes"`
	LambdaMin        *float64 `json:"lambda_min"`
	LambdaMax        *float64 `json:"lambda_max"`
	AcceptTruncation bool     `json:"accept_truncation"`
	// Payload additionally stages and relocates the raw XSAMS documents.
	Payload bool `json:"payload"`
}

func (req linesRequest) toEngine() engine.Request {
	return engine.Request{
		Species:          req.Species,
		Nodes:            req.Nodes,
		LambdaMin:        valueOrDefault(req.LambdaMin, engine.DefaultLambdaMin),
		LambdaMax:        valueOrDefault(req.LambdaMax, engine.DefaultLambdaMax),
		AcceptTruncation: req.AcceptTruncation,
	}
}

func (s *Server) countLines(w http.ResponseWriter, r *http.Request) {
	req, snap, ok := s.prepare(w, r)
	if !ok {
		return
	}
	out, err := s.lines.Inspect(r.Context(), snap, req.toEngine())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Totals: out.Totals, Results: out.Results, Warnings: out.Warnings})
}

func (s *Server) retrieveLines(w http.ResponseWriter, r *http.Request) {
	req, snap, ok := s.prepare(w, r)
	if !ok {
		return
	}
	mode := vamdc.OutputRows
	if req.Payload {
		mode |= vamdc.OutputPayload
	}
	out, err := s.lines.Retrieve(r.Context(), snap, req.toEngine(), mode)
	if errors.Is(err, vamdc.ErrNoDescriptors) {
		writeJSON(w, http.StatusOK, vamdc.AggregatedResult{
			Totals:   vamdc.Counters{},
			Rows:     []vamdc.Row{},
			Warnings: []string{"no lines found"},
		})
		return
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type countResponse struct {
	Totals   vamdc.Counters         `json:"totals"`
	Results  []vamdc.SubQueryResult `json:"results"`
	Warnings []string               `json:"warnings,omitempty"`
}

func (s *Server) prepare(w http.ResponseWriter, r *http.Request) (linesRequest, *catalog.Snapshot, bool) {
	var req linesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return linesRequest{}, nil, false
	}
	snap, err := s.tables.Snapshot(r.Context())
	if err != nil {
		s.logger.Error("reference tables unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "reference tables unavailable")
		return linesRequest{}, nil, false
	}
	return req, snap, true
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("line request failed", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, vamdc.ErrInvalidDescriptor):
		return http.StatusBadRequest
	case errors.Is(err, vamdc.ErrNodeNotFound), errors.Is(err, vamdc.ErrEmptyQueryMatrix):
		return http.StatusNotFound
	case errors.Is(err, vamdc.ErrAllFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

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
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
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
					writeError(w, http.StatusInternalServerError, "internal server error")
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

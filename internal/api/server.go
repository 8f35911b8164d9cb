package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/JakeFAU/omnicrawler/internal/crawler"
	"github.com/JakeFAU/omnicrawler/internal/metrics"
	"github.com/JakeFAU/omnicrawler/internal/service"
)

const (
	healthTimeout  = 2 * time.Second
	enqueueTimeout = 5 * time.Second
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Enqueuer accepts crawl jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// Options wires a Server.
type Options struct {
	Store    Pinger
	Queue    Enqueuer
	IDGen    crawler.IDGenerator
	Clock    crawler.Clock
	Defaults crawler.CrawlConfig
	Logger   *zap.Logger
	// APIKey, when set, is required on every request via X-API-Key or ?api_key=.
	APIKey string
	// Propagator reads inbound trace headers. Defaults to the global one.
	Propagator propagation.TextMapPropagator
}

// Server wires HTTP handlers to the queue and store.
type Server struct {
	router   chi.Router
	store    Pinger
	queue    Enqueuer
	idGen    crawler.IDGenerator
	clock    crawler.Clock
	defaults crawler.CrawlConfig
	logger   *zap.Logger
	tracing  propagation.TextMapPropagator
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracing := opts.Propagator
	if tracing == nil {
		tracing = otel.GetTextMapPropagator()
	}
	s := &Server{
		store:    opts.Store,
		queue:    opts.Queue,
		idGen:    opts.IDGen,
		clock:    opts.Clock,
		defaults: opts.Defaults,
		logger:   logger,
		tracing:  tracing,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(traceContextMiddleware(tracing))
	r.Use(metrics.Middleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	if opts.APIKey != "" {
		r.Use(apiKeyMiddleware(opts.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/health", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Post("/crawl/jobs", s.submitCrawlJob)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

type healthResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, healthResponse{OK: true})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{OK: true})
}

type submitResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
}

func (s *Server) submitCrawlJob(w http.ResponseWriter, r *http.Request) {
	seed, err := s.decodeSeed(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := service.ValidateSeed(seed); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := s.enqueue(r.Context(), seed)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("enqueue crawl failed", zap.Error(err))
		writeError(w, status, err.Error())
		return
	}

	s.logger.Info("crawl.accepted",
		zap.String("job_id", jobID),
		zap.String("seed_type", string(seed.Type)),
		zap.String("seed_value", seed.Value),
		zap.Any("cfg", seed.Config),
	)
	writeJSON(w, http.StatusAccepted, submitResponse{Status: "queued", JobID: jobID})
}

// decodeSeed reads the request body over the configured defaults so omitted
// crawl_config fields keep their default values.
func (s *Server) decodeSeed(r *http.Request) (crawler.SeedDescriptor, error) {
	cfg := s.defaults
	cfg.Headers = maps.Clone(s.defaults.Headers)
	seed := crawler.SeedDescriptor{Config: cfg}
	if err := json.NewDecoder(r.Body).Decode(&seed); err != nil {
		return crawler.SeedDescriptor{}, errors.New("invalid JSON")
	}
	return seed, nil
}

func (s *Server) enqueue(ctx context.Context, seed crawler.SeedDescriptor) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	trace := propagation.MapCarrier{}
	s.tracing.Inject(ctx, trace)
	item := crawler.QueueItem{
		JobID:     jobID,
		Seed:      seed,
		Submitted: s.clock.Now(),
	}
	if len(trace) > 0 {
		item.Trace = trace
	}
	if err := s.queue.Enqueue(queueCtx, item); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

func traceContextMiddleware(p propagation.TextMapPropagator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := p.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
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
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

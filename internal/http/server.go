// Package http exposes the ledger and the scheduler as a JSON API.
package http

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	oteltrace "go.opentelemetry.io/otel/trace"

	"bilancio/internal/clock"
	"bilancio/internal/ledger"
	"bilancio/internal/log"
	"bilancio/internal/metrics"
	"bilancio/internal/middleware/trace"
	"bilancio/internal/scheduler"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultDueHorizon     = 72 * time.Hour
	defaultWriteLimit     = 120
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wraps http.Server with the ledger API routes.
type Server struct {
	http.Server

	ledger    *ledger.Ledger
	scheduler *scheduler.Service
	store     Pinger
	clock     clock.Clock
	logger    *log.Logger

	metricsEnabled bool
	dueHorizon     time.Duration
	writeLimit     int
	rateLimiter    *rateLimiter
	tracerProvider oteltrace.TracerProvider

	shutdownOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

func WithClock(c clock.Clock) Option { return func(s *Server) { s.clock = c } }

func WithLogger(logger *log.Logger) Option { return func(s *Server) { s.logger = logger } }

// WithMetrics mounts the Prometheus handler at /metrics.
func WithMetrics(enabled bool) Option { return func(s *Server) { s.metricsEnabled = enabled } }

// WithDueHorizon sets the default look-ahead of GET /api/schedules/due.
func WithDueHorizon(d time.Duration) Option { return func(s *Server) { s.dueHorizon = d } }

// WithWriteLimit caps mutating requests per client IP and minute. Zero
// disables the limit.
func WithWriteLimit(perMinute int) Option { return func(s *Server) { s.writeLimit = perMinute } }

// WithTracerProvider records request spans through tp instead of the
// global provider.
func WithTracerProvider(tp oteltrace.TracerProvider) Option {
	return func(s *Server) { s.tracerProvider = tp }
}

// NewServer configures routes, returning a ready-to-run server.
func NewServer(addr string, l *ledger.Ledger, sch *scheduler.Service, store Pinger, opts ...Option) *Server {
	s := &Server{
		ledger:     l,
		scheduler:  sch,
		store:      store,
		clock:      clock.System{},
		logger:     log.New(log.DefaultConfig()).WithComponent(log.ComponentHTTP),
		dueHorizon: defaultDueHorizon,
		writeLimit: defaultWriteLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rateLimiter = newRateLimiter(s.writeLimit, s.clock)
	go s.rateLimiter.startCleanup()

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultRequestTimeout))
	r.Use(log.Middleware(s.logger))
	r.Use(log.RequestIDMiddleware(func(r *http.Request) string {
		return middleware.GetReqID(r.Context())
	}))
	r.Use(log.AccessLog)
	r.Use(s.tracing().Handler)
	r.Use(instrument)
	r.Use(securityHeaders)

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimiter.limitWrites)

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", s.handleCreateTransaction)
			r.Get("/{id}", s.handleGetTransaction)
			r.Put("/{id}", s.handleUpdateTransaction)
			r.Delete("/{id}", s.handleDeleteTransaction)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", s.handleOpenAccount)
			r.Get("/summary", s.handleSummary)
			r.Get("/{id}/balance", s.handleBalance)
			r.Get("/{id}/verify", s.handleVerify)
		})

		r.Post("/assets", s.handleRegisterAsset)

		r.Route("/schedules", func(r chi.Router) {
			r.Post("/", s.handleCreateSchedule)
			r.Get("/due", s.handleDue)
			r.Get("/{id}", s.handleGetSchedule)
			r.Put("/{id}/enabled", s.handleSetEnabled)
			r.Post("/{id}/post", s.handlePost)
			r.Post("/{id}/skip", s.handleSkip)
			r.Get("/{id}/preview", s.handleSchedulePreview)
		})

		r.Get("/recurrence/preview", s.handleRecurrencePreview)
	})

	return r
}

// Shutdown stops the limiter cleanup and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Store not ready", log.FieldError, err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) tracing() *trace.Middleware {
	opts := []trace.Option{trace.WithClientIP(extractClientIP)}
	if s.tracerProvider != nil {
		opts = append(opts, trace.WithTracerProvider(s.tracerProvider))
	}
	return trace.NewMiddleware(opts...)
}

// instrument counts requests by matched route pattern so ids stay out of
// the label set.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
	})
}

// Package trace opens one OpenTelemetry span per HTTP request. Spans are
// named after the matched chi route so ids stay out of span names.
package trace

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const instrumentationName = "bilancio.http"

// Middleware handles request tracing
type Middleware struct {
	tracer    oteltrace.Tracer
	extractIP func(*http.Request) string
}

// Option configures the middleware
type Option func(*config)

type config struct {
	provider  oteltrace.TracerProvider
	extractIP func(*http.Request) string
}

// WithTracerProvider uses tp instead of the global provider
func WithTracerProvider(tp oteltrace.TracerProvider) Option {
	return func(c *config) { c.provider = tp }
}

// WithClientIP records the address returned by fn as client.address
func WithClientIP(fn func(*http.Request) string) Option {
	return func(c *config) { c.extractIP = fn }
}

// NewMiddleware creates a new trace middleware
func NewMiddleware(opts ...Option) *Middleware {
	cfg := config{provider: otel.GetTracerProvider()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Middleware{
		tracer:    cfg.provider.Tracer(instrumentationName),
		extractIP: cfg.extractIP,
	}
}

// Handler returns HTTP middleware for request tracing
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attrs := []attribute.KeyValue{
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
		}
		if id := middleware.GetReqID(r.Context()); id != "" {
			attrs = append(attrs, attribute.String("http.request.id", id))
		}
		if m.extractIP != nil {
			attrs = append(attrs, attribute.String("client.address", m.extractIP(r)))
		}

		ctx, span := m.tracer.Start(r.Context(), r.Method,
			oteltrace.WithSpanKind(oteltrace.SpanKindServer),
			oteltrace.WithAttributes(attrs...))
		defer span.End()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r.WithContext(ctx))

		// The route is only known once chi has matched it.
		if rc := chi.RouteContext(ctx); rc != nil && rc.RoutePattern() != "" {
			span.SetName(r.Method + " " + rc.RoutePattern())
			span.SetAttributes(attribute.String("http.route", rc.RoutePattern()))
		}
		span.SetAttributes(attribute.Int("http.response.status_code", rw.statusCode))
		if rw.statusCode >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
		}
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

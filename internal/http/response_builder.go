package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"bilancio/internal/core"
	"bilancio/internal/log"
)

// ResponseBuilder provides a fluent API for building JSON responses.
type ResponseBuilder struct {
	statusCode int
	headers    map[string]string
	body       any
}

// NewResponse creates a new response builder with default 200 status.
func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.headers[name] = value
	return b
}

// JSON sets the value encoded as the response body.
func (b *ResponseBuilder) JSON(v any) *ResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *ResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_ = json.NewEncoder(w).Encode(b.body)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// badRequest marks request decoding failures that never reached the domain.
type badRequest struct{ err error }

func (e *badRequest) Error() string { return e.err.Error() }
func (e *badRequest) Unwrap() error { return e.err }

// ErrorResponse maps a domain error onto a status code and an error body.
func ErrorResponse(err error) *ResponseBuilder {
	detail := errorDetail{Message: err.Error()}
	b := NewResponse()

	var br *badRequest
	var ve *core.ValidationError
	switch {
	case errors.As(err, &br):
		b.Status(http.StatusBadRequest)
		detail.Type = "bad_request"
	case errors.As(err, &ve):
		b.Status(http.StatusUnprocessableEntity)
		detail.Type = "validation"
		detail.Field = ve.Field
	case errors.Is(err, core.ErrInvalidRule):
		b.Status(http.StatusUnprocessableEntity)
		detail.Type = "invalid_rule"
	case errors.Is(err, core.ErrNotFound):
		b.Status(http.StatusNotFound)
		detail.Type = "not_found"
	case errors.Is(err, core.ErrDisabledSchedule):
		b.Status(http.StatusConflict)
		detail.Type = "schedule_disabled"
	case errors.Is(err, core.ErrConflict):
		b.Status(http.StatusConflict).Header("Retry-After", "1")
		detail.Type = "conflict"
		detail.Retryable = true
	default:
		b.Status(http.StatusInternalServerError)
		detail.Type = "internal"
		detail.Message = "internal error"
	}
	return b.JSON(errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	NewResponse().Status(status).JSON(v).Write(w)
}

// errorType classifies err for the error_type log field.
func errorType(err error) string {
	var br *badRequest
	switch {
	case errors.As(err, &br), errors.Is(err, core.ErrValidation):
		return log.ErrorTypeValidation
	case errors.Is(err, core.ErrInvalidRule):
		return log.ErrorTypeRule
	case errors.Is(err, core.ErrNotFound):
		return log.ErrorTypeNotFound
	case errors.Is(err, core.ErrDisabledSchedule):
		return log.ErrorTypeDisabled
	case errors.Is(err, core.ErrConflict):
		return log.ErrorTypeConflict
	case errors.Is(err, context.DeadlineExceeded):
		return log.ErrorTypeTimeout
	default:
		return log.ErrorTypeInternal
	}
}

// writeError logs the failure and writes the mapped response. Client errors
// are logged at debug; the access log already records their status.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse(err)
	logger := log.FromContext(r.Context())
	fields := log.NewFields().WithErrorType(errorType(err))
	if resp.statusCode >= http.StatusInternalServerError {
		log.NewStructuredLogger(logger).
			LogError(r.Context(), "Request failed", err, log.ComponentHTTP, r.Method+" "+r.URL.Path, fields)
	} else {
		logger.DebugContext(r.Context(), "Request rejected", fields.WithError(err).ToSlice()...)
	}
	resp.Write(w)
}

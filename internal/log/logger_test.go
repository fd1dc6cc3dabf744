package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewJSONIncludesComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: "json", Output: &buf, Component: ComponentLedger})
	logger.Info("hello", FieldAccountID, "acc-1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec[FieldComponent] != ComponentLedger {
		t.Errorf("component = %v", rec[FieldComponent])
	}
	if rec[FieldAccountID] != "acc-1" {
		t.Errorf("account_id = %v", rec[FieldAccountID])
	}
}

func TestWithComponentDoesNotDuplicate(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf}).WithComponent(ComponentScheduler)
	logger.Warn("x")

	if n := strings.Count(buf.String(), "component="); n != 1 {
		t.Fatalf("component appears %d times in %q", n, buf.String())
	}
	if !strings.Contains(buf.String(), "component=scheduler") {
		t.Fatalf("missing component in %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Output: &buf})

	h := Middleware(base)(RequestIDMiddleware(func(r *http.Request) string {
		return r.Header.Get("X-Request-Id")
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).InfoContext(r.Context(), "inside")
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "req-42")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), "request_id=req-42") {
		t.Fatalf("request id missing from %q", buf.String())
	}
}

func TestAccessLogLevelFollowsStatus(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Output: &buf})

	h := Middleware(base)(AccessLog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/x", nil))

	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "status_code=409") {
		t.Fatalf("unexpected access log %q", out)
	}
}

func TestFromContextFallsBack(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected a default logger")
	}
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(New(Config{Output: &buf}))
	sl.LogError(context.Background(), "boom", errors.New("disk full"), ComponentStorage, OpCreate,
		NewFields().WithErrorType(ErrorTypeInternal).WithErrorType(""))

	out := buf.String()
	for _, want := range []string{"component=storage", "operation=create", `error="disk full"`, "error_type=internal_error"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %q", want, out)
		}
	}
}

func TestWithSchedule(t *testing.T) {
	f := NewFields().WithSchedule("rent", "MONTHLY", "2024-03-01T00:00:00Z")
	want := map[string]string{
		FieldScheduleID:     "rent",
		FieldPattern:        "MONTHLY",
		FieldNextOccurrence: "2024-03-01T00:00:00Z",
	}
	for k, v := range want {
		if f[k] != v {
			t.Errorf("%s = %v, want %s", k, f[k], v)
		}
	}
}

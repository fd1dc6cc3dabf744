// Package metrics holds the Prometheus collectors of the ledger and its
// workers. Collectors register with the default registry on import.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"bilancio/internal/core"
)

// ─── Ledger ─────────────────────────────────────────────────────────────────

// LedgerOperations counts ledger mutations by operation and outcome.
var LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bilancio",
	Subsystem: "ledger",
	Name:      "operations_total",
	Help:      "Ledger operations by operation and result.",
}, []string{"op", "result"})

// UnitOfWorkDuration tracks how long units of work take, lock waits included.
var UnitOfWorkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "bilancio",
	Subsystem: "ledger",
	Name:      "unit_of_work_seconds",
	Help:      "Duration of ledger and scheduler units of work.",
	Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
}, []string{"op"})

// BalanceCacheLookups counts balance cache hits and misses.
var BalanceCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bilancio",
	Subsystem: "ledger",
	Name:      "balance_cache_lookups_total",
	Help:      "Balance cache lookups by outcome (hit or miss).",
}, []string{"outcome"})

// BalanceDrift counts accounts whose stored balance disagreed with history.
var BalanceDrift = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "bilancio",
	Subsystem: "ledger",
	Name:      "balance_drift_total",
	Help:      "Verifications that found a stored balance differing from its history.",
})

// ─── Scheduler ──────────────────────────────────────────────────────────────

// ScheduleActions counts posts and skips by outcome.
var ScheduleActions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bilancio",
	Subsystem: "scheduler",
	Name:      "actions_total",
	Help:      "Scheduled transaction posts and skips by result.",
}, []string{"action", "result"})

// DueSchedules is the number of due occurrences seen by the last batch run.
var DueSchedules = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "bilancio",
	Subsystem: "scheduler",
	Name:      "due_schedules",
	Help:      "Due schedules found by the most recent processing run.",
})

// ─── Events ─────────────────────────────────────────────────────────────────

// EventsPublished counts ledger events handed to the broker.
var EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bilancio",
	Subsystem: "events",
	Name:      "published_total",
	Help:      "Ledger events published by result.",
}, []string{"result"})

// ─── HTTP ───────────────────────────────────────────────────────────────────

// HTTPRequests counts API requests by route pattern, method and status.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bilancio",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "API requests by route, method and status code.",
}, []string{"route", "method", "status"})

// RateLimited counts mutating requests rejected by the per-client limiter.
var RateLimited = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "bilancio",
	Subsystem: "http",
	Name:      "rate_limited_total",
	Help:      "Requests rejected by the per-client rate limiter.",
})

// Result classifies err into a low-cardinality label.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, core.ErrValidation):
		return "validation"
	case errors.Is(err, core.ErrNotFound):
		return "not_found"
	case errors.Is(err, core.ErrConflict):
		return "conflict"
	case errors.Is(err, core.ErrDisabledSchedule):
		return "disabled"
	case errors.Is(err, core.ErrInvalidRule):
		return "invalid_rule"
	default:
		return "error"
	}
}

// ObserveLedgerOp records one ledger operation started at start.
func ObserveLedgerOp(op string, start time.Time, err error) {
	LedgerOperations.WithLabelValues(op, Result(err)).Inc()
	UnitOfWorkDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// ObserveScheduleAction records one post or skip started at start.
func ObserveScheduleAction(action string, start time.Time, err error) {
	ScheduleActions.WithLabelValues(action, Result(err)).Inc()
	UnitOfWorkDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
}

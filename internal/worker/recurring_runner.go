// Package worker holds the long-running loops behind cmd/recurring-worker and
// cmd/ledger-audit.
package worker

import (
	"context"
	"time"

	"bilancio/internal/clock"
	"bilancio/internal/log"
	"bilancio/internal/scheduler"
)

// DueProcessor posts due schedules as of a point in time.
type DueProcessor interface {
	ProcessDue(ctx context.Context, asOf time.Time) (scheduler.ProcessResult, error)
}

// RecurringRunner calls ProcessDue once at start and then on every tick.
type RecurringRunner struct {
	processor DueProcessor
	clock     clock.Clock
	interval  time.Duration
	logger    *log.Logger
}

func NewRecurringRunner(processor DueProcessor, interval time.Duration, c clock.Clock, logger *log.Logger) *RecurringRunner {
	if c == nil {
		c = clock.System{}
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &RecurringRunner{
		processor: processor,
		clock:     c,
		interval:  interval,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// Run blocks until ctx is done.
func (r *RecurringRunner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "Running initial due schedule processing...")
	r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			res, err := r.RunOnce(ctx)
			if err == nil {
				r.logger.InfoContext(ctx, "Periodic processing complete",
					"posted", res.Posted,
					"next_check", r.clock.Now().Add(r.interval).Format("15:04:05"))
			}
		}
	}
}

// RunOnce processes due schedules as of the clock's now.
func (r *RecurringRunner) RunOnce(ctx context.Context) (scheduler.ProcessResult, error) {
	res, err := r.processor.ProcessDue(ctx, r.clock.Now())
	if err != nil && ctx.Err() == nil {
		r.logger.ErrorContext(ctx, "Due schedule processing failed", log.FieldError, err)
	}
	return res, err
}

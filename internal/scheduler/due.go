package scheduler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"bilancio/internal/core"
	"bilancio/internal/log"
	"bilancio/internal/metrics"
	"bilancio/internal/storage"
)

var ErrNegativeHorizon = errors.New("horizon cannot be negative")

// DuePending yields enabled schedules with NextOccurrence <= asOf+horizon in
// (NextOccurrence, ID) order. Pages are read lazily; ranging over the result
// again starts a fresh read. Iteration stops after the first error.
func (s *Service) DuePending(ctx context.Context, asOf time.Time, horizon time.Duration) iter.Seq2[core.ScheduledTransaction, error] {
	return func(yield func(core.ScheduledTransaction, error) bool) {
		if horizon < 0 {
			yield(core.ScheduledTransaction{}, core.Invalid("horizon", ErrNegativeHorizon))
			return
		}
		cutoff := asOf.Add(horizon)

		var after storage.Cursor
		for {
			page, err := s.store.ListDueSchedules(ctx, cutoff, after, s.cfg.PageSize)
			if err != nil {
				yield(core.ScheduledTransaction{}, fmt.Errorf("list due schedules: %w", err))
				return
			}
			for _, sch := range page {
				if !after.Before(sch) {
					yield(core.ScheduledTransaction{}, fmt.Errorf("due schedules: cursor did not move past %s", sch.ID))
					return
				}
				after = storage.CursorOf(sch)
				if !yield(sch, nil) {
					return
				}
			}
			if len(page) < s.cfg.PageSize {
				return
			}
		}
	}
}

// ProcessResult summarizes one ProcessDue run.
type ProcessResult struct {
	Due    int `json:"due"`
	Posted int `json:"posted"`
	Failed int `json:"failed"`
}

// ProcessDue posts every schedule due at asOf, catching up missed occurrences
// up to MaxCatchUp per schedule. A failing schedule is logged and counted;
// the run goes on with the others.
func (s *Service) ProcessDue(ctx context.Context, asOf time.Time) (ProcessResult, error) {
	var due []string
	for sch, err := range s.DuePending(ctx, asOf, 0) {
		if err != nil {
			return ProcessResult{}, fmt.Errorf("failed to get due schedules: %w", err)
		}
		due = append(due, sch.ID)
	}
	metrics.DueSchedules.Set(float64(len(due)))

	s.logger.InfoContext(ctx, "Processing due schedules",
		log.FieldCount, len(due),
		"as_of", asOf.Format(time.RFC3339))

	var posted, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, id := range due {
		g.Go(func() error {
			n, err := s.catchUp(ctx, id, asOf)
			posted.Add(int64(n))
			if err != nil {
				failed.Add(1)
				s.logger.ErrorContext(ctx, "Failed to post scheduled transaction",
					log.FieldScheduleID, id,
					log.FieldError, err)
			}
			return nil
		})
	}
	g.Wait()

	res := ProcessResult{Due: len(due), Posted: int(posted.Load()), Failed: int(failed.Load())}
	s.logger.InfoContext(ctx, "Due schedule processing complete",
		"posted", res.Posted,
		"failed", res.Failed,
		"total_checked", res.Due)
	return res, ctx.Err()
}

// catchUp posts id until its next occurrence is after asOf.
func (s *Service) catchUp(ctx context.Context, id string, asOf time.Time) (int, error) {
	for i := range s.cfg.MaxCatchUp {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		res, err := s.Post(ctx, id)
		if err != nil {
			return i, err
		}
		if res.Schedule.NextOccurrence.After(asOf) {
			return i + 1, nil
		}
	}
	s.logger.WarnContext(ctx, "Catch-up limit reached, remaining occurrences wait for the next run",
		log.FieldScheduleID, id,
		log.FieldCount, s.cfg.MaxCatchUp)
	return s.cfg.MaxCatchUp, nil
}

// Package scheduler turns scheduled transactions into ledger entries and
// moves their cursors forward.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"bilancio/internal/amqp"
	"bilancio/internal/clock"
	"bilancio/internal/core"
	"bilancio/internal/ledger"
	"bilancio/internal/lock"
	"bilancio/internal/log"
	"bilancio/internal/metrics"
	"bilancio/internal/recurrence"
	"bilancio/internal/storage"
)

// DatePolicy decides the date stamped on a posted transaction.
type DatePolicy string

const (
	// PostOnScheduledDate dates the transaction at the occurrence being posted.
	PostOnScheduledDate DatePolicy = "scheduled"
	// PostOnCurrentDate dates the transaction at the clock's now.
	PostOnCurrentDate DatePolicy = "now"
)

var ErrUnknownDatePolicy = errors.New("unknown post date policy")

// ParseDatePolicy accepts "scheduled" and "now"; empty means scheduled.
func ParseDatePolicy(s string) (DatePolicy, error) {
	switch p := DatePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PostOnScheduledDate, nil
	case PostOnScheduledDate, PostOnCurrentDate:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDatePolicy, s)
	}
}

// Config tunes the scheduler. Zero values take defaults.
type Config struct {
	DatePolicy DatePolicy
	// Workers bounds how many schedules ProcessDue posts in parallel.
	Workers int
	// MaxCatchUp caps the occurrences one schedule may post in a single run.
	MaxCatchUp int
	PageSize   int
}

const (
	defaultWorkers    = 4
	defaultMaxCatchUp = 31
)

func (c Config) withDefaults() Config {
	if c.DatePolicy == "" {
		c.DatePolicy = PostOnScheduledDate
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.MaxCatchUp <= 0 {
		c.MaxCatchUp = defaultMaxCatchUp
	}
	if c.PageSize <= 0 {
		c.PageSize = storage.DefaultPageSize
	}
	return c
}

// PostResult is the outcome of one post.
type PostResult struct {
	Transaction core.Transaction          `json:"transaction"`
	Schedule    core.ScheduledTransaction `json:"schedule"`
}

// Service posts and skips scheduled transactions. It never writes balances
// itself; materialized transactions go through the ledger.
type Service struct {
	store  storage.Store
	ledger *ledger.Ledger
	clock  clock.Clock
	logger *log.Logger
	cfg    Config
	newID  func() string
}

type Option func(*Service)

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

func WithLogger(logger *log.Logger) Option { return func(s *Service) { s.logger = logger } }

// WithIDGenerator replaces uuid.NewString for new schedule ids.
func WithIDGenerator(fn func() string) Option { return func(s *Service) { s.newID = fn } }

func New(store storage.Store, l *ledger.Ledger, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:  store,
		ledger: l,
		clock:  clock.System{},
		logger: log.Discard(),
		cfg:    cfg.withDefaults(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent(log.ComponentScheduler)
	return s
}

// Post materializes the schedule's next occurrence as a COMPLETED transaction
// and advances the cursor, in one unit of work.
func (s *Service) Post(ctx context.Context, id string) (res PostResult, err error) {
	start := time.Now()
	defer func() { metrics.ObserveScheduleAction(log.OpPost, start, err) }()

	err = s.store.RunInTx(ctx, func(ctx context.Context, utx storage.Tx) error {
		sch, next, err := s.lockForAdvance(ctx, utx, id)
		if err != nil {
			return err
		}

		created, err := s.ledger.CreateWithin(ctx, utx, sch.Materialize("", s.postDate(sch)))
		if err != nil {
			return fmt.Errorf("materialize: %w", err)
		}

		sch, err = s.advance(ctx, utx, sch, next)
		if err != nil {
			return err
		}
		res = PostResult{Transaction: created, Schedule: sch}
		return nil
	})
	if err != nil {
		return PostResult{}, fmt.Errorf("post schedule %s: %w", id, err)
	}

	s.logger.InfoContext(ctx, "Posted scheduled transaction",
		log.FieldScheduleID, id,
		log.FieldTransactionID, res.Transaction.ID,
		log.FieldAmount, res.Transaction.Amount.String(),
		log.FieldNextOccurrence, res.Schedule.NextOccurrence.Format(time.RFC3339))

	ev := amqp.NewLedgerEvent(amqp.EventSchedulePosted, res.Transaction.ID, res.Transaction.Version, res.Transaction.AccountIDs()...)
	ev.ScheduleID = id
	s.ledger.Notify(ctx, *ev)
	return res, nil
}

// Skip advances the cursor without creating a transaction.
func (s *Service) Skip(ctx context.Context, id string) (sch core.ScheduledTransaction, err error) {
	start := time.Now()
	defer func() { metrics.ObserveScheduleAction(log.OpSkip, start, err) }()

	err = s.store.RunInTx(ctx, func(ctx context.Context, utx storage.Tx) error {
		cur, next, err := s.lockForAdvance(ctx, utx, id)
		if err != nil {
			return err
		}
		sch, err = s.advance(ctx, utx, cur, next)
		return err
	})
	if err != nil {
		return core.ScheduledTransaction{}, fmt.Errorf("skip schedule %s: %w", id, err)
	}

	s.logger.InfoContext(ctx, "Skipped scheduled occurrence", scheduleFields(sch).WithOperation(log.OpSkip).ToSlice()...)

	ev := amqp.NewLedgerEvent(amqp.EventScheduleSkipped, "", sch.Version)
	ev.ScheduleID = id
	s.ledger.Notify(ctx, *ev)
	return sch, nil
}

// lockForAdvance locks and loads an enabled schedule and computes its next
// occurrence. The schedule lock is taken before any account lock.
func (s *Service) lockForAdvance(ctx context.Context, utx storage.Tx, id string) (core.ScheduledTransaction, time.Time, error) {
	if err := utx.Lock(ctx, lock.ScheduleKey(id)); err != nil {
		return core.ScheduledTransaction{}, time.Time{}, err
	}
	sch, err := utx.GetSchedule(ctx, id)
	if err != nil {
		return core.ScheduledTransaction{}, time.Time{}, err
	}
	if !sch.Enabled {
		return core.ScheduledTransaction{}, time.Time{}, &core.DisabledScheduleError{ScheduleID: id}
	}
	next, err := recurrence.Advance(sch.Pattern, sch.Interval(), sch.NextOccurrence)
	if err != nil {
		return core.ScheduledTransaction{}, time.Time{}, err
	}
	return sch, next, nil
}

func (s *Service) advance(ctx context.Context, utx storage.Tx, sch core.ScheduledTransaction, next time.Time) (core.ScheduledTransaction, error) {
	sch.NextOccurrence = next
	sch.Version++
	sch.UpdatedAt = s.clock.Now()
	if err := utx.UpdateSchedule(ctx, sch); err != nil {
		return core.ScheduledTransaction{}, fmt.Errorf("store schedule: %w", err)
	}
	return sch, nil
}

func (s *Service) postDate(sch core.ScheduledTransaction) time.Time {
	if s.cfg.DatePolicy == PostOnCurrentDate {
		return s.clock.Now()
	}
	return sch.NextOccurrence
}

// CreateSchedule stores a new schedule. An empty ID becomes a new UUID.
func (s *Service) CreateSchedule(ctx context.Context, sch core.ScheduledTransaction) (core.ScheduledTransaction, error) {
	if sch.ID == "" {
		sch.ID = s.newID()
	}
	if err := sch.Validate(); err != nil {
		return core.ScheduledTransaction{}, err
	}
	if _, err := recurrence.Advance(sch.Pattern, sch.Interval(), sch.NextOccurrence); err != nil {
		return core.ScheduledTransaction{}, err
	}

	now := s.clock.Now()
	sch.Version = 1
	sch.CreatedAt = now
	sch.UpdatedAt = now

	err := s.store.RunInTx(ctx, func(ctx context.Context, utx storage.Tx) error {
		for _, id := range sch.AccountIDs() {
			if _, err := utx.GetAccount(ctx, id); err != nil {
				return err
			}
		}
		if sch.AssetID != "" {
			if _, err := utx.GetAsset(ctx, sch.AssetID); err != nil {
				return err
			}
		}
		return utx.InsertSchedule(ctx, sch)
	})
	if err != nil {
		return core.ScheduledTransaction{}, fmt.Errorf("create schedule: %w", err)
	}

	s.logger.InfoContext(ctx, "Schedule created", scheduleFields(sch).WithOperation(log.OpCreate).ToSlice()...)
	return sch, nil
}

// SetEnabled turns a schedule on or off. Disabled schedules are neither due
// nor postable.
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) (sch core.ScheduledTransaction, err error) {
	err = s.store.RunInTx(ctx, func(ctx context.Context, utx storage.Tx) error {
		if err := utx.Lock(ctx, lock.ScheduleKey(id)); err != nil {
			return err
		}
		cur, err := utx.GetSchedule(ctx, id)
		if err != nil {
			return err
		}
		if cur.Enabled == enabled {
			sch = cur
			return nil
		}
		cur.Enabled = enabled
		cur.Version++
		cur.UpdatedAt = s.clock.Now()
		sch = cur
		return utx.UpdateSchedule(ctx, cur)
	})
	if err != nil {
		return core.ScheduledTransaction{}, fmt.Errorf("set schedule %s enabled: %w", id, err)
	}
	return sch, nil
}

// Get returns a committed schedule.
func (s *Service) Get(ctx context.Context, id string) (core.ScheduledTransaction, error) {
	return s.store.GetSchedule(ctx, id)
}

// Preview returns the next n occurrences of a stored schedule, starting with
// the pending one.
func (s *Service) Preview(ctx context.Context, id string, n int) ([]time.Time, error) {
	sch, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return []time.Time{}, nil
	}
	rest, err := recurrence.Occurrences(sch.Pattern, sch.Interval(), sch.NextOccurrence, n-1)
	if err != nil {
		return nil, err
	}
	return append([]time.Time{sch.NextOccurrence}, rest...), nil
}

func scheduleFields(sch core.ScheduledTransaction) log.LogFields {
	return log.NewFields().WithSchedule(sch.ID, string(sch.Pattern), sch.NextOccurrence.Format(time.RFC3339))
}

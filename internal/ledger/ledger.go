// Package ledger is the only writer of account balances. Every mutation runs
// as one unit of work that reverses the old effect of a transaction and
// applies the new one.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bilancio/internal/amqp"
	"bilancio/internal/cache"
	"bilancio/internal/clock"
	"bilancio/internal/core"
	"bilancio/internal/lock"
	"bilancio/internal/log"
	"bilancio/internal/metrics"
	"bilancio/internal/storage"
)

var tracer = otel.Tracer("bilancio.ledger")

// Publisher receives an event after each committed unit of work.
// *amqp.Client implements it.
type Publisher interface {
	PublishLedgerEvent(ctx context.Context, ev amqp.LedgerEvent) error
}

// Ledger applies transactions to account balances.
type Ledger struct {
	store     storage.Store
	clock     clock.Clock
	publisher Publisher
	balances  cache.Cache[core.Money]
	logger    *log.Logger
	newID     func() string
}

type Option func(*Ledger)

func WithClock(c clock.Clock) Option { return func(l *Ledger) { l.clock = c } }

func WithPublisher(p Publisher) Option { return func(l *Ledger) { l.publisher = p } }

// WithBalanceCache puts c in front of BalanceOf. Entries are dropped when a
// unit of work touching the account commits.
func WithBalanceCache(c cache.Cache[core.Money]) Option { return func(l *Ledger) { l.balances = c } }

func WithLogger(logger *log.Logger) Option { return func(l *Ledger) { l.logger = logger } }

// WithIDGenerator replaces uuid.NewString for new entity ids.
func WithIDGenerator(fn func() string) Option { return func(l *Ledger) { l.newID = fn } }

func New(store storage.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		clock:  clock.System{},
		logger: log.Discard(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.WithComponent(log.ComponentLedger)
	return l
}

// Create validates tx, applies it if COMPLETED and stores it. An empty ID is
// replaced with a new UUID and an empty status reads as COMPLETED.
func (l *Ledger) Create(ctx context.Context, tx core.Transaction) (created core.Transaction, err error) {
	start := time.Now()
	ctx, span := l.startSpan(ctx, "ledger.Create", tx.ID)
	defer func() {
		endSpan(span, err)
		metrics.ObserveLedgerOp(log.OpCreate, start, err)
	}()

	err = l.store.RunInTx(ctx, func(ctx context.Context, utx storage.Tx) error {
		var err error
		created, err = l.CreateWithin(ctx, utx, tx)
		return err
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	l.logApplied(ctx, log.OpCreate, created)
	l.Notify(ctx, *amqp.NewLedgerEvent(amqp.EventTransactionCreated, created.ID, created.Version, created.AccountIDs()...))
	return created, nil
}

// CreateWithin is Create joining the caller's unit of work. The caller owns
// the commit and must call Notify once it succeeds.
func (l *Ledger) CreateWithin(ctx context.Context, utx storage.Tx, tx core.Transaction) (core.Transaction, error) {
	if tx.ID == "" {
		tx.ID = l.newID()
	}
	if tx.Status == "" {
		tx.Status = core.StatusCompleted
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}

	if err := utx.Lock(ctx, accountKeys(tx.AccountIDs())...); err != nil {
		return core.Transaction{}, err
	}
	if err := checkReferences(ctx, utx, tx); err != nil {
		return core.Transaction{}, err
	}

	now := l.clock.Now()
	tx.Version = 1
	tx.CreatedAt = now
	tx.UpdatedAt = now

	if err := rebalance(ctx, utx, nil, &tx, now); err != nil {
		return core.Transaction{}, err
	}
	if err := utx.InsertTransaction(ctx, tx); err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return tx, nil
}

// Update replaces the stored transaction id with tx. A non-zero tx.Version
// must match the stored version.
func (l *Ledger) Update(ctx context.Context, id string, tx core.Transaction) (updated core.Transaction, err error) {
	start := time.Now()
	ctx, span := l.startSpan(ctx, "ledger.Update", id)
	defer func() {
		endSpan(span, err)
		metrics.ObserveLedgerOp(log.OpUpdate, start, err)
	}()

	if tx.Status == "" {
		tx.Status = core.StatusCompleted
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}

	// Unlocked read to learn which accounts the old version touches.
	old, err := l.store.GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	if tx.Version != 0 && tx.Version != old.Version {
		return core.Transaction{}, core.Conflict(log.OpUpdate,
			fmt.Errorf("transaction %s is at version %d, not %d", id, old.Version, tx.Version))
	}

	touched := union(old.AccountIDs(), tx.AccountIDs())
	err = l.store.RunInTx(ctx, func(ctx context.Context, utx storage.Tx) error {
		keys := append(accountKeys(touched), lock.TransactionKey(id))
		if err := utx.Lock(ctx, keys...); err != nil {
			return err
		}
		cur, err := reread(ctx, utx, log.OpUpdate, old)
		if err != nil {
			return err
		}
		if err := checkReferences(ctx, utx, tx); err != nil {
			return err
		}

		now := l.clock.Now()
		tx.ID = id
		tx.CreatedAt = cur.CreatedAt
		tx.UpdatedAt = now
		tx.Version = cur.Version + 1
		if tx.ScheduleID == "" {
			tx.ScheduleID = cur.ScheduleID
		}

		if err := rebalance(ctx, utx, &cur, &tx, now); err != nil {
			return err
		}
		if err := utx.UpdateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("store transaction: %w", err)
		}
		updated = tx
		return nil
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}

	l.logApplied(ctx, log.OpUpdate, updated)
	l.Notify(ctx, *amqp.NewLedgerEvent(amqp.EventTransactionUpdated, id, updated.Version, touched...))
	return updated, nil
}

// Delete reverses the transaction's effect and removes it.
func (l *Ledger) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	ctx, span := l.startSpan(ctx, "ledger.Delete", id)
	defer func() {
		endSpan(span, err)
		metrics.ObserveLedgerOp(log.OpDelete, start, err)
	}()

	old, err := l.store.GetTransaction(ctx, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}

	err = l.store.RunInTx(ctx, func(ctx context.Context, utx storage.Tx) error {
		keys := append(accountKeys(old.AccountIDs()), lock.TransactionKey(id))
		if err := utx.Lock(ctx, keys...); err != nil {
			return err
		}
		cur, err := reread(ctx, utx, log.OpDelete, old)
		if err != nil {
			return err
		}
		if err := rebalance(ctx, utx, &cur, nil, l.clock.Now()); err != nil {
			return err
		}
		return utx.DeleteTransaction(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}

	l.logger.InfoContext(ctx, "Transaction deleted", log.FieldTransactionID, id)
	l.Notify(ctx, *amqp.NewLedgerEvent(amqp.EventTransactionDeleted, id, old.Version, old.AccountIDs()...))
	return nil
}

// Get returns a committed transaction.
func (l *Ledger) Get(ctx context.Context, id string) (core.Transaction, error) {
	return l.store.GetTransaction(ctx, id)
}

// BalanceOf returns the committed balance of an account.
func (l *Ledger) BalanceOf(ctx context.Context, accountID string) (core.Money, error) {
	if l.balances != nil {
		if b, ok := l.balances.Get(accountID); ok {
			metrics.BalanceCacheLookups.WithLabelValues("hit").Inc()
			return b, nil
		}
		metrics.BalanceCacheLookups.WithLabelValues("miss").Inc()
	}

	acc, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return core.Money{}, fmt.Errorf("balance of %s: %w", accountID, err)
	}
	if l.balances != nil {
		l.balances.Set(accountID, acc.Balance)
	}
	return acc.Balance, nil
}

// Summary totals the balances of the given accounts per currency.
func (l *Ledger) Summary(ctx context.Context, accountIDs []string) (core.Summary, error) {
	accounts, err := l.store.GetAccounts(ctx, accountIDs)
	if err != nil {
		return core.Summary{}, fmt.Errorf("load accounts: %w", err)
	}
	return core.Summarize(accounts), nil
}

// OpenAccount stores a new account whose balance starts at StartBalance.
func (l *Ledger) OpenAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if a.ID == "" {
		a.ID = l.newID()
	}
	if err := a.Validate(); err != nil {
		return core.Account{}, err
	}
	now := l.clock.Now()
	a.Balance = a.StartBalance
	a.CreatedAt = now
	a.UpdatedAt = now

	err := l.store.RunInTx(ctx, func(ctx context.Context, utx storage.Tx) error {
		return utx.InsertAccount(ctx, a)
	})
	if err != nil {
		return core.Account{}, fmt.Errorf("open account: %w", err)
	}
	l.logger.InfoContext(ctx, "Account opened", log.FieldAccountID, a.ID, log.FieldBalance, a.Balance.String())
	return a, nil
}

// RegisterAsset stores an asset so transfers may reference it.
func (l *Ledger) RegisterAsset(ctx context.Context, a core.Asset) (core.Asset, error) {
	if a.ID == "" {
		a.ID = l.newID()
	}
	if err := a.Validate(); err != nil {
		return core.Asset{}, err
	}
	if a.LastUpdate.IsZero() {
		a.LastUpdate = l.clock.Now()
	}
	err := l.store.RunInTx(ctx, func(ctx context.Context, utx storage.Tx) error {
		return utx.InsertAsset(ctx, a)
	})
	if err != nil {
		return core.Asset{}, fmt.Errorf("register asset: %w", err)
	}
	l.logger.InfoContext(ctx, "Asset registered",
		log.FieldOperation, log.OpRegister,
		log.FieldAssetID, a.ID,
		log.FieldType, string(a.Type))
	return a, nil
}

// Notify runs the after-commit side effects of ev: cached balances of its
// accounts are dropped and the event is published. Publishing is best effort.
func (l *Ledger) Notify(ctx context.Context, ev amqp.LedgerEvent) {
	if l.balances != nil && len(ev.AccountIDs) > 0 {
		l.balances.Delete(ev.AccountIDs...)
	}

	if l.publisher == nil {
		l.logger.DebugContext(ctx, "No publisher configured, skipping ledger event", log.FieldEvent, ev.Type)
		return
	}
	err := l.publisher.PublishLedgerEvent(ctx, ev)
	metrics.EventsPublished.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		// The unit of work is committed; the audit consumer catches up later.
		l.logger.ErrorContext(ctx, "Failed to publish ledger event",
			log.FieldOperation, log.OpPublish,
			log.FieldEvent, ev.Type,
			log.FieldTransactionID, ev.TransactionID,
			log.FieldError, err)
	}
}

// reread loads the transaction again under lock and fails with a conflict if
// it changed after the unlocked read.
func reread(ctx context.Context, utx storage.Tx, op string, old core.Transaction) (core.Transaction, error) {
	cur, err := utx.GetTransaction(ctx, old.ID)
	if errors.Is(err, core.ErrNotFound) {
		return core.Transaction{}, core.Conflict(op, fmt.Errorf("transaction %s was deleted concurrently", old.ID))
	}
	if err != nil {
		return core.Transaction{}, err
	}
	if cur.Version != old.Version || !slices.Equal(cur.AccountIDs(), old.AccountIDs()) {
		return core.Transaction{}, core.Conflict(op, fmt.Errorf("transaction %s changed concurrently", old.ID))
	}
	return cur, nil
}

func checkReferences(ctx context.Context, utx storage.Tx, tx core.Transaction) error {
	for _, id := range tx.AccountIDs() {
		if _, err := utx.GetAccount(ctx, id); err != nil {
			return err
		}
	}
	if tx.AssetID != "" {
		if _, err := utx.GetAsset(ctx, tx.AssetID); err != nil {
			return err
		}
	}
	return nil
}

func accountKeys(ids []string) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = lock.AccountKey(id)
	}
	return keys
}

func union(a, b []string) []string {
	out := append(slices.Clone(a), b...)
	slices.Sort(out)
	return slices.Compact(out)
}

func (l *Ledger) logApplied(ctx context.Context, op string, tx core.Transaction) {
	log.NewStructuredLogger(l.logger).LogTransactionApplied(ctx, op, tx.ID, string(tx.Type), string(tx.Status), tx.Amount.String())
}

func (l *Ledger) startSpan(ctx context.Context, name, id string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("transaction.id", id)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

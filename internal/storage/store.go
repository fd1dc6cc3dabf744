// Package storage defines the persistence ports of the ledger and the
// helpers shared by its implementations (memory, sqlite, postgres).
package storage

import (
	"context"
	"time"

	"bilancio/internal/core"
)

// Tx is one unit of work. Reads observe the unit's own staged writes; nothing
// becomes visible to others until the function given to RunInTx returns nil.
type Tx interface {
	// Lock takes exclusive locks on keys (see package lock for key names)
	// until the unit of work ends. Expired waits yield a *core.ConflictError.
	Lock(ctx context.Context, keys ...string) error

	GetAccount(ctx context.Context, id string) (core.Account, error)
	InsertAccount(ctx context.Context, a core.Account) error
	SetAccountBalance(ctx context.Context, id string, balance core.Money, at time.Time) error

	GetAsset(ctx context.Context, id string) (core.Asset, error)
	InsertAsset(ctx context.Context, a core.Asset) error

	GetTransaction(ctx context.Context, id string) (core.Transaction, error)
	InsertTransaction(ctx context.Context, t core.Transaction) error
	UpdateTransaction(ctx context.Context, t core.Transaction) error
	DeleteTransaction(ctx context.Context, id string) error

	GetSchedule(ctx context.Context, id string) (core.ScheduledTransaction, error)
	InsertSchedule(ctx context.Context, s core.ScheduledTransaction) error
	UpdateSchedule(ctx context.Context, s core.ScheduledTransaction) error
}

// Reader serves committed state only.
type Reader interface {
	GetAccount(ctx context.Context, id string) (core.Account, error)
	GetAccounts(ctx context.Context, ids []string) ([]core.Account, error)
	GetAsset(ctx context.Context, id string) (core.Asset, error)
	GetTransaction(ctx context.Context, id string) (core.Transaction, error)
	GetSchedule(ctx context.Context, id string) (core.ScheduledTransaction, error)

	// ListAccountTransactions returns every transaction touching the account,
	// ordered by transaction date, sort order and id.
	ListAccountTransactions(ctx context.Context, accountID string) ([]core.Transaction, error)

	// ListDueSchedules returns up to limit enabled schedules with
	// NextOccurrence <= cutoff, strictly after the after cursor in
	// (NextOccurrence, ID) order.
	ListDueSchedules(ctx context.Context, cutoff time.Time, after Cursor, limit int) ([]core.ScheduledTransaction, error)

	Ping(ctx context.Context) error
}

// Store is a complete persistence backend.
type Store interface {
	Reader

	// RunInTx runs fn as one unit of work. Any error from fn rolls back every
	// write fn made and releases its locks.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Close() error
}

// Cursor is a keyset position over (NextOccurrence, ID). The zero Cursor
// starts from the beginning.
type Cursor struct {
	Next time.Time
	ID   string
}

// IsZero reports whether c is the starting position.
func (c Cursor) IsZero() bool { return c.Next.IsZero() && c.ID == "" }

// CursorOf returns the position just at s, so a following page starts after it.
func CursorOf(s core.ScheduledTransaction) Cursor {
	return Cursor{Next: s.NextOccurrence, ID: s.ID}
}

// Before reports whether s sorts strictly after c, i.e. belongs to the next page.
func (c Cursor) Before(s core.ScheduledTransaction) bool {
	if c.IsZero() {
		return true
	}
	if s.NextOccurrence.Equal(c.Next) {
		return s.ID > c.ID
	}
	return s.NextOccurrence.After(c.Next)
}

// DefaultPageSize is used by callers paging through due schedules.
const DefaultPageSize = 100

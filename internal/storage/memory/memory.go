// Package memory is an in-process Store. Units of work stage their writes and
// publish them under one write lock, so readers never see a partial unit.
package memory

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/lock"
	"bilancio/internal/storage"
)

var errClosed = errors.New("memory store is closed")

// Store keeps committed state in maps guarded by an RWMutex. Entity locks
// come from a lock.Manager and are independent of the map mutex.
type Store struct {
	mu           sync.RWMutex
	accounts     map[string]core.Account
	assets       map[string]core.Asset
	transactions map[string]core.Transaction
	schedules    map[string]core.ScheduledTransaction
	closed       bool

	locks *lock.Manager
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds the wait for entity locks.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.locks = lock.NewManager(d) }
}

func New(opts ...Option) *Store {
	s := &Store{
		accounts:     make(map[string]core.Account),
		assets:       make(map[string]core.Asset),
		transactions: make(map[string]core.Transaction),
		schedules:    make(map[string]core.ScheduledTransaction),
		locks:        lock.NewManager(lock.DefaultTimeout),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return ctx.Err()
}

// RunInTx runs fn against a staging area and publishes its writes atomically
// when fn succeeds.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	if err := s.Ping(ctx); err != nil {
		return err
	}

	set := s.locks.NewSet()
	defer set.Release()

	u := newUnit(s, set)
	if err := fn(ctx, u); err != nil {
		return err
	}
	return s.commit(u)
}

func (s *Store) commit(u *unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}

	// Insert races are checked before anything is applied.
	for id := range u.newAccounts {
		if _, ok := s.accounts[id]; ok {
			return core.Invalid("id", core.ErrDuplicateID)
		}
	}
	for id := range u.newAssets {
		if _, ok := s.assets[id]; ok {
			return core.Invalid("id", core.ErrDuplicateID)
		}
	}
	for id := range u.newTransactions {
		if _, ok := s.transactions[id]; ok {
			return core.Invalid("id", core.ErrDuplicateID)
		}
	}
	for id := range u.newSchedules {
		if _, ok := s.schedules[id]; ok {
			return core.Invalid("id", core.ErrDuplicateID)
		}
	}

	for id, a := range u.accounts {
		s.accounts[id] = a
	}
	for id, a := range u.assets {
		s.assets[id] = a
	}
	for id, w := range u.transactions {
		if w.deleted {
			delete(s.transactions, id)
			continue
		}
		s.transactions[id] = w.t
	}
	for id, sc := range u.schedules {
		s.schedules[id] = sc
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return core.Account{}, core.NotFound("account", id)
	}
	return a, nil
}

func (s *Store) GetAccounts(ctx context.Context, ids []string) ([]core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Account, 0, len(ids))
	for _, id := range ids {
		a, ok := s.accounts[id]
		if !ok {
			return nil, core.NotFound("account", id)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) GetAsset(ctx context.Context, id string) (core.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[id]
	if !ok {
		return core.Asset{}, core.NotFound("asset", id)
	}
	return a, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions[id]
	if !ok {
		return core.Transaction{}, core.NotFound("transaction", id)
	}
	return cloneTransaction(t), nil
}

func (s *Store) GetSchedule(ctx context.Context, id string) (core.ScheduledTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schedules[id]
	if !ok {
		return core.ScheduledTransaction{}, core.NotFound("schedule", id)
	}
	return cloneSchedule(sc), nil
}

func (s *Store) ListAccountTransactions(ctx context.Context, accountID string) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[accountID]; !ok {
		return nil, core.NotFound("account", accountID)
	}

	var out []core.Transaction
	for _, t := range s.transactions {
		if t.FromAccountID == accountID || t.ToAccountID == accountID {
			out = append(out, cloneTransaction(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.TransactionDate.Equal(b.TransactionDate) {
			return a.TransactionDate.Before(b.TransactionDate)
		}
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (s *Store) ListDueSchedules(ctx context.Context, cutoff time.Time, after storage.Cursor, limit int) ([]core.ScheduledTransaction, error) {
	if limit <= 0 {
		limit = storage.DefaultPageSize
	}

	s.mu.RLock()
	var due []core.ScheduledTransaction
	for _, sc := range s.schedules {
		if !sc.Enabled || sc.NextOccurrence.After(cutoff) || !after.Before(sc) {
			continue
		}
		due = append(due, cloneSchedule(sc))
	}
	s.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextOccurrence.Equal(due[j].NextOccurrence) {
			return due[i].NextOccurrence.Before(due[j].NextOccurrence)
		}
		return due[i].ID < due[j].ID
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func cloneTransaction(t core.Transaction) core.Transaction {
	t.Tags = slices.Clone(t.Tags)
	return t
}

func cloneSchedule(s core.ScheduledTransaction) core.ScheduledTransaction {
	s.Tags = slices.Clone(s.Tags)
	return s
}

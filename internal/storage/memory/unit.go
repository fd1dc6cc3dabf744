package memory

import (
	"context"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/lock"
)

type txWrite struct {
	t       core.Transaction
	deleted bool
}

// unit is the staging area of one RunInTx call.
type unit struct {
	store *Store
	locks *lock.Set

	accounts     map[string]core.Account
	assets       map[string]core.Asset
	transactions map[string]txWrite
	schedules    map[string]core.ScheduledTransaction

	newAccounts     map[string]struct{}
	newAssets       map[string]struct{}
	newTransactions map[string]struct{}
	newSchedules    map[string]struct{}
}

func newUnit(s *Store, set *lock.Set) *unit {
	return &unit{
		store:           s,
		locks:           set,
		accounts:        make(map[string]core.Account),
		assets:          make(map[string]core.Asset),
		transactions:    make(map[string]txWrite),
		schedules:       make(map[string]core.ScheduledTransaction),
		newAccounts:     make(map[string]struct{}),
		newAssets:       make(map[string]struct{}),
		newTransactions: make(map[string]struct{}),
		newSchedules:    make(map[string]struct{}),
	}
}

func (u *unit) Lock(ctx context.Context, keys ...string) error {
	return u.locks.Lock(ctx, keys...)
}

func (u *unit) GetAccount(ctx context.Context, id string) (core.Account, error) {
	if a, ok := u.accounts[id]; ok {
		return a, nil
	}
	return u.store.GetAccount(ctx, id)
}

func (u *unit) InsertAccount(ctx context.Context, a core.Account) error {
	if a.ID == "" {
		return core.Invalid("id", core.ErrEmptyID)
	}
	if _, err := u.GetAccount(ctx, a.ID); err == nil {
		return core.Invalid("id", core.ErrDuplicateID)
	}
	u.accounts[a.ID] = a
	u.newAccounts[a.ID] = struct{}{}
	return nil
}

func (u *unit) SetAccountBalance(ctx context.Context, id string, balance core.Money, at time.Time) error {
	a, err := u.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	a.Balance = balance
	a.UpdatedAt = at
	u.accounts[id] = a
	return nil
}

func (u *unit) GetAsset(ctx context.Context, id string) (core.Asset, error) {
	if a, ok := u.assets[id]; ok {
		return a, nil
	}
	return u.store.GetAsset(ctx, id)
}

func (u *unit) InsertAsset(ctx context.Context, a core.Asset) error {
	if a.ID == "" {
		return core.Invalid("id", core.ErrEmptyID)
	}
	if _, err := u.GetAsset(ctx, a.ID); err == nil {
		return core.Invalid("id", core.ErrDuplicateID)
	}
	u.assets[a.ID] = a
	u.newAssets[a.ID] = struct{}{}
	return nil
}

func (u *unit) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	if w, ok := u.transactions[id]; ok {
		if w.deleted {
			return core.Transaction{}, core.NotFound("transaction", id)
		}
		return cloneTransaction(w.t), nil
	}
	return u.store.GetTransaction(ctx, id)
}

func (u *unit) InsertTransaction(ctx context.Context, t core.Transaction) error {
	if t.ID == "" {
		return core.Invalid("id", core.ErrEmptyID)
	}
	if _, err := u.GetTransaction(ctx, t.ID); err == nil {
		return core.Invalid("id", core.ErrDuplicateID)
	}
	u.transactions[t.ID] = txWrite{t: cloneTransaction(t)}
	u.newTransactions[t.ID] = struct{}{}
	return nil
}

func (u *unit) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	if _, err := u.GetTransaction(ctx, t.ID); err != nil {
		return err
	}
	u.transactions[t.ID] = txWrite{t: cloneTransaction(t)}
	return nil
}

func (u *unit) DeleteTransaction(ctx context.Context, id string) error {
	if _, err := u.GetTransaction(ctx, id); err != nil {
		return err
	}
	if _, ok := u.newTransactions[id]; ok {
		delete(u.newTransactions, id)
		delete(u.transactions, id)
		return nil
	}
	u.transactions[id] = txWrite{deleted: true}
	return nil
}

func (u *unit) GetSchedule(ctx context.Context, id string) (core.ScheduledTransaction, error) {
	if sc, ok := u.schedules[id]; ok {
		return cloneSchedule(sc), nil
	}
	return u.store.GetSchedule(ctx, id)
}

func (u *unit) InsertSchedule(ctx context.Context, sc core.ScheduledTransaction) error {
	if sc.ID == "" {
		return core.Invalid("id", core.ErrEmptyID)
	}
	if _, err := u.GetSchedule(ctx, sc.ID); err == nil {
		return core.Invalid("id", core.ErrDuplicateID)
	}
	u.schedules[sc.ID] = cloneSchedule(sc)
	u.newSchedules[sc.ID] = struct{}{}
	return nil
}

func (u *unit) UpdateSchedule(ctx context.Context, sc core.ScheduledTransaction) error {
	if _, err := u.GetSchedule(ctx, sc.ID); err != nil {
		return err
	}
	u.schedules[sc.ID] = cloneSchedule(sc)
	return nil
}

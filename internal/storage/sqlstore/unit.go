package sqlstore

import (
	"context"
	"time"

	"bilancio/internal/core"
)

// unit adapts one *sql.Tx to storage.Tx.
type unit struct {
	q    queries
	lock func(ctx context.Context, c Conn, keys []string) error
}

func (u *unit) Lock(ctx context.Context, keys ...string) error {
	if u.lock == nil || len(keys) == 0 {
		return nil
	}
	if err := u.lock(ctx, u.q.c, keys); err != nil {
		return u.q.mapErr("lock", err)
	}
	return nil
}

func (u *unit) GetAccount(ctx context.Context, id string) (core.Account, error) {
	return u.q.getAccount(ctx, id)
}

func (u *unit) InsertAccount(ctx context.Context, a core.Account) error {
	return u.q.insertAccount(ctx, a)
}

func (u *unit) SetAccountBalance(ctx context.Context, id string, balance core.Money, at time.Time) error {
	return u.q.setAccountBalance(ctx, id, balance, at)
}

func (u *unit) GetAsset(ctx context.Context, id string) (core.Asset, error) {
	return u.q.getAsset(ctx, id)
}

func (u *unit) InsertAsset(ctx context.Context, a core.Asset) error {
	return u.q.insertAsset(ctx, a)
}

func (u *unit) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	return u.q.getTransaction(ctx, id)
}

func (u *unit) InsertTransaction(ctx context.Context, t core.Transaction) error {
	return u.q.insertTransaction(ctx, t)
}

func (u *unit) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	return u.q.updateTransaction(ctx, t)
}

func (u *unit) DeleteTransaction(ctx context.Context, id string) error {
	return u.q.deleteTransaction(ctx, id)
}

func (u *unit) GetSchedule(ctx context.Context, id string) (core.ScheduledTransaction, error) {
	return u.q.getSchedule(ctx, id)
}

func (u *unit) InsertSchedule(ctx context.Context, s core.ScheduledTransaction) error {
	return u.q.insertSchedule(ctx, s)
}

func (u *unit) UpdateSchedule(ctx context.Context, s core.ScheduledTransaction) error {
	return u.q.updateSchedule(ctx, s)
}

package sqlstore

import (
	"context"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/storage"
)

// Reader methods run outside any unit of work and see committed rows only.

func (s *Store) GetAccount(ctx context.Context, id string) (core.Account, error) {
	return s.q.getAccount(ctx, id)
}

func (s *Store) GetAccounts(ctx context.Context, ids []string) ([]core.Account, error) {
	return s.q.getAccounts(ctx, ids)
}

func (s *Store) GetAsset(ctx context.Context, id string) (core.Asset, error) {
	return s.q.getAsset(ctx, id)
}

func (s *Store) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	return s.q.getTransaction(ctx, id)
}

func (s *Store) GetSchedule(ctx context.Context, id string) (core.ScheduledTransaction, error) {
	return s.q.getSchedule(ctx, id)
}

func (s *Store) ListAccountTransactions(ctx context.Context, accountID string) ([]core.Transaction, error) {
	return s.q.listAccountTransactions(ctx, accountID)
}

func (s *Store) ListDueSchedules(ctx context.Context, cutoff time.Time, after storage.Cursor, limit int) ([]core.ScheduledTransaction, error) {
	return s.q.listDueSchedules(ctx, cutoff, after, limit)
}

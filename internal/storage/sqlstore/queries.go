package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/storage"
)

type queries struct {
	c      tracedConn
	mapErr func(op string, err error) error
}

func rowsOr404(entity, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.NotFound(entity, id)
	}
	return err
}

func mustAffect(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.NotFound(entity, id)
	}
	return nil
}

// updateArgs moves the leading id to the end to match "... WHERE id = ?".
func updateArgs(args []any) []any {
	return append(args[1:], args[0])
}

func (q queries) getAccount(ctx context.Context, id string) (core.Account, error) {
	a, err := ScanAccount(q.c.QueryRowContext(ctx,
		"SELECT "+AccountColumns+" FROM accounts WHERE id = ?", id))
	if err != nil {
		if err = rowsOr404("account", id, err); errors.Is(err, core.ErrNotFound) {
			return core.Account{}, err
		}
		return core.Account{}, q.mapErr("get account", err)
	}
	return a, nil
}

func (q queries) getAccounts(ctx context.Context, ids []string) ([]core.Account, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.c.QueryContext(ctx,
		"SELECT "+AccountColumns+" FROM accounts WHERE id IN ("+Placeholders(len(ids))+")", args...)
	if err != nil {
		return nil, q.mapErr("get accounts", err)
	}
	defer rows.Close()

	byID := make(map[string]core.Account, len(ids))
	for rows.Next() {
		a, err := ScanAccount(rows)
		if err != nil {
			return nil, q.mapErr("scan account", err)
		}
		byID[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, q.mapErr("get accounts", err)
	}

	out := make([]core.Account, 0, len(ids))
	for _, id := range ids {
		a, ok := byID[id]
		if !ok {
			return nil, core.NotFound("account", id)
		}
		out = append(out, a)
	}
	return out, nil
}

func (q queries) insertAccount(ctx context.Context, a core.Account) error {
	if a.ID == "" {
		return core.Invalid("id", core.ErrEmptyID)
	}
	_, err := q.c.ExecContext(ctx,
		"INSERT INTO accounts ("+AccountColumns+") VALUES ("+Placeholders(11)+")", AccountArgs(a)...)
	return q.mapErr("insert account", err)
}

func (q queries) setAccountBalance(ctx context.Context, id string, balance core.Money, at time.Time) error {
	res, err := q.c.ExecContext(ctx,
		"UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?", balance, FormatTime(at), id)
	if err != nil {
		return q.mapErr("set account balance", err)
	}
	return mustAffect(res, "account", id)
}

func (q queries) getAsset(ctx context.Context, id string) (core.Asset, error) {
	a, err := ScanAsset(q.c.QueryRowContext(ctx,
		"SELECT "+AssetColumns+" FROM assets WHERE id = ?", id))
	if err != nil {
		if err = rowsOr404("asset", id, err); errors.Is(err, core.ErrNotFound) {
			return core.Asset{}, err
		}
		return core.Asset{}, q.mapErr("get asset", err)
	}
	return a, nil
}

func (q queries) insertAsset(ctx context.Context, a core.Asset) error {
	if a.ID == "" {
		return core.Invalid("id", core.ErrEmptyID)
	}
	_, err := q.c.ExecContext(ctx,
		"INSERT INTO assets ("+AssetColumns+") VALUES ("+Placeholders(7)+")", AssetArgs(a)...)
	return q.mapErr("insert asset", err)
}

func (q queries) getTransaction(ctx context.Context, id string) (core.Transaction, error) {
	t, err := ScanTransaction(q.c.QueryRowContext(ctx,
		"SELECT "+TransactionColumns+" FROM transactions WHERE id = ?", id))
	if err != nil {
		if err = rowsOr404("transaction", id, err); errors.Is(err, core.ErrNotFound) {
			return core.Transaction{}, err
		}
		return core.Transaction{}, q.mapErr("get transaction", err)
	}
	return t, nil
}

func (q queries) insertTransaction(ctx context.Context, t core.Transaction) error {
	if t.ID == "" {
		return core.Invalid("id", core.ErrEmptyID)
	}
	args := TransactionArgs(t)
	_, err := q.c.ExecContext(ctx,
		"INSERT INTO transactions ("+TransactionColumns+") VALUES ("+Placeholders(len(args))+")", args...)
	return q.mapErr("insert transaction", err)
}

func (q queries) updateTransaction(ctx context.Context, t core.Transaction) error {
	res, err := q.c.ExecContext(ctx,
		"UPDATE transactions SET "+Assignments(TransactionColumns)+" WHERE id = ?",
		updateArgs(TransactionArgs(t))...)
	if err != nil {
		return q.mapErr("update transaction", err)
	}
	return mustAffect(res, "transaction", t.ID)
}

func (q queries) deleteTransaction(ctx context.Context, id string) error {
	res, err := q.c.ExecContext(ctx, "DELETE FROM transactions WHERE id = ?", id)
	if err != nil {
		return q.mapErr("delete transaction", err)
	}
	return mustAffect(res, "transaction", id)
}

func (q queries) listAccountTransactions(ctx context.Context, accountID string) ([]core.Transaction, error) {
	if _, err := q.getAccount(ctx, accountID); err != nil {
		return nil, err
	}
	rows, err := q.c.QueryContext(ctx,
		"SELECT "+TransactionColumns+" FROM transactions WHERE from_account_id = ? OR to_account_id = ? "+
			"ORDER BY transaction_date_unix, sort_order, id", accountID, accountID)
	if err != nil {
		return nil, q.mapErr("list account transactions", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := ScanTransaction(rows)
		if err != nil {
			return nil, q.mapErr("scan transaction", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, q.mapErr("list account transactions", err)
	}
	return out, nil
}

func (q queries) getSchedule(ctx context.Context, id string) (core.ScheduledTransaction, error) {
	s, err := ScanSchedule(q.c.QueryRowContext(ctx,
		"SELECT "+ScheduleColumns+" FROM scheduled_transactions WHERE id = ?", id))
	if err != nil {
		if err = rowsOr404("schedule", id, err); errors.Is(err, core.ErrNotFound) {
			return core.ScheduledTransaction{}, err
		}
		return core.ScheduledTransaction{}, q.mapErr("get schedule", err)
	}
	return s, nil
}

func (q queries) insertSchedule(ctx context.Context, s core.ScheduledTransaction) error {
	if s.ID == "" {
		return core.Invalid("id", core.ErrEmptyID)
	}
	args := ScheduleArgs(s)
	_, err := q.c.ExecContext(ctx,
		"INSERT INTO scheduled_transactions ("+ScheduleColumns+") VALUES ("+Placeholders(len(args))+")", args...)
	return q.mapErr("insert schedule", err)
}

func (q queries) updateSchedule(ctx context.Context, s core.ScheduledTransaction) error {
	res, err := q.c.ExecContext(ctx,
		"UPDATE scheduled_transactions SET "+Assignments(ScheduleColumns)+" WHERE id = ?",
		updateArgs(ScheduleArgs(s))...)
	if err != nil {
		return q.mapErr("update schedule", err)
	}
	return mustAffect(res, "schedule", s.ID)
}

func (q queries) listDueSchedules(ctx context.Context, cutoff time.Time, after storage.Cursor, limit int) ([]core.ScheduledTransaction, error) {
	if limit <= 0 {
		limit = storage.DefaultPageSize
	}
	query := "SELECT " + ScheduleColumns + " FROM scheduled_transactions " +
		"WHERE enabled = ? AND next_occurrence_unix <= ?"
	args := []any{true, cutoff.UnixNano()}
	if !after.IsZero() {
		query += " AND (next_occurrence_unix > ? OR (next_occurrence_unix = ? AND id > ?))"
		n := after.Next.UnixNano()
		args = append(args, n, n, after.ID)
	}
	query += " ORDER BY next_occurrence_unix, id LIMIT ?"
	args = append(args, limit)

	rows, err := q.c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, q.mapErr("list due schedules", err)
	}
	defer rows.Close()

	var out []core.ScheduledTransaction
	for rows.Next() {
		s, err := ScanSchedule(rows)
		if err != nil {
			return nil, q.mapErr("scan schedule", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, q.mapErr("list due schedules", err)
	}
	return out, nil
}

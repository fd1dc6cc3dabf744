package ledger

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/storage"
)

// effect returns the signed balance change tx makes per account. Pending and
// failed transactions have none; asset units never count.
func effect(tx *core.Transaction) map[string]core.Money {
	out := make(map[string]core.Money, 2)
	if tx == nil || !tx.Completed() {
		return out
	}
	if tx.FromAccountID != "" {
		out[tx.FromAccountID] = tx.Amount.Neg()
	}
	if tx.ToAccountID != "" {
		out[tx.ToAccountID] = out[tx.ToAccountID].Add(tx.Amount)
	}
	return out
}

// delta is effect(after) - effect(before), without zero entries.
func delta(before, after *core.Transaction) map[string]core.Money {
	d := effect(after)
	for id, m := range effect(before) {
		d[id] = d[id].Sub(m)
	}
	for id, m := range d {
		if m.IsZero() {
			delete(d, id)
		}
	}
	return d
}

// rebalance reverses before and applies after in one step. Either may be nil.
// The caller holds the account locks.
func rebalance(ctx context.Context, utx storage.Tx, before, after *core.Transaction, at time.Time) error {
	d := delta(before, after)
	for _, id := range slices.Sorted(maps.Keys(d)) {
		acc, err := utx.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		if err := utx.SetAccountBalance(ctx, id, acc.Balance.Add(d[id]), at); err != nil {
			return fmt.Errorf("set balance of %s: %w", id, err)
		}
	}
	return nil
}

package ledger

import (
	"context"
	"fmt"

	"bilancio/internal/core"
	"bilancio/internal/log"
	"bilancio/internal/metrics"
)

const verifyAttempts = 3

// Reconciliation compares an account's stored balance with the one its
// history implies.
type Reconciliation struct {
	AccountID    string     `json:"accountId"`
	Stored       core.Money `json:"stored"`
	Expected     core.Money `json:"expected"`
	Drift        core.Money `json:"drift"`
	Transactions int        `json:"transactions"`
}

// Consistent reports whether the stored balance matches history.
func (r Reconciliation) Consistent() bool { return r.Drift.IsZero() }

// Verify recomputes startBalance + incoming - outgoing over every completed
// transaction of the account. The account is read before and after the
// history; if a write landed in between the read is repeated.
func (l *Ledger) Verify(ctx context.Context, accountID string) (Reconciliation, error) {
	for range verifyAttempts {
		before, err := l.store.GetAccount(ctx, accountID)
		if err != nil {
			return Reconciliation{}, fmt.Errorf("verify %s: %w", accountID, err)
		}
		history, err := l.store.ListAccountTransactions(ctx, accountID)
		if err != nil {
			return Reconciliation{}, fmt.Errorf("verify %s: list transactions: %w", accountID, err)
		}
		after, err := l.store.GetAccount(ctx, accountID)
		if err != nil {
			return Reconciliation{}, fmt.Errorf("verify %s: %w", accountID, err)
		}
		if !after.Balance.Equal(before.Balance) || !after.UpdatedAt.Equal(before.UpdatedAt) {
			continue
		}

		r := reconcile(after, history)
		if !r.Consistent() {
			metrics.BalanceDrift.Inc()
			l.logger.WarnContext(ctx, "Balance drift detected",
				log.FieldAccountID, accountID,
				log.FieldBalance, r.Stored.String(),
				"expected", r.Expected.String(),
				"drift", r.Drift.String())
		}
		return r, nil
	}
	return Reconciliation{}, core.Conflict(log.OpVerify, fmt.Errorf("account %s kept changing during verification", accountID))
}

func reconcile(acc core.Account, history []core.Transaction) Reconciliation {
	expected := acc.StartBalance
	for i := range history {
		expected = expected.Add(effect(&history[i])[acc.ID])
	}
	return Reconciliation{
		AccountID:    acc.ID,
		Stored:       acc.Balance,
		Expected:     expected,
		Drift:        acc.Balance.Sub(expected),
		Transactions: len(history),
	}
}

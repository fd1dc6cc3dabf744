package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"bilancio/internal/amqp"
	"bilancio/internal/core"
	"bilancio/internal/ledger"
	"bilancio/internal/log"
)

// Verifier recomputes an account balance from history.
type Verifier interface {
	Verify(ctx context.Context, accountID string) (ledger.Reconciliation, error)
}

// AuditWorker checks the accounts named by each ledger event against their
// history. Drift is logged and counted; it never blocks the queue.
type AuditWorker struct {
	verifier Verifier
	logger   *log.Logger

	checked atomic.Int64
	drifted atomic.Int64
}

func NewAuditWorker(verifier Verifier, logger *log.Logger) *AuditWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &AuditWorker{
		verifier: verifier,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// HandleEvent verifies every account of ev. An error means the event should
// be redelivered.
func (w *AuditWorker) HandleEvent(ctx context.Context, ev *amqp.LedgerEvent) error {
	w.logger.DebugContext(ctx, "Processing ledger event",
		log.FieldEvent, ev.Type,
		log.FieldTransactionID, ev.TransactionID,
		log.FieldScheduleID, ev.ScheduleID)

	var errs []error
	for _, id := range ev.AccountIDs {
		if _, err := w.VerifyAccount(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// VerifyAccount audits one account. Accounts removed since the event was
// published are skipped.
func (w *AuditWorker) VerifyAccount(ctx context.Context, id string) (ledger.Reconciliation, error) {
	r, err := w.verifier.Verify(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		w.logger.WarnContext(ctx, "Skipping audit of unknown account", log.FieldAccountID, id)
		return ledger.Reconciliation{}, nil
	}
	if err != nil {
		return ledger.Reconciliation{}, fmt.Errorf("verify account %s: %w", id, err)
	}

	w.checked.Add(1)
	if !r.Consistent() {
		w.drifted.Add(1)
		w.logger.ErrorContext(ctx, "Account balance does not match its history",
			log.FieldAccountID, id,
			log.FieldBalance, r.Stored.String(),
			"expected", r.Expected.String(),
			"drift", r.Drift.String())
	}
	return r, nil
}

// VerifyAccounts audits ids one by one and keeps going past failures.
func (w *AuditWorker) VerifyAccounts(ctx context.Context, ids []string) ([]ledger.Reconciliation, error) {
	out := make([]ledger.Reconciliation, 0, len(ids))
	var errs []error
	for _, id := range ids {
		r, err := w.VerifyAccount(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if r.AccountID != "" {
			out = append(out, r)
		}
	}
	return out, errors.Join(errs...)
}

// Stats returns how many accounts were checked and how many drifted.
func (w *AuditWorker) Stats() (checked, drifted int64) {
	return w.checked.Load(), w.drifted.Load()
}

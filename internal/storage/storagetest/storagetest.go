// Package storagetest holds behavior checks every storage.Store must pass.
// Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bilancio/internal/core"
	"bilancio/internal/storage"
)

// Opener returns a fresh, empty store. Cleanup is the opener's job.
type Opener func(t *testing.T) storage.Store

var (
	cet  = time.FixedZone("CET", 3600)
	base = time.Date(2024, 1, 31, 9, 0, 0, 0, cet)
)

// Run executes the suite against stores produced by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"AccountRoundTrip", testAccountRoundTrip},
		{"DuplicateInsertRejected", testDuplicateInsert},
		{"RollbackOnError", testRollbackOnError},
		{"ReadYourWrites", testReadYourWrites},
		{"TransactionLifecycle", testTransactionLifecycle},
		{"AssetTransferRoundTrip", testAssetTransfer},
		{"AccountTransactionsOrdered", testAccountTransactionsOrdered},
		{"DueSchedulesPaged", testDueSchedulesPaged},
		{"NotFound", testNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

// SeedAccount inserts an account whose balance equals its start balance.
func SeedAccount(t *testing.T, s storage.Store, id, start string) core.Account {
	t.Helper()
	a := core.Account{
		ID:           id,
		Name:         "Account " + id,
		Currency:     "EUR",
		StartBalance: core.MustMoney(start),
		Balance:      core.MustMoney(start),
		CreatedAt:    base,
		UpdatedAt:    base,
	}
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertAccount(ctx, a)
	})
	if err != nil {
		t.Fatalf("seed account %s: %v", id, err)
	}
	return a
}

func expense(id, from, amount string, date time.Time) core.Transaction {
	return core.Transaction{
		ID: id,
		Movement: core.Movement{
			Type:          core.Expense,
			FromAccountID: from,
			Amount:        core.MustMoney(amount),
			Payee:         "Grocer",
			Tags:          []string{"food", "weekly"},
		},
		Status:          core.StatusCompleted,
		TransactionDate: date,
		Version:         1,
		CreatedAt:       date,
		UpdatedAt:       date,
	}
}

func schedule(id, account string, next time.Time, enabled bool) core.ScheduledTransaction {
	return core.ScheduledTransaction{
		ID: id,
		Movement: core.Movement{
			Type:          core.Expense,
			FromAccountID: account,
			Amount:        core.MustMoney("10.00"),
		},
		Pattern:        core.Monthly,
		Value:          1,
		NextOccurrence: next,
		Enabled:        enabled,
		Version:        1,
		CreatedAt:      base,
		UpdatedAt:      base,
	}
}

func insert(t *testing.T, s storage.Store, fn func(ctx context.Context, tx storage.Tx) error) {
	t.Helper()
	if err := s.RunInTx(context.Background(), fn); err != nil {
		t.Fatal(err)
	}
}

func testAccountRoundTrip(t *testing.T, s storage.Store) {
	ctx := context.Background()
	want := SeedAccount(t, s, "acc-1", "100.50")

	got, err := s.GetAccount(ctx, "acc-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != want.Name || got.Currency != "EUR" || !got.Balance.Equal(want.Balance) || !got.StartBalance.Equal(want.StartBalance) {
		t.Fatalf("GetAccount() = %+v, want %+v", got, want)
	}

	insert(t, s, func(ctx context.Context, tx storage.Tx) error {
		return tx.SetAccountBalance(ctx, "acc-1", core.MustMoney("-3.25"), base.Add(time.Hour))
	})
	got, _ = s.GetAccount(ctx, "acc-1")
	if !got.Balance.Equal(core.MustMoney("-3.25")) {
		t.Fatalf("balance = %s, want -3.25", got.Balance)
	}

	SeedAccount(t, s, "acc-2", "0")
	both, err := s.GetAccounts(ctx, []string{"acc-2", "acc-1"})
	if err != nil || len(both) != 2 || both[0].ID != "acc-2" || both[1].ID != "acc-1" {
		t.Fatalf("GetAccounts() = %v, %v", both, err)
	}
}

func testDuplicateInsert(t *testing.T, s storage.Store) {
	SeedAccount(t, s, "dup", "0")
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertAccount(ctx, core.Account{ID: "dup", Name: "again", Currency: "EUR"})
	})
	if !errors.Is(err, core.ErrValidation) || !errors.Is(err, core.ErrDuplicateID) {
		t.Fatalf("duplicate insert error = %v", err)
	}
}

func testRollbackOnError(t *testing.T, s storage.Store) {
	ctx := context.Background()
	SeedAccount(t, s, "acc-r", "50")
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.SetAccountBalance(ctx, "acc-r", core.MustMoney("0"), base); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, expense("tx-r", "acc-r", "50", base)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx() error = %v, want boom", err)
	}

	a, _ := s.GetAccount(ctx, "acc-r")
	if !a.Balance.Equal(core.MustMoney("50")) {
		t.Errorf("balance after rollback = %s, want 50", a.Balance)
	}
	if _, err := s.GetTransaction(ctx, "tx-r"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("transaction survived rollback: %v", err)
	}
}

func testReadYourWrites(t *testing.T, s storage.Store) {
	SeedAccount(t, s, "acc-w", "1")
	insert(t, s, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.SetAccountBalance(ctx, "acc-w", core.MustMoney("2"), base); err != nil {
			return err
		}
		a, err := tx.GetAccount(ctx, "acc-w")
		if err != nil {
			return err
		}
		if !a.Balance.Equal(core.MustMoney("2")) {
			return fmt.Errorf("staged balance not visible: %s", a.Balance)
		}

		if err := tx.InsertTransaction(ctx, expense("tx-w", "acc-w", "1", base)); err != nil {
			return err
		}
		if _, err := tx.GetTransaction(ctx, "tx-w"); err != nil {
			return fmt.Errorf("staged insert not visible: %w", err)
		}
		if err := tx.DeleteTransaction(ctx, "tx-w"); err != nil {
			return err
		}
		if _, err := tx.GetTransaction(ctx, "tx-w"); !errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("staged delete not visible: %v", err)
		}
		return nil
	})
}

func testTransactionLifecycle(t *testing.T, s storage.Store) {
	ctx := context.Background()
	SeedAccount(t, s, "acc-t", "0")
	want := expense("tx-1", "acc-t", "12.34", base)
	want.Memo = "weekly shop"
	want.Number = "CHK-1"
	want.SortOrder = 3

	insert(t, s, func(ctx context.Context, tx storage.Tx) error { return tx.InsertTransaction(ctx, want) })

	got, err := s.GetTransaction(ctx, "tx-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != core.Expense || got.FromAccountID != "acc-t" || got.ToAccountID != "" ||
		!got.Amount.Equal(want.Amount) || got.Memo != want.Memo || got.Number != want.Number ||
		got.SortOrder != 3 || got.Status != core.StatusCompleted || got.Version != 1 {
		t.Fatalf("GetTransaction() = %+v", got)
	}
	if !slices.Equal(got.Tags, want.Tags) {
		t.Errorf("tags = %v, want %v", got.Tags, want.Tags)
	}
	if !got.TransactionDate.Equal(base) {
		t.Errorf("date = %s, want %s", got.TransactionDate, base)
	}
	if _, off := got.TransactionDate.Zone(); off != 3600 {
		t.Errorf("offset lost: %s", got.TransactionDate)
	}

	got.Status = core.StatusFailed
	got.Amount = core.MustMoney("1")
	got.Version = 2
	insert(t, s, func(ctx context.Context, tx storage.Tx) error { return tx.UpdateTransaction(ctx, got) })
	again, _ := s.GetTransaction(ctx, "tx-1")
	if again.Status != core.StatusFailed || !again.Amount.Equal(core.MustMoney("1")) || again.Version != 2 {
		t.Fatalf("update not persisted: %+v", again)
	}

	insert(t, s, func(ctx context.Context, tx storage.Tx) error { return tx.DeleteTransaction(ctx, "tx-1") })
	if _, err := s.GetTransaction(ctx, "tx-1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("deleted transaction still readable: %v", err)
	}
}

func testAssetTransfer(t *testing.T, s storage.Store) {
	ctx := context.Background()
	SeedAccount(t, s, "cash", "1000")
	SeedAccount(t, s, "broker", "0")
	asset := core.Asset{ID: "vwce", Symbol: "VWCE", Name: "FTSE All-World", Type: core.AssetETF,
		CurrentPrice: core.MustMoney("110.42"), Currency: "EUR", LastUpdate: base}
	insert(t, s, func(ctx context.Context, tx storage.Tx) error { return tx.InsertAsset(ctx, asset) })

	gotAsset, err := s.GetAsset(ctx, "vwce")
	if err != nil || gotAsset.Type != core.AssetETF || !gotAsset.CurrentPrice.Equal(asset.CurrentPrice) {
		t.Fatalf("GetAsset() = %+v, %v", gotAsset, err)
	}

	tr := core.Transaction{
		ID: "buy-1",
		Movement: core.Movement{
			Type:          core.Transfer,
			FromAccountID: "cash",
			ToAccountID:   "broker",
			Amount:        core.MustMoney("220.84"),
			AssetID:       "vwce",
			Units:         decimal.RequireFromString("2.000125"),
		},
		Status:          core.StatusPending,
		TransactionDate: base,
		Version:         1,
	}
	insert(t, s, func(ctx context.Context, tx storage.Tx) error { return tx.InsertTransaction(ctx, tr) })

	got, err := s.GetTransaction(ctx, "buy-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.AssetID != "vwce" || !got.Units.Equal(tr.Units) || got.Status != core.StatusPending {
		t.Fatalf("asset transfer = %+v", got)
	}
}

func testAccountTransactionsOrdered(t *testing.T, s storage.Store) {
	ctx := context.Background()
	SeedAccount(t, s, "a", "0")
	SeedAccount(t, s, "b", "0")

	later := expense("t-late", "a", "1", base.Add(48*time.Hour))
	first := expense("t-first", "a", "1", base)
	second := expense("t-second", "a", "1", base)
	second.SortOrder = 1
	income := core.Transaction{
		ID:              "t-in",
		Movement:        core.Movement{Type: core.Transfer, FromAccountID: "b", ToAccountID: "a", Amount: core.MustMoney("5")},
		Status:          core.StatusCompleted,
		TransactionDate: base.Add(24 * time.Hour),
		Version:         1,
	}
	other := expense("t-other", "b", "1", base)

	insert(t, s, func(ctx context.Context, tx storage.Tx) error {
		for _, tr := range []core.Transaction{later, second, income, first, other} {
			if err := tx.InsertTransaction(ctx, tr); err != nil {
				return err
			}
		}
		return nil
	})

	got, err := s.ListAccountTransactions(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, tr := range got {
		ids = append(ids, tr.ID)
	}
	want := []string{"t-first", "t-second", "t-in", "t-late"}
	if !slices.Equal(ids, want) {
		t.Fatalf("ListAccountTransactions() = %v, want %v", ids, want)
	}
}

func testDueSchedulesPaged(t *testing.T, s storage.Store) {
	ctx := context.Background()
	SeedAccount(t, s, "acc-s", "0")

	insert(t, s, func(ctx context.Context, tx storage.Tx) error {
		for _, sc := range []core.ScheduledTransaction{
			schedule("s-3", "acc-s", base.Add(2*time.Hour), true),
			schedule("s-1", "acc-s", base, true),
			schedule("s-2", "acc-s", base, true),
			schedule("s-off", "acc-s", base, false),
			schedule("s-future", "acc-s", base.Add(30*24*time.Hour), true),
		} {
			if err := tx.InsertSchedule(ctx, sc); err != nil {
				return err
			}
		}
		return nil
	})

	cutoff := base.Add(24 * time.Hour)
	var ids []string
	var cur storage.Cursor
	for page := 0; page < 10; page++ {
		batch, err := s.ListDueSchedules(ctx, cutoff, cur, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(batch) == 0 {
			break
		}
		for _, sc := range batch {
			ids = append(ids, sc.ID)
		}
		cur = storage.CursorOf(batch[len(batch)-1])
	}
	want := []string{"s-1", "s-2", "s-3"}
	if !slices.Equal(ids, want) {
		t.Fatalf("due schedules = %v, want %v", ids, want)
	}

	sc, err := s.GetSchedule(ctx, "s-1")
	if err != nil {
		t.Fatal(err)
	}
	sc.NextOccurrence = base.AddDate(0, 1, 0)
	sc.Enabled = false
	sc.Version = 2
	insert(t, s, func(ctx context.Context, tx storage.Tx) error { return tx.UpdateSchedule(ctx, sc) })
	got, _ := s.GetSchedule(ctx, "s-1")
	if got.Enabled || got.Version != 2 || !got.NextOccurrence.Equal(sc.NextOccurrence) || got.Pattern != core.Monthly {
		t.Fatalf("schedule update not persisted: %+v", got)
	}
}

func testNotFound(t *testing.T, s storage.Store) {
	ctx := context.Background()
	checks := map[string]error{}
	_, checks["account"] = s.GetAccount(ctx, "nope")
	_, checks["asset"] = s.GetAsset(ctx, "nope")
	_, checks["transaction"] = s.GetTransaction(ctx, "nope")
	_, checks["schedule"] = s.GetSchedule(ctx, "nope")
	_, checks["accounts"] = s.GetAccounts(ctx, []string{"nope"})
	checks["delete"] = s.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.DeleteTransaction(ctx, "nope")
	})
	checks["balance"] = s.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.SetAccountBalance(ctx, "nope", core.MustMoney("1"), base)
	})

	for name, err := range checks {
		var nf *core.NotFoundError
		if !errors.As(err, &nf) {
			t.Errorf("%s: error = %v, want NotFoundError", name, err)
		}
	}
}

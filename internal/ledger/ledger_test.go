package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bilancio/internal/amqp"
	"bilancio/internal/cache"
	"bilancio/internal/clock"
	"bilancio/internal/core"
	"bilancio/internal/storage"
	"bilancio/internal/storage/memory"
	"bilancio/internal/storage/storagetest"
)

var day = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []amqp.LedgerEvent
	err    error
}

func (p *recordingPublisher) PublishLedgerEvent(_ context.Context, ev amqp.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func newLedger(t *testing.T, opts ...Option) (*Ledger, *memory.Store) {
	t.Helper()
	store := memory.New(memory.WithLockTimeout(200 * time.Millisecond))
	t.Cleanup(func() { store.Close() })
	opts = append([]Option{WithClock(clock.NewManual(day))}, opts...)
	return New(store, opts...), store
}

func movement(typ core.TransactionType, from, to, amount string) core.Movement {
	return core.Movement{Type: typ, FromAccountID: from, ToAccountID: to, Amount: core.MustMoney(amount)}
}

func completed(m core.Movement) core.Transaction {
	return core.Transaction{Movement: m, Status: core.StatusCompleted, TransactionDate: day}
}

func assertBalance(t *testing.T, l *Ledger, id, want string) {
	t.Helper()
	got, err := l.BalanceOf(context.Background(), id)
	if err != nil {
		t.Fatalf("BalanceOf(%s) error = %v", id, err)
	}
	if !got.Equal(core.MustMoney(want)) {
		t.Errorf("balance of %s = %s, want %s", id, got, want)
	}
}

func TestTransferMovesMoneyBetweenAccounts(t *testing.T) {
	l, store := newLedger(t)
	storagetest.SeedAccount(t, store, "checking", "5000.00")
	storagetest.SeedAccount(t, store, "savings", "0")

	tx, err := l.Create(context.Background(), completed(movement(core.Transfer, "checking", "savings", "500.00")))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if tx.ID == "" || tx.Version != 1 {
		t.Errorf("created = %+v, want generated id and version 1", tx)
	}

	assertBalance(t, l, "checking", "4500.00")
	assertBalance(t, l, "savings", "500.00")
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		from core.TransactionStatus
		to   core.TransactionStatus
		want string
	}{
		{"pending to completed applies", core.StatusPending, core.StatusCompleted, "70"},
		{"completed to failed reverses", core.StatusCompleted, core.StatusFailed, "100"},
		{"completed to pending reverses", core.StatusCompleted, core.StatusPending, "100"},
		{"failed to pending has no effect", core.StatusFailed, core.StatusPending, "100"},
		{"completed stays completed", core.StatusCompleted, core.StatusCompleted, "70"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, store := newLedger(t)
			storagetest.SeedAccount(t, store, "acc", "100")
			ctx := context.Background()

			tx := completed(movement(core.Expense, "acc", "", "30"))
			tx.Status = tt.from
			created, err := l.Create(ctx, tx)
			if err != nil {
				t.Fatal(err)
			}

			created.Status = tt.to
			if _, err := l.Update(ctx, created.ID, created); err != nil {
				t.Fatalf("Update() error = %v", err)
			}
			assertBalance(t, l, "acc", tt.want)
		})
	}
}

func TestUpdateMovesEffectBetweenAccounts(t *testing.T) {
	l, store := newLedger(t)
	storagetest.SeedAccount(t, store, "a", "100")
	storagetest.SeedAccount(t, store, "b", "100")
	ctx := context.Background()

	created, err := l.Create(ctx, completed(movement(core.Expense, "a", "", "40")))
	if err != nil {
		t.Fatal(err)
	}
	assertBalance(t, l, "a", "60")

	created.Movement = movement(core.Income, "", "b", "15")
	updated, err := l.Update(ctx, created.ID, created)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Version != 2 || !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("updated = %+v", updated)
	}
	assertBalance(t, l, "a", "100")
	assertBalance(t, l, "b", "115")
}

func TestDeleteThenRecreateIsIdempotent(t *testing.T) {
	l, store := newLedger(t)
	storagetest.SeedAccount(t, store, "a", "10")
	storagetest.SeedAccount(t, store, "b", "10")
	ctx := context.Background()

	tx := completed(movement(core.Transfer, "a", "b", "7.50"))
	tx.ID = "tx-1"
	if _, err := l.Create(ctx, tx); err != nil {
		t.Fatal(err)
	}
	if err := l.Delete(ctx, "tx-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	assertBalance(t, l, "a", "10")
	assertBalance(t, l, "b", "10")

	if _, err := l.Create(ctx, tx); err != nil {
		t.Fatalf("recreate error = %v", err)
	}
	assertBalance(t, l, "a", "2.50")
	assertBalance(t, l, "b", "17.50")

	if err := l.Delete(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Delete(missing) error = %v, want not found", err)
	}
}

func TestCreateRejects(t *testing.T) {
	l, store := newLedger(t)
	storagetest.SeedAccount(t, store, "a", "10")
	ctx := context.Background()

	units := func(tx core.Transaction, asset string) core.Transaction {
		tx.AssetID = asset
		tx.Units = decimal.RequireFromString("1.5")
		return tx
	}

	tests := []struct {
		name string
		tx   core.Transaction
		want error
	}{
		{"same account transfer", completed(movement(core.Transfer, "a", "a", "1")), core.ErrValidation},
		{"zero amount", completed(movement(core.Expense, "a", "", "0")), core.ErrValidation},
		{"expense with destination", completed(movement(core.Expense, "a", "b", "1")), core.ErrValidation},
		{"unknown account", completed(movement(core.Income, "", "ghost", "1")), core.ErrNotFound},
		{"unknown asset", units(completed(movement(core.Transfer, "a", "a2", "1")), "ACME"), core.ErrNotFound},
		{"asset on expense", units(completed(movement(core.Expense, "a", "", "1")), "ACME"), core.ErrValidation},
	}
	storagetest.SeedAccount(t, store, "a2", "0")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Create(ctx, tt.tx)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Create() error = %v, want %v", err, tt.want)
			}
		})
	}
	assertBalance(t, l, "a", "10")
}

func TestAssetTransferCountsAmountOnly(t *testing.T) {
	l, store := newLedger(t)
	storagetest.SeedAccount(t, store, "cash", "1000")
	storagetest.SeedAccount(t, store, "broker", "0")
	ctx := context.Background()

	asset, err := l.RegisterAsset(ctx, core.Asset{Symbol: "VWCE", Type: core.AssetETF, Currency: "EUR", CurrentPrice: core.MustMoney("110")})
	if err != nil {
		t.Fatal(err)
	}

	tx := completed(movement(core.Transfer, "cash", "broker", "220"))
	tx.AssetID = asset.ID
	tx.Units = decimal.RequireFromString("2")
	created, err := l.Create(ctx, tx)
	if err != nil {
		t.Fatal(err)
	}
	if !created.Units.Equal(decimal.RequireFromString("2")) {
		t.Errorf("units = %s", created.Units)
	}
	assertBalance(t, l, "cash", "780")
	assertBalance(t, l, "broker", "220")
}

func TestUpdateStaleVersionConflicts(t *testing.T) {
	l, store := newLedger(t)
	storagetest.SeedAccount(t, store, "a", "10")
	ctx := context.Background()

	created, err := l.Create(ctx, completed(movement(core.Expense, "a", "", "1")))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Update(ctx, created.ID, created); err != nil {
		t.Fatal(err)
	}

	_, err = l.Update(ctx, created.ID, created) // still at version 1
	var conflict *core.ConflictError
	if !errors.As(err, &conflict) || !core.IsRetryable(err) {
		t.Fatalf("Update() error = %v, want conflict", err)
	}
	assertBalance(t, l, "a", "9")
}

// Concurrent update and delete of one transaction leave the account
// consistent whatever the interleaving.
func TestConcurrentUpdateAndDelete(t *testing.T) {
	for i := range 30 {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			l, store := newLedger(t)
			storagetest.SeedAccount(t, store, "a", "100")
			ctx := context.Background()

			created, err := l.Create(ctx, completed(movement(core.Expense, "a", "", "10")))
			if err != nil {
				t.Fatal(err)
			}

			var wg sync.WaitGroup
			var updateErr, deleteErr error
			start := make(chan struct{})
			wg.Add(2)
			go func() {
				defer wg.Done()
				<-start
				upd := created
				upd.Amount = core.MustMoney("25")
				_, updateErr = l.Update(ctx, created.ID, upd)
			}()
			go func() {
				defer wg.Done()
				<-start
				deleteErr = l.Delete(ctx, created.ID)
			}()
			close(start)
			wg.Wait()

			if updateErr != nil && deleteErr != nil {
				t.Fatalf("both failed: update=%v delete=%v", updateErr, deleteErr)
			}
			for _, err := range []error{updateErr, deleteErr} {
				if err != nil && !errors.Is(err, core.ErrConflict) && !errors.Is(err, core.ErrNotFound) {
					t.Fatalf("unexpected error %v", err)
				}
			}

			r, err := l.Verify(ctx, "a")
			if err != nil {
				t.Fatal(err)
			}
			if !r.Consistent() {
				t.Fatalf("drift after race: %+v", r)
			}
		})
	}
}

func TestBalanceInvariantUnderRandomOperations(t *testing.T) {
	l, store := newLedger(t)
	accounts := []string{"a", "b", "c", "d"}
	for _, id := range accounts {
		storagetest.SeedAccount(t, store, id, "1000")
	}
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 11))
	statuses := []core.TransactionStatus{core.StatusCompleted, core.StatusCompleted, core.StatusPending, core.StatusFailed}

	randomTx := func() core.Transaction {
		from := accounts[rng.IntN(len(accounts))]
		to := accounts[rng.IntN(len(accounts))]
		amount := core.MoneyFromCents(int64(rng.IntN(50000) + 1))
		var m core.Movement
		switch rng.IntN(3) {
		case 0:
			m = core.Movement{Type: core.Expense, FromAccountID: from, Amount: amount}
		case 1:
			m = core.Movement{Type: core.Income, ToAccountID: to, Amount: amount}
		default:
			if from == to {
				m = core.Movement{Type: core.Expense, FromAccountID: from, Amount: amount}
			} else {
				m = core.Movement{Type: core.Transfer, FromAccountID: from, ToAccountID: to, Amount: amount}
			}
		}
		return core.Transaction{Movement: m, Status: statuses[rng.IntN(len(statuses))], TransactionDate: day}
	}

	var live []string
	for range 300 {
		switch op := rng.IntN(10); {
		case op < 5 || len(live) == 0:
			tx, err := l.Create(ctx, randomTx())
			if err != nil {
				t.Fatal(err)
			}
			live = append(live, tx.ID)
		case op < 8:
			id := live[rng.IntN(len(live))]
			if _, err := l.Update(ctx, id, randomTx()); err != nil {
				t.Fatal(err)
			}
		default:
			i := rng.IntN(len(live))
			if err := l.Delete(ctx, live[i]); err != nil {
				t.Fatal(err)
			}
			live = append(live[:i], live[i+1:]...)
		}
	}

	for _, id := range accounts {
		r, err := l.Verify(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if !r.Consistent() {
			t.Errorf("account %s drifted: %+v", id, r)
		}
	}
}

func TestVerifyReportsDrift(t *testing.T) {
	l, store := newLedger(t)
	storagetest.SeedAccount(t, store, "a", "50")
	ctx := context.Background()

	if _, err := l.Create(ctx, completed(movement(core.Expense, "a", "", "5"))); err != nil {
		t.Fatal(err)
	}
	// Corrupt the stored balance behind the ledger's back.
	err := store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.SetAccountBalance(ctx, "a", core.MustMoney("44"), day.Add(time.Minute))
	})
	if err != nil {
		t.Fatal(err)
	}

	r, err := l.Verify(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if r.Consistent() || !r.Expected.Equal(core.MustMoney("45")) || !r.Drift.Equal(core.MustMoney("-1")) {
		t.Fatalf("reconciliation = %+v", r)
	}
	if r.Transactions != 1 {
		t.Errorf("transactions = %d", r.Transactions)
	}
}

func TestBalanceCacheInvalidatedOnCommit(t *testing.T) {
	balances := cache.NewLRUCache[core.Money](10, time.Hour)
	l, store := newLedger(t, WithBalanceCache(balances))
	storagetest.SeedAccount(t, store, "a", "20")
	ctx := context.Background()

	assertBalance(t, l, "a", "20")
	if balances.Size() != 1 {
		t.Fatalf("cache size = %d, want 1", balances.Size())
	}

	if _, err := l.Create(ctx, completed(movement(core.Expense, "a", "", "5"))); err != nil {
		t.Fatal(err)
	}
	if _, ok := balances.Get("a"); ok {
		t.Fatal("cached balance survived a commit")
	}
	assertBalance(t, l, "a", "15")
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	pub := &recordingPublisher{}
	l, store := newLedger(t, WithPublisher(pub))
	storagetest.SeedAccount(t, store, "a", "20")
	storagetest.SeedAccount(t, store, "b", "0")
	ctx := context.Background()

	created, err := l.Create(ctx, completed(movement(core.Transfer, "a", "b", "5")))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Delete(ctx, created.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Create(ctx, completed(movement(core.Transfer, "a", "a", "5"))); err == nil {
		t.Fatal("expected validation error")
	}

	if len(pub.events) != 2 {
		t.Fatalf("published %d events, want 2", len(pub.events))
	}
	if pub.events[0].Type != amqp.EventTransactionCreated || pub.events[1].Type != amqp.EventTransactionDeleted {
		t.Errorf("event types = %s, %s", pub.events[0].Type, pub.events[1].Type)
	}
	if len(pub.events[0].AccountIDs) != 2 {
		t.Errorf("accounts = %v", pub.events[0].AccountIDs)
	}
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	l, store := newLedger(t, WithPublisher(pub))
	storagetest.SeedAccount(t, store, "a", "20")

	if _, err := l.Create(context.Background(), completed(movement(core.Expense, "a", "", "5"))); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	assertBalance(t, l, "a", "15")
}

func TestRollbackLeavesBalanceUntouched(t *testing.T) {
	l, store := newLedger(t)
	storagetest.SeedAccount(t, store, "a", "20")
	ctx := context.Background()

	tx := completed(movement(core.Expense, "a", "", "5"))
	tx.ID = "dup"
	if _, err := l.Create(ctx, tx); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Create(ctx, tx); !errors.Is(err, core.ErrDuplicateID) {
		t.Fatalf("duplicate Create() error = %v", err)
	}
	assertBalance(t, l, "a", "15")
}

func TestSummaryAndOpenAccount(t *testing.T) {
	l, _ := newLedger(t, WithIDGenerator(func() string { return "fixed" }))
	ctx := context.Background()

	a, err := l.OpenAccount(ctx, core.Account{Name: "Wallet", Currency: "EUR", StartBalance: core.MustMoney("12.30")})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != "fixed" || !a.Balance.Equal(a.StartBalance) {
		t.Fatalf("opened = %+v", a)
	}
	if _, err := l.OpenAccount(ctx, core.Account{Name: "Bad", Currency: "euro"}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("invalid currency error = %v", err)
	}

	s, err := l.Summary(ctx, []string{"fixed"})
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Totals) != 1 || !s.Totals[0].Total.Equal(core.MustMoney("12.30")) {
		t.Fatalf("summary = %+v", s)
	}
	if _, err := l.Summary(ctx, []string{"ghost"}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("Summary(ghost) error = %v", err)
	}
}

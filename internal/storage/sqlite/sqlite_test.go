package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"bilancio/internal/core"
	"bilancio/internal/storage"
	"bilancio/internal/storage/storagetest"
)

func openTemp(t *testing.T) storage.Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "ledger.db")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreBehavior(t *testing.T) {
	storagetest.Run(t, openTemp)
}

func TestDSN(t *testing.T) {
	dsn := Config{Path: "/tmp/x.db"}.DSN()
	for _, want := range []string{"file:/tmp/x.db?", "busy_timeout%285000%29", "journal_mode%28WAL%29", "foreign_keys%281%29", "_txlock=immediate"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN %q missing %q", dsn, want)
		}
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	s, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	storagetest.SeedAccount(t, s, "acc", "42.10")
	s.Close()

	s, err = Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	a, err := s.GetAccount(ctx, "acc")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Balance.Equal(core.MustMoney("42.10")) {
		t.Fatalf("balance = %s", a.Balance)
	}
}

func TestForeignKeysEnforced(t *testing.T) {
	s := openTemp(t)
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertTransaction(ctx, core.Transaction{
			ID:       "orphan",
			Movement: core.Movement{Type: core.Expense, FromAccountID: "missing", Amount: core.MustMoney("1")},
			Status:   core.StatusCompleted,
		})
	})
	if err == nil {
		t.Fatal("expected foreign key violation")
	}
}

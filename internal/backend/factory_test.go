package backend

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bilancio/internal/config"
	"bilancio/internal/core"
	"bilancio/internal/scheduler"
)

func TestFromAppConfig(t *testing.T) {
	app := config.Defaults()
	app.DataBackend = "sqlite"
	app.PostDatePolicy = "now"
	app.ProcessWorkers = 2

	cfg, err := FromAppConfig(app)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Type != SQLiteBackend || cfg.SQLiteDBPath != app.SQLiteDBPath {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Scheduler.DatePolicy != scheduler.PostOnCurrentDate || cfg.Scheduler.Workers != 2 {
		t.Errorf("scheduler config = %+v", cfg.Scheduler)
	}
	if cfg.BalanceCacheSize != app.BalanceCacheSize {
		t.Errorf("cache size = %d", cfg.BalanceCacheSize)
	}

	app.BalanceCacheSize = 0
	cfg, _ = FromAppConfig(app)
	if cfg.BalanceCacheSize != 0 || cfg.BalanceCacheTTL != 0 {
		t.Errorf("disabled cache carried over: %+v", cfg)
	}

	if _, err := FromAppConfig(nil); err == nil {
		t.Error("nil config should fail")
	}
	app.DataBackend = "sheets"
	if _, err := FromAppConfig(app); err == nil {
		t.Error("unknown backend should fail")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"memory", Config{Type: MemoryBackend}, ""},
		{"sqlite without path", Config{Type: SQLiteBackend}, "SQLite database path"},
		{"postgres without url", Config{Type: PostgresBackend}, "Postgres URL"},
		{"unknown", Config{Type: "sheets"}, "invalid backend type"},
		{"half configured amqp", Config{Type: MemoryBackend, AMQPURL: "amqp://localhost/"}, "AMQP exchange and queue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestCreateBackend(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"memory with cache", Config{Type: MemoryBackend, LockTimeout: time.Second, BalanceCacheSize: 10, BalanceCacheTTL: time.Minute}},
		{"sqlite", Config{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(t.TempDir(), "nested", "bilancio.db"), LockTimeout: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			res, err := NewFactory(nil).CreateBackend(ctx, tt.cfg)
			if err != nil {
				t.Fatalf("CreateBackend() error = %v", err)
			}
			defer func() {
				if err := res.Cleanup(); err != nil {
					t.Errorf("Cleanup() error = %v", err)
				}
			}()

			if res.Publisher != nil {
				t.Error("no AMQP URL, publisher should be nil")
			}
			if (res.Caches != nil) != (tt.cfg.BalanceCacheSize > 0) {
				t.Errorf("caches = %v", res.Caches)
			}

			acc, err := res.Ledger.OpenAccount(ctx, core.Account{Name: "Main", Currency: "EUR", StartBalance: core.MustMoney("10")})
			if err != nil {
				t.Fatal(err)
			}
			_, err = res.Ledger.Create(ctx, core.Transaction{
				Movement:        core.Movement{Type: core.Income, ToAccountID: acc.ID, Amount: core.MustMoney("5")},
				Status:          core.StatusCompleted,
				TransactionDate: time.Now(),
			})
			if err != nil {
				t.Fatal(err)
			}
			got, err := res.Ledger.BalanceOf(ctx, acc.ID)
			if err != nil || !got.Equal(core.MustMoney("15")) {
				t.Fatalf("BalanceOf() = %s, %v", got, err)
			}
		})
	}
}

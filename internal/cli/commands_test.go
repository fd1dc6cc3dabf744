package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/storage/sqlite"
	"bilancio/internal/storage/storagetest"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// useSQLite points the configuration at a fresh database file.
func useSQLite(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("AMQP_URL", "")
	t.Setenv("DATA_BACKEND", "sqlite")
	t.Setenv("SQLITE_DB_PATH", path)
	return path
}

func TestPreviewCommand(t *testing.T) {
	out, err := run(t, "preview", "DAILY", "--value", "2", "--from", "2024-01-01", "-n", "3")
	if err != nil {
		t.Fatalf("preview error = %v", err)
	}
	for _, want := range []string{"2024-01-03", "2024-01-05", "2024-01-07"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s:\n%s", want, out)
		}
	}

	out, err = run(t, "preview", "MONTHLY_LAST_DAY", "--from", "2024-01-15", "-n", "2", "--json")
	if err != nil {
		t.Fatalf("preview --json error = %v", err)
	}
	var dates []time.Time
	if err := json.Unmarshal([]byte(out), &dates); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(dates) != 2 || dates[0].Format(dateLayout) != "2024-02-29" || dates[1].Format(dateLayout) != "2024-03-31" {
		t.Errorf("dates = %v", dates)
	}

	if _, err := run(t, "preview", "HOURLY"); !errors.Is(err, core.ErrInvalidRule) {
		t.Errorf("unknown pattern error = %v, want ErrInvalidRule", err)
	}
	if _, err := run(t, "preview", "DAILY", "--from", "soon"); err == nil {
		t.Error("expected an error for a malformed date")
	}
}

func TestMigrateCommand(t *testing.T) {
	t.Run("sqlite", func(t *testing.T) {
		useSQLite(t)
		out, err := run(t, "migrate")
		if err != nil {
			t.Fatalf("migrate error = %v", err)
		}
		if !strings.Contains(out, "sqlite") {
			t.Errorf("output = %q", out)
		}
		// Running again is a no-op.
		if _, err := run(t, "migrate"); err != nil {
			t.Fatalf("second migrate error = %v", err)
		}
	})

	t.Run("memory has no schema", func(t *testing.T) {
		t.Setenv("CONFIG_FILE", "")
		t.Setenv("DATA_BACKEND", "memory")
		if _, err := run(t, "migrate"); err == nil {
			t.Fatal("expected an error for the memory backend")
		}
	})
}

func TestBackendCommands(t *testing.T) {
	path := useSQLite(t)

	store, err := sqlite.Open(context.Background(), sqlite.Config{Path: path})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	storagetest.SeedAccount(t, store, "acc", "250")
	store.Close()

	out, err := run(t, "balance", "acc")
	if err != nil {
		t.Fatalf("balance error = %v", err)
	}
	if !strings.Contains(out, "250.00") {
		t.Errorf("balance output = %q", out)
	}

	if _, err := run(t, "balance", "ghost"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("balance of unknown account error = %v", err)
	}

	out, err = run(t, "verify", "acc", "--json")
	if err != nil {
		t.Fatalf("verify error = %v", err)
	}
	if !strings.Contains(out, `"accountId": "acc"`) {
		t.Errorf("verify output = %q", out)
	}

	out, err = run(t, "due", "--horizon", "24h")
	if err != nil {
		t.Fatalf("due error = %v", err)
	}
	if !strings.Contains(out, "No schedules due.") {
		t.Errorf("due output = %q", out)
	}

	out, err = run(t, "process", "--as-of", "2024-03-01")
	if err != nil {
		t.Fatalf("process error = %v", err)
	}
	if !strings.Contains(out, "Due: 0  Posted: 0  Failed: 0") {
		t.Errorf("process output = %q", out)
	}

	if _, err := run(t, "skip", "ghost"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("skip of unknown schedule error = %v", err)
	}
}

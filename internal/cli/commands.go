package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"bilancio/internal/backend"
	"bilancio/internal/core"
	"bilancio/internal/ledger"
	"bilancio/internal/recurrence"
	"bilancio/internal/storage/postgres"
	"bilancio/internal/storage/sqlite"
)

const dateLayout = "2006-01-02"

// ErrDrift is returned by verify when any account disagrees with its history.
var ErrDrift = errors.New("balance drift detected")

// parseWhen accepts a calendar date or an RFC 3339 timestamp.
func parseWhen(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

// ─── preview ────────────────────────────────────────────────────────────────

func newPreviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview PATTERN",
		Short: "List the next occurrences of a recurrence rule",
		Long: `Evaluate a recurrence rule without touching any store. Patterns:
DAILY, WEEKLY, BI_WEEKLY, MONTHLY, MONTHLY_LAST_DAY, YEARLY,
EVERY_FRIDAY, EVERY_SATURDAY, EVERY_WEEKDAY.`,
		Args: cobra.ExactArgs(1),
		RunE: runPreview,
	}
	cmd.Flags().Int("value", 0, "Interval multiplier (0 reads as 1)")
	cmd.Flags().String("from", "", "Start date, exclusive (default today)")
	cmd.Flags().IntP("count", "n", 5, "Number of occurrences")
	return cmd
}

func runPreview(cmd *cobra.Command, args []string) error {
	value, _ := cmd.Flags().GetInt("value")
	fromFlag, _ := cmd.Flags().GetString("from")
	n, _ := cmd.Flags().GetInt("count")

	rule := core.ScheduledTransaction{Pattern: core.RecurrencePattern(args[0]), Value: value}
	if !rule.Pattern.IsValid() || !rule.Pattern.ValidValue(rule.Value) {
		return &core.InvalidRuleError{Pattern: rule.Pattern, Value: value}
	}

	from := time.Now().UTC().Truncate(24 * time.Hour)
	if fromFlag != "" {
		var err error
		if from, err = parseWhen(fromFlag); err != nil {
			return err
		}
	}

	dates, err := recurrence.Occurrences(rule.Pattern, rule.Interval(), from, n)
	if err != nil {
		return err
	}
	return render(cmd, dates, func(w io.Writer) {
		fmt.Fprintf(w, "%s every %d after %s:\n", rule.Pattern, rule.Interval(), from.Format(dateLayout))
		for _, d := range dates {
			fmt.Fprintf(w, "  %s  %s\n", d.Format(dateLayout), d.Weekday())
		}
	})
}

// ─── balance ────────────────────────────────────────────────────────────────

func newBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance ACCOUNT_ID",
		Short: "Show the materialized balance of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, be *backend.BackendResult) error {
				balance, err := be.Ledger.BalanceOf(ctx, args[0])
				if err != nil {
					return err
				}
				return render(cmd, map[string]any{"accountId": args[0], "balance": balance}, func(w io.Writer) {
					fmt.Fprintf(w, "%s  %s\n", args[0], balance)
				})
			})
		},
	}
}

// ─── verify ─────────────────────────────────────────────────────────────────

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify ACCOUNT_ID...",
		Short: "Recompute balances from history and report drift",
		Long:  `Verify recomputes startBalance + incoming - outgoing over completed transactions. The command fails when any account drifted.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, be *backend.BackendResult) error {
				recs := make([]ledger.Reconciliation, 0, len(args))
				drifted := 0
				for _, id := range args {
					rec, err := be.Ledger.Verify(ctx, id)
					if err != nil {
						return err
					}
					if !rec.Consistent() {
						drifted++
					}
					recs = append(recs, rec)
				}

				err := render(cmd, recs, func(w io.Writer) {
					for _, rec := range recs {
						status := "ok"
						if !rec.Consistent() {
							status = "DRIFT " + rec.Drift.String()
						}
						fmt.Fprintf(w, "%s  stored=%s expected=%s transactions=%d  %s\n",
							rec.AccountID, rec.Stored, rec.Expected, rec.Transactions, status)
					}
				})
				if err != nil {
					return err
				}
				if drifted > 0 {
					return fmt.Errorf("%w in %d of %d accounts", ErrDrift, drifted, len(recs))
				}
				return nil
			})
		},
	}
}

// ─── post / skip ────────────────────────────────────────────────────────────

func newPostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "post SCHEDULE_ID",
		Short: "Materialize the pending occurrence of a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, be *backend.BackendResult) error {
				res, err := be.Scheduler.Post(ctx, args[0])
				if err != nil {
					return err
				}
				return render(cmd, res, func(w io.Writer) {
					fmt.Fprintf(w, "Posted %s %s on %s as transaction %s\n",
						res.Transaction.Type, res.Transaction.Amount,
						res.Transaction.TransactionDate.Format(dateLayout), res.Transaction.ID)
					fmt.Fprintf(w, "Next occurrence: %s\n", res.Schedule.NextOccurrence.Format(dateLayout))
				})
			})
		},
	}
}

func newSkipCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "skip SCHEDULE_ID",
		Short: "Advance a schedule without posting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, be *backend.BackendResult) error {
				sch, err := be.Scheduler.Skip(ctx, args[0])
				if err != nil {
					return err
				}
				return render(cmd, sch, func(w io.Writer) {
					fmt.Fprintf(w, "Skipped. Next occurrence: %s\n", sch.NextOccurrence.Format(dateLayout))
				})
			})
		},
	}
}

// ─── due / process ──────────────────────────────────────────────────────────

func newDueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "due",
		Short: "List enabled schedules due within a horizon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			horizon, _ := cmd.Flags().GetDuration("horizon")
			return withBackend(cmd, func(ctx context.Context, be *backend.BackendResult) error {
				var due []core.ScheduledTransaction
				for sch, err := range be.Scheduler.DuePending(ctx, time.Now(), horizon) {
					if err != nil {
						return err
					}
					due = append(due, sch)
				}
				return render(cmd, due, func(w io.Writer) {
					if len(due) == 0 {
						fmt.Fprintln(w, "No schedules due.")
						return
					}
					fmt.Fprintf(w, "Due schedules (%d):\n", len(due))
					for _, sch := range due {
						fmt.Fprintf(w, "  %s  %s  %s %s  %s\n",
							sch.NextOccurrence.Format(dateLayout), sch.ID, sch.Type, sch.Amount, sch.Pattern)
					}
				})
			})
		},
	}
	cmd.Flags().Duration("horizon", 72*time.Hour, "Look-ahead from now")
	return cmd
}

func newProcessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Post every due occurrence once, with catch-up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			asOf := time.Now()
			if v, _ := cmd.Flags().GetString("as-of"); v != "" {
				var err error
				if asOf, err = parseWhen(v); err != nil {
					return err
				}
			}
			return withBackend(cmd, func(ctx context.Context, be *backend.BackendResult) error {
				res, err := be.Scheduler.ProcessDue(ctx, asOf)
				if err != nil {
					return err
				}
				return render(cmd, res, func(w io.Writer) {
					fmt.Fprintf(w, "Due: %d  Posted: %d  Failed: %d\n", res.Due, res.Posted, res.Failed)
				})
			})
		},
	}
	cmd.Flags().String("as-of", "", "Process as of this date (default now)")
	return cmd
}

// ─── migrate ────────────────────────────────────────────────────────────────

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the configured SQL backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}
			bc, err := backend.FromAppConfig(cfg)
			if err != nil {
				return err
			}

			switch bc.Type {
			case backend.SQLiteBackend:
				err = migrateSQLite(bc.SQLiteDBPath, bc.LockTimeout)
			case backend.PostgresBackend:
				err = migratePostgres(bc.PostgresURL)
			default:
				return fmt.Errorf("backend %s has no schema to migrate", bc.Type)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema of %s backend is up to date.\n", bc.Type)
			return nil
		},
	}
}

func migrateSQLite(path string, busyTimeout time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}
	return sqlite.RunMigrations(sqlite.Config{Path: path, BusyTimeout: busyTimeout}.DSN())
}

func migratePostgres(url string) error {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	return postgres.RunMigrations(db)
}

// Package postgres opens the ledger's PostgreSQL backend. Units of work run
// at READ COMMITTED; entity locks are row locks taken with SELECT ... FOR
// UPDATE under a transaction-local lock_timeout.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"bilancio/internal/core"
	"bilancio/internal/storage/sqlstore"
)

// Config configures the postgres store.
type Config struct {
	URL          string
	LockTimeout  time.Duration
	MaxOpenConns int
}

// Open connects, migrates and returns a ready store.
func Open(ctx context.Context, cfg Config) (*sqlstore.Store, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return sqlstore.New(db, Dialect(cfg.LockTimeout)), nil
}

// Dialect returns the postgres flavor of the shared SQL store.
func Dialect(lockTimeout time.Duration) sqlstore.Dialect {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return sqlstore.Dialect{
		Name:   "postgresql",
		Dollar: true,
		BeginTx: func(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
			tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
			if err != nil {
				return nil, err
			}
			// SET LOCAL does not take bind parameters.
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeout.Milliseconds())); err != nil {
				tx.Rollback()
				return nil, err
			}
			return tx, nil
		},
		Lock:     lockRows,
		MapError: mapError,
	}
}

var lockTables = map[string]string{
	"account":     "accounts",
	"schedule":    "scheduled_transactions",
	"transaction": "transactions",
}

type lockStatement struct {
	table string
	ids   []string
}

// lockPlan groups keys per table. Tables come in key-prefix order and ids are
// sorted, so every unit of work requests rows in the same global order.
func lockPlan(keys []string) ([]lockStatement, error) {
	byPrefix := make(map[string][]string)
	for _, key := range keys {
		prefix, id, ok := strings.Cut(key, ":")
		if !ok || id == "" {
			return nil, fmt.Errorf("malformed lock key %q", key)
		}
		if _, known := lockTables[prefix]; !known {
			return nil, fmt.Errorf("unknown lock key prefix %q", prefix)
		}
		byPrefix[prefix] = append(byPrefix[prefix], id)
	}

	prefixes := make([]string, 0, len(byPrefix))
	for p := range byPrefix {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	plan := make([]lockStatement, 0, len(prefixes))
	for _, p := range prefixes {
		ids := byPrefix[p]
		sort.Strings(ids)
		plan = append(plan, lockStatement{table: lockTables[p], ids: ids})
	}
	return plan, nil
}

func lockRows(ctx context.Context, c sqlstore.Conn, keys []string) error {
	plan, err := lockPlan(keys)
	if err != nil {
		return err
	}
	for _, st := range plan {
		rows, err := c.QueryContext(ctx,
			"SELECT id FROM "+st.table+" WHERE id = ANY(?) ORDER BY id FOR UPDATE", pq.Array(st.ids))
		if err != nil {
			return err
		}
		for rows.Next() {
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// SQLSTATE codes mapped onto core errors.
const (
	codeUniqueViolation      = "23505"
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
)

func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}
	switch string(pqErr.Code) {
	case codeUniqueViolation:
		return core.Invalid("id", core.ErrDuplicateID)
	case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure:
		return core.Conflict("postgres", err)
	}
	return nil
}

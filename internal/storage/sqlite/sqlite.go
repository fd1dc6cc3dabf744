// Package sqlite opens the ledger's SQLite backend. Every unit of work starts
// with BEGIN IMMEDIATE, so writers are serialized database-wide and entity
// locks are implied; busy_timeout bounds the wait.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"bilancio/internal/core"
	"bilancio/internal/storage/sqlstore"
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// DSN builds the connection string with the pragmas the store relies on.
func (c Config) DSN() string {
	timeout := c.BusyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", timeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	return "file:" + c.Path + "?" + q.Encode()
}

// Open creates the database directory if needed, migrates the schema and
// returns a ready store.
func Open(ctx context.Context, cfg Config) (*sqlstore.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := cfg.DSN()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return sqlstore.New(db, Dialect()), nil
}

// Dialect returns the SQLite flavor of the shared SQL store.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name: "sqlite",
		BeginTx: func(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
			return db.BeginTx(ctx, nil)
		},
		MapError: mapError,
	}
}

func mapError(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return nil
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return core.Invalid("id", core.ErrDuplicateID)
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return core.Conflict("sqlite", err)
	}
	return nil
}

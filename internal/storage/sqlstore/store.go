// Package sqlstore implements storage.Store over database/sql. The sqlite and
// postgres packages supply a Dialect; everything else is shared.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bilancio/internal/storage"
)

// Conn is the statement surface handed to dialect hooks. Queries use "?"
// placeholders regardless of dialect.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Dialect captures what differs between SQL engines.
type Dialect struct {
	// Name is reported as db.system on spans.
	Name string
	// Dollar selects $n placeholders.
	Dollar bool
	// BeginTx opens the transaction backing one unit of work.
	BeginTx func(ctx context.Context, db *sql.DB) (*sql.Tx, error)
	// Lock takes row locks for keys. Nil means the transaction is already
	// exclusive and Lock is a no-op.
	Lock func(ctx context.Context, c Conn, keys []string) error
	// MapError turns engine errors (busy, lock timeout, unique violation)
	// into core errors. It returns nil for errors it does not recognize.
	MapError func(err error) error
}

type Store struct {
	db *sql.DB
	d  Dialect
	q  queries
}

var _ storage.Store = (*Store)(nil)

// New wraps an open database. The caller has already applied migrations.
func New(db *sql.DB, d Dialect) *Store {
	s := &Store{db: db, d: d}
	s.q = queries{c: tracedConn{c: db, system: d.Name, dollar: d.Dollar}, mapErr: s.mapErr}
	return s
}

// DB exposes the underlying pool for health checks and tooling.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if s.d.MapError != nil {
		if mapped := s.d.MapError(err); mapped != nil {
			return mapped
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// RunInTx runs fn inside one database transaction. The transaction commits
// only if fn returns nil.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) (err error) {
	ctx, span := dbTracer.Start(ctx, "db.UnitOfWork", trace.WithAttributes(
		attribute.String("db.system", s.d.Name),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	sqlTx, err := s.d.BeginTx(ctx, s.db)
	if err != nil {
		return s.mapErr("begin unit of work", err)
	}
	defer sqlTx.Rollback()

	c := tracedConn{c: sqlTx, system: s.d.Name, dollar: s.d.Dollar}
	u := &unit{
		q:    queries{c: c, mapErr: s.mapErr},
		lock: s.d.Lock,
	}
	if err := fn(ctx, u); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return s.mapErr("commit unit of work", err)
	}
	return nil
}

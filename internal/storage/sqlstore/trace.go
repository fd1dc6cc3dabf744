package sqlstore

import (
	"context"
	"database/sql"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var dbTracer = otel.Tracer("bilancio.db")

// conn is what *sql.DB and *sql.Tx have in common.
type conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// tracedConn runs statements inside spans and rebinds placeholders for the
// dialect. Statements carry only bind parameters, so they are recorded as is.
type tracedConn struct {
	c      conn
	system string
	dollar bool
}

func (t tracedConn) start(ctx context.Context, name, query string) (context.Context, trace.Span) {
	return dbTracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", t.system),
		attribute.String("db.operation", sqlVerb(query)),
		attribute.String("db.statement", query),
	))
}

func (t tracedConn) bind(query string) string {
	if t.dollar {
		return Rebind(query)
	}
	return query
}

func (t tracedConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	query = t.bind(query)
	ctx, span := t.start(ctx, "db.Query", query)
	defer span.End()

	rows, err := t.c.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return rows, err
}

// tracedRow keeps the span open until Scan, where sql.Row reports errors.
type tracedRow struct {
	row  *sql.Row
	span trace.Span
}

func (r *tracedRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if r.span != nil {
		if err != nil && err != sql.ErrNoRows {
			r.span.RecordError(err)
			r.span.SetStatus(codes.Error, err.Error())
		}
		r.span.End()
		r.span = nil
	}
	return err
}

func (t tracedConn) QueryRowContext(ctx context.Context, query string, args ...any) *tracedRow {
	query = t.bind(query)
	ctx, span := t.start(ctx, "db.QueryRow", query)
	return &tracedRow{
		row:  t.c.QueryRowContext(ctx, query, args...),
		span: span,
	}
}

func (t tracedConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	query = t.bind(query)
	ctx, span := t.start(ctx, "db.Exec", query)
	defer span.End()

	res, err := t.c.ExecContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func sqlVerb(q string) string {
	q = strings.TrimSpace(q)
	if i := strings.IndexAny(q, " \n\t"); i > 0 {
		return strings.ToUpper(q[:i])
	}
	return strings.ToUpper(q)
}

package sqlstore

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"bilancio/internal/core"
)

// Column lists shared by the SQL backends. Args and Scan helpers below follow
// the same order.
const (
	AccountColumns = "id, user_id, name, description, currency, start_balance, balance, " +
		"exclude_from_summary, exclude_from_reports, created_at, updated_at"

	AssetColumns = "id, symbol, name, type, current_price, currency, last_update"

	movementColumns = "type, from_account_id, to_account_id, amount, asset_id, units, " +
		"payee, memo, number, tags, category_id"

	TransactionColumns = "id, " + movementColumns + ", status, transaction_date, " +
		"transaction_date_unix, sort_order, schedule_id, version, created_at, updated_at"

	ScheduleColumns = "id, " + movementColumns + ", pattern, recurrence_value, next_occurrence, " +
		"next_occurrence_unix, enabled, version, created_at, updated_at"
)

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// Placeholders renders n "?" bind parameters.
func Placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Assignments renders "col = ?" pairs for an UPDATE over columns, skipping
// the leading id column.
func Assignments(columns string) string {
	cols := strings.Split(columns, ",")[1:]
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = strings.TrimSpace(c) + " = ?"
	}
	return strings.Join(parts, ", ")
}

// Rebind rewrites "?" placeholders as "$1, $2, ..." for postgres.
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func AccountArgs(a core.Account) []any {
	return []any{
		a.ID, a.UserID, a.Name, a.Description, a.Currency, a.StartBalance, a.Balance,
		a.ExcludeFromSummary, a.ExcludeFromReports, FormatTime(a.CreatedAt), FormatTime(a.UpdatedAt),
	}
}

func ScanAccount(row Scanner) (core.Account, error) {
	var (
		a                    core.Account
		createdAt, updatedAt string
	)
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Description, &a.Currency, &a.StartBalance, &a.Balance,
		&a.ExcludeFromSummary, &a.ExcludeFromReports, &createdAt, &updatedAt)
	if err != nil {
		return core.Account{}, err
	}
	if a.CreatedAt, err = ParseTime(createdAt); err != nil {
		return core.Account{}, err
	}
	if a.UpdatedAt, err = ParseTime(updatedAt); err != nil {
		return core.Account{}, err
	}
	return a, nil
}

func AssetArgs(a core.Asset) []any {
	return []any{a.ID, a.Symbol, a.Name, string(a.Type), a.CurrentPrice, a.Currency, FormatTime(a.LastUpdate)}
}

func ScanAsset(row Scanner) (core.Asset, error) {
	var (
		a          core.Asset
		typ        string
		lastUpdate string
	)
	if err := row.Scan(&a.ID, &a.Symbol, &a.Name, &typ, &a.CurrentPrice, &a.Currency, &lastUpdate); err != nil {
		return core.Asset{}, err
	}
	a.Type = core.AssetType(typ)
	t, err := ParseTime(lastUpdate)
	if err != nil {
		return core.Asset{}, err
	}
	a.LastUpdate = t
	return a, nil
}

func movementArgs(m core.Movement) []any {
	return []any{
		string(m.Type), NullString(m.FromAccountID), NullString(m.ToAccountID), m.Amount,
		NullString(m.AssetID), m.Units, m.Payee, m.Memo, m.Number, EncodeTags(m.Tags), m.CategoryID,
	}
}

// movementDest collects scan targets for the movement columns.
type movementDest struct {
	typ, tags         string
	from, to, assetID sql.NullString
	units             decimal.Decimal
	m                 core.Movement
}

func (d *movementDest) targets() []any {
	return []any{
		&d.typ, &d.from, &d.to, &d.m.Amount, &d.assetID, &d.units,
		&d.m.Payee, &d.m.Memo, &d.m.Number, &d.tags, &d.m.CategoryID,
	}
}

func (d *movementDest) movement() (core.Movement, error) {
	m := d.m
	m.Type = core.TransactionType(d.typ)
	m.FromAccountID = d.from.String
	m.ToAccountID = d.to.String
	m.AssetID = d.assetID.String
	m.Units = d.units
	tags, err := DecodeTags(d.tags)
	if err != nil {
		return core.Movement{}, err
	}
	m.Tags = tags
	return m, nil
}

func TransactionArgs(t core.Transaction) []any {
	args := []any{t.ID}
	args = append(args, movementArgs(t.Movement)...)
	return append(args,
		string(t.Status), FormatTime(t.TransactionDate), t.TransactionDate.UnixNano(), t.SortOrder,
		NullString(t.ScheduleID), t.Version, FormatTime(t.CreatedAt), FormatTime(t.UpdatedAt),
	)
}

func ScanTransaction(row Scanner) (core.Transaction, error) {
	var (
		t                    core.Transaction
		md                   movementDest
		status, date         string
		dateUnix             int64
		scheduleID           sql.NullString
		createdAt, updatedAt string
	)
	dest := append([]any{&t.ID}, md.targets()...)
	dest = append(dest, &status, &date, &dateUnix, &t.SortOrder, &scheduleID, &t.Version, &createdAt, &updatedAt)
	if err := row.Scan(dest...); err != nil {
		return core.Transaction{}, err
	}

	m, err := md.movement()
	if err != nil {
		return core.Transaction{}, err
	}
	t.Movement = m
	t.Status = core.TransactionStatus(status)
	t.ScheduleID = scheduleID.String
	if t.TransactionDate, err = ParseTime(date); err != nil {
		return core.Transaction{}, err
	}
	if t.CreatedAt, err = ParseTime(createdAt); err != nil {
		return core.Transaction{}, err
	}
	if t.UpdatedAt, err = ParseTime(updatedAt); err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}

func ScheduleArgs(s core.ScheduledTransaction) []any {
	args := []any{s.ID}
	args = append(args, movementArgs(s.Movement)...)
	return append(args,
		string(s.Pattern), s.Value, FormatTime(s.NextOccurrence), s.NextOccurrence.UnixNano(),
		s.Enabled, s.Version, FormatTime(s.CreatedAt), FormatTime(s.UpdatedAt),
	)
}

func ScanSchedule(row Scanner) (core.ScheduledTransaction, error) {
	var (
		s                    core.ScheduledTransaction
		md                   movementDest
		pattern, next        string
		nextUnix             int64
		createdAt, updatedAt string
	)
	dest := append([]any{&s.ID}, md.targets()...)
	dest = append(dest, &pattern, &s.Value, &next, &nextUnix, &s.Enabled, &s.Version, &createdAt, &updatedAt)
	if err := row.Scan(dest...); err != nil {
		return core.ScheduledTransaction{}, err
	}

	m, err := md.movement()
	if err != nil {
		return core.ScheduledTransaction{}, err
	}
	s.Movement = m
	s.Pattern = core.RecurrencePattern(pattern)
	if s.NextOccurrence, err = ParseTime(next); err != nil {
		return core.ScheduledTransaction{}, err
	}
	if s.CreatedAt, err = ParseTime(createdAt); err != nil {
		return core.ScheduledTransaction{}, err
	}
	if s.UpdatedAt, err = ParseTime(updatedAt); err != nil {
		return core.ScheduledTransaction{}, err
	}
	return s, nil
}

package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var day = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func TestMovementValidate(t *testing.T) {
	amount := MustMoney("10")
	tests := []struct {
		name  string
		m     Movement
		field string
		cause error
	}{
		{name: "expense ok", m: Movement{Type: Expense, FromAccountID: "a", Amount: amount}},
		{name: "income ok", m: Movement{Type: Income, ToAccountID: "a", Amount: amount}},
		{name: "transfer ok", m: Movement{Type: Transfer, FromAccountID: "a", ToAccountID: "b", Amount: amount}},
		{
			name: "asset acquisition ok",
			m:    Movement{Type: Transfer, FromAccountID: "a", ToAccountID: "b", Amount: amount, AssetID: "etf", Units: decimal.RequireFromString("1.5")},
		},
		{name: "expense without source", m: Movement{Type: Expense, Amount: amount}, field: "fromAccountId", cause: ErrMissingAccount},
		{name: "expense with destination", m: Movement{Type: Expense, FromAccountID: "a", ToAccountID: "b", Amount: amount}, field: "toAccountId", cause: ErrUnexpectedAccount},
		{name: "income without destination", m: Movement{Type: Income, Amount: amount}, field: "toAccountId", cause: ErrMissingAccount},
		{name: "income with source", m: Movement{Type: Income, FromAccountID: "a", ToAccountID: "b", Amount: amount}, field: "fromAccountId", cause: ErrUnexpectedAccount},
		{name: "transfer missing destination", m: Movement{Type: Transfer, FromAccountID: "a", Amount: amount}, field: "toAccountId", cause: ErrMissingAccount},
		{name: "same account transfer", m: Movement{Type: Transfer, FromAccountID: "a", ToAccountID: "a", Amount: amount}, field: "toAccountId", cause: ErrSameAccount},
		{name: "unknown type", m: Movement{Type: "GIFT", FromAccountID: "a", Amount: amount}, field: "type", cause: ErrInvalidType},
		{name: "zero amount", m: Movement{Type: Expense, FromAccountID: "a"}, field: "amount", cause: ErrInvalidAmount},
		{name: "negative amount", m: Movement{Type: Expense, FromAccountID: "a", Amount: MustMoney("-5")}, field: "amount", cause: ErrInvalidAmount},
		{
			name:  "asset on expense",
			m:     Movement{Type: Expense, FromAccountID: "a", Amount: amount, AssetID: "etf", Units: decimal.NewFromInt(1)},
			field: "assetId", cause: ErrAssetNotTransfer,
		},
		{
			name:  "asset without units",
			m:     Movement{Type: Transfer, FromAccountID: "a", ToAccountID: "b", Amount: amount, AssetID: "etf"},
			field: "units", cause: ErrInvalidUnits,
		},
		{
			name:  "units without asset",
			m:     Movement{Type: Transfer, FromAccountID: "a", ToAccountID: "b", Amount: amount, Units: decimal.NewFromInt(2)},
			field: "units", cause: ErrInvalidUnits,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if tt.cause == nil {
				if err != nil {
					t.Fatalf("expected ok, got %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T (%v)", err, err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
			if !errors.Is(err, tt.cause) || !errors.Is(err, ErrValidation) {
				t.Errorf("error %v should match %v and ErrValidation", err, tt.cause)
			}
		})
	}
}

func TestTransactionValidate(t *testing.T) {
	good := Transaction{
		Movement:        Movement{Type: Income, ToAccountID: "a", Amount: MustMoney("1")},
		Status:          StatusCompleted,
		TransactionDate: day,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	noStatus := good
	noStatus.Status = ""
	if err := noStatus.Validate(); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}

	noDate := good
	noDate.TransactionDate = time.Time{}
	if err := noDate.Validate(); !errors.Is(err, ErrMissingDate) {
		t.Fatalf("expected ErrMissingDate, got %v", err)
	}
}

func TestScheduledTransaction(t *testing.T) {
	s := ScheduledTransaction{
		ID:             "s1",
		Movement:       Movement{Type: Expense, FromAccountID: "a", Amount: MustMoney("9.99"), Tags: []string{"rent"}},
		Pattern:        Monthly,
		NextOccurrence: day,
		Enabled:        true,
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if s.Interval() != 1 {
		t.Fatalf("unset value should read as 1, got %d", s.Interval())
	}

	bad := s
	bad.Pattern = "HOURLY"
	if err := bad.Validate(); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}

	for _, v := range []int{-2, Monthly.MaxValue() + 1} {
		bad := s
		bad.Value = v
		var ruleErr *InvalidRuleError
		if err := bad.Validate(); !errors.As(err, &ruleErr) || ruleErr.Value != v {
			t.Fatalf("value %d: expected InvalidRuleError, got %v", v, err)
		}
	}
	weekly := s
	weekly.Pattern = EveryFriday
	weekly.Value = 1 << 40
	if err := weekly.Validate(); err != nil {
		t.Fatalf("patterns that ignore the value should accept any non-negative value, got %v", err)
	}

	tx := s.Materialize("t1", day)
	if tx.Status != StatusCompleted || tx.ScheduleID != "s1" || !tx.TransactionDate.Equal(day) {
		t.Fatalf("unexpected materialized transaction %+v", tx)
	}
	tx.Tags[0] = "changed"
	if s.Tags[0] != "rent" {
		t.Fatal("materialized transaction must not share the template's tags")
	}
}

func TestAccountValidate(t *testing.T) {
	if err := (Account{Name: "Checking", Currency: "EUR"}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Account{Name: "", Currency: "EUR"}).Validate(); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
	if err := (Account{Name: "x", Currency: "eur"}).Validate(); !errors.Is(err, ErrInvalidCurrency) {
		t.Fatalf("expected ErrInvalidCurrency, got %v", err)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{Invalid("amount", ErrInvalidAmount), ErrValidation},
		{NotFound("account", "x"), ErrNotFound},
		{&DisabledScheduleError{ScheduleID: "s"}, ErrDisabledSchedule},
		{&InvalidRuleError{Pattern: Daily, Value: 0}, ErrInvalidRule},
		{Conflict("update", nil), ErrConflict},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%v should match %v", tt.err, tt.want)
		}
	}
	if !IsRetryable(Conflict("delete", errors.New("lock timeout"))) {
		t.Error("conflicts are retryable")
	}
	if IsRetryable(NotFound("transaction", "x")) {
		t.Error("not found is not retryable")
	}
}

func TestSummarize(t *testing.T) {
	accounts := []Account{
		{ID: "1", Currency: "EUR", Balance: MustMoney("100.50")},
		{ID: "2", Currency: "EUR", Balance: MustMoney("-20")},
		{ID: "3", Currency: "USD", Balance: MustMoney("7")},
		{ID: "4", Currency: "EUR", Balance: MustMoney("1000"), ExcludeFromSummary: true},
	}
	s := Summarize(accounts)
	if s.Excluded != 1 {
		t.Fatalf("Excluded = %d, want 1", s.Excluded)
	}
	if len(s.Totals) != 2 || s.Totals[0].Currency != "EUR" || s.Totals[1].Currency != "USD" {
		t.Fatalf("unexpected totals %+v", s.Totals)
	}
	if !s.Totals[0].Total.Equal(MustMoney("80.50")) || s.Totals[0].Accounts != 2 {
		t.Fatalf("EUR total = %s over %d accounts", s.Totals[0].Total, s.Totals[0].Accounts)
	}
}

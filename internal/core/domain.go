package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Expense  TransactionType = "EXPENSE"
	Income   TransactionType = "INCOME"
	Transfer TransactionType = "TRANSFER"
)

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
)

const (
	AssetStock  AssetType = "STOCK"
	AssetETF    AssetType = "ETF"
	AssetCrypto AssetType = "CRYPTO"
)

const (
	Daily          RecurrencePattern = "DAILY"
	Weekly         RecurrencePattern = "WEEKLY"
	BiWeekly       RecurrencePattern = "BI_WEEKLY"
	Monthly        RecurrencePattern = "MONTHLY"
	MonthlyLastDay RecurrencePattern = "MONTHLY_LAST_DAY"
	Yearly         RecurrencePattern = "YEARLY"
	EveryFriday    RecurrencePattern = "EVERY_FRIDAY"
	EverySaturday  RecurrencePattern = "EVERY_SATURDAY"
	EveryWeekday   RecurrencePattern = "EVERY_WEEKDAY"
)

const maxTextLen = 200

type (
	TransactionType   string
	TransactionStatus string
	AssetType         string
	RecurrencePattern string

	// Account is owned by one user. Balance is written only by the ledger.
	Account struct {
		ID                 string    `json:"id"`
		UserID             string    `json:"userId,omitempty"`
		Name               string    `json:"name"`
		Description        string    `json:"description,omitempty"`
		Currency           string    `json:"currency"`
		StartBalance       Money     `json:"startBalance"`
		Balance            Money     `json:"balance"`
		ExcludeFromSummary bool      `json:"excludeFromSummary"`
		ExcludeFromReports bool      `json:"excludeFromReports"`
		CreatedAt          time.Time `json:"createdAt"`
		UpdatedAt          time.Time `json:"updatedAt"`
	}

	// Movement is the money-moving part shared by transactions and schedules.
	Movement struct {
		Type          TransactionType `json:"type"`
		FromAccountID string          `json:"fromAccountId,omitempty"`
		ToAccountID   string          `json:"toAccountId,omitempty"`
		Amount        Money           `json:"amount"`
		AssetID       string          `json:"assetId,omitempty"`
		Units         decimal.Decimal `json:"units"`
		Payee         string          `json:"payee,omitempty"`
		Memo          string          `json:"memo,omitempty"`
		Number        string          `json:"number,omitempty"`
		Tags          []string        `json:"tags,omitempty"`
		CategoryID    string          `json:"categoryId,omitempty"`
	}

	// Transaction is one recorded money movement. Only COMPLETED transactions
	// affect balances.
	Transaction struct {
		ID string `json:"id"`
		Movement
		Status          TransactionStatus `json:"status"`
		TransactionDate time.Time         `json:"transactionDate"`
		SortOrder       int               `json:"sortOrder"`
		ScheduleID      string            `json:"scheduleId,omitempty"` // set when materialized from a schedule
		Version         int64             `json:"version"`
		CreatedAt       time.Time         `json:"createdAt"`
		UpdatedAt       time.Time         `json:"updatedAt"`
	}

	// ScheduledTransaction is a template plus a recurrence rule and a cursor.
	// Value 0 means unset and reads as 1.
	ScheduledTransaction struct {
		ID string `json:"id"`
		Movement
		Pattern        RecurrencePattern `json:"recurrencePattern"`
		Value          int               `json:"recurrenceValue,omitempty"`
		NextOccurrence time.Time         `json:"nextOccurrence"`
		Enabled        bool              `json:"enabled"`
		Version        int64             `json:"version"`
		CreatedAt      time.Time         `json:"createdAt"`
		UpdatedAt      time.Time         `json:"updatedAt"`
	}

	Asset struct {
		ID           string    `json:"id"`
		Symbol       string    `json:"symbol"`
		Name         string    `json:"name"`
		Type         AssetType `json:"type"`
		CurrentPrice Money     `json:"currentPrice"`
		Currency     string    `json:"currency"`
		LastUpdate   time.Time `json:"lastUpdate"`
	}
)

func (t TransactionType) IsValid() bool {
	switch t {
	case Expense, Income, Transfer:
		return true
	}
	return false
}

func (s TransactionStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func (a AssetType) IsValid() bool {
	switch a {
	case AssetStock, AssetETF, AssetCrypto:
		return true
	}
	return false
}

func (p RecurrencePattern) IsValid() bool {
	switch p {
	case Daily, Weekly, BiWeekly, Monthly, MonthlyLastDay, Yearly,
		EveryFriday, EverySaturday, EveryWeekday:
		return true
	}
	return false
}

// MaxRecurrenceYears bounds how far a single advance may reach.
const MaxRecurrenceYears = 100

// MaxValue is the largest interval multiplier p accepts. Patterns that
// ignore the value report 0.
func (p RecurrencePattern) MaxValue() int {
	switch p {
	case Daily:
		return MaxRecurrenceYears * 366
	case Weekly:
		return MaxRecurrenceYears * 53
	case Monthly, MonthlyLastDay:
		return MaxRecurrenceYears * 12
	case Yearly:
		return MaxRecurrenceYears
	}
	return 0
}

// ValidValue reports whether v is an evaluable multiplier for p. Zero is
// accepted as the unset default.
func (p RecurrencePattern) ValidValue(v int) bool {
	if v < 0 {
		return false
	}
	return !p.UsesValue() || v <= p.MaxValue()
}

// UsesValue reports whether the interval multiplier is meaningful for p.
func (p RecurrencePattern) UsesValue() bool {
	switch p {
	case Daily, Weekly, Monthly, MonthlyLastDay, Yearly:
		return true
	}
	return false
}

func validCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return Invalid("name", ErrEmptyName)
	}
	if len(a.Name) > maxTextLen {
		return Invalid("name", ErrFieldTooLong)
	}
	if !validCurrency(a.Currency) {
		return Invalid("currency", ErrInvalidCurrency)
	}
	return nil
}

// Validate checks the movement shape: which accounts each type needs, a
// positive amount, and asset units on acquisitions.
func (m Movement) Validate() error {
	from := strings.TrimSpace(m.FromAccountID)
	to := strings.TrimSpace(m.ToAccountID)

	switch m.Type {
	case Expense:
		if from == "" {
			return Invalid("fromAccountId", ErrMissingAccount)
		}
		if to != "" {
			return Invalid("toAccountId", ErrUnexpectedAccount)
		}
	case Income:
		if to == "" {
			return Invalid("toAccountId", ErrMissingAccount)
		}
		if from != "" {
			return Invalid("fromAccountId", ErrUnexpectedAccount)
		}
	case Transfer:
		if from == "" {
			return Invalid("fromAccountId", ErrMissingAccount)
		}
		if to == "" {
			return Invalid("toAccountId", ErrMissingAccount)
		}
		if from == to {
			return Invalid("toAccountId", ErrSameAccount)
		}
	default:
		return Invalid("type", ErrInvalidType)
	}

	if err := m.Amount.Validate(); err != nil {
		return Invalid("amount", err)
	}

	if m.AssetID != "" {
		if m.Type != Transfer {
			return Invalid("assetId", ErrAssetNotTransfer)
		}
		if !m.Units.IsPositive() {
			return Invalid("units", ErrInvalidUnits)
		}
	} else if !m.Units.IsZero() {
		return Invalid("units", ErrInvalidUnits)
	}

	if len(m.Payee) > maxTextLen {
		return Invalid("payee", ErrFieldTooLong)
	}
	if len(m.Number) > maxTextLen {
		return Invalid("number", ErrFieldTooLong)
	}
	return nil
}

// AccountIDs returns the referenced accounts, source first.
func (m Movement) AccountIDs() []string {
	ids := make([]string, 0, 2)
	if m.FromAccountID != "" {
		ids = append(ids, m.FromAccountID)
	}
	if m.ToAccountID != "" {
		ids = append(ids, m.ToAccountID)
	}
	return ids
}

func (t Transaction) Validate() error {
	if err := t.Movement.Validate(); err != nil {
		return err
	}
	if !t.Status.IsValid() {
		return Invalid("status", ErrInvalidStatus)
	}
	if t.TransactionDate.IsZero() {
		return Invalid("transactionDate", ErrMissingDate)
	}
	return nil
}

// Completed reports whether t contributes to balances.
func (t Transaction) Completed() bool {
	return t.Status == StatusCompleted
}

// Interval returns the recurrence multiplier with the unset default applied.
func (s ScheduledTransaction) Interval() int {
	if s.Value == 0 {
		return 1
	}
	return s.Value
}

func (s ScheduledTransaction) Validate() error {
	if err := s.Movement.Validate(); err != nil {
		return err
	}
	if !s.Pattern.IsValid() || !s.Pattern.ValidValue(s.Value) {
		return &InvalidRuleError{Pattern: s.Pattern, Value: s.Value}
	}
	if s.NextOccurrence.IsZero() {
		return Invalid("nextOccurrence", ErrMissingDate)
	}
	return nil
}

// Materialize builds the COMPLETED transaction a post of s produces.
func (s ScheduledTransaction) Materialize(id string, date time.Time) Transaction {
	m := s.Movement
	if m.Tags != nil {
		m.Tags = append([]string(nil), m.Tags...)
	}
	return Transaction{
		ID:              id,
		Movement:        m,
		Status:          StatusCompleted,
		TransactionDate: date,
		ScheduleID:      s.ID,
	}
}

func (a Asset) Validate() error {
	if strings.TrimSpace(a.Symbol) == "" {
		return Invalid("symbol", ErrEmptyName)
	}
	if !a.Type.IsValid() {
		return Invalid("type", ErrInvalidAssetType)
	}
	if !validCurrency(a.Currency) {
		return Invalid("currency", ErrInvalidCurrency)
	}
	return nil
}

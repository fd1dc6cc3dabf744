// Package core holds the ledger's value types, entities and error taxonomy.
//
// This file contains the fixed-point Money type and the parser used by the
// API and CLI to turn user input into amounts.
package core

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Money is a fixed-point decimal amount. The zero value is 0.
// Amounts are never held in floating point.
type Money struct {
	value decimal.Decimal
}

// NewMoney parses a canonical decimal string ("4500.00", "-12.5").
func NewMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("parse money %q: %w", s, err)
	}
	return Money{value: d}, nil
}

// MustMoney is NewMoney for literals; it panics on malformed input.
func MustMoney(s string) Money {
	m, err := NewMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MoneyFromCents builds an amount from an integer number of minor units.
func MoneyFromCents(cents int64) Money {
	return Money{value: decimal.New(cents, -2)}
}

// MoneyFromDecimal wraps an existing decimal value.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money{value: d}
}

// ParseAmount converts user input to a positive amount with two decimals.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and performs
// half-up rounding on the third decimal place. Signs, thousands separators and
// zero amounts are rejected with ErrInvalidAmount.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34
//	ParseAmount("12,345") -> 12.35
//	ParseAmount("-1")     -> ErrInvalidAmount
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return Money{}, ErrInvalidAmount
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return Money{}, ErrInvalidAmount
	}
	for _, part := range parts {
		for _, r := range part {
			if !unicode.IsDigit(r) {
				return Money{}, ErrInvalidAmount
			}
		}
	}
	if parts[0] == "" {
		s = "0" + s
	}
	d, err := decimal.NewFromString(strings.TrimSuffix(s, "."))
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	m := Money{value: d.Round(2)}
	if !m.IsPositive() {
		return Money{}, ErrInvalidAmount
	}
	return m, nil
}

// Decimal exposes the underlying decimal value.
func (m Money) Decimal() decimal.Decimal { return m.value }

func (m Money) Add(o Money) Money { return Money{value: m.value.Add(o.value)} }
func (m Money) Sub(o Money) Money { return Money{value: m.value.Sub(o.value)} }
func (m Money) Neg() Money        { return Money{value: m.value.Neg()} }

// Cmp returns -1, 0 or +1 comparing m with o.
func (m Money) Cmp(o Money) int { return m.value.Cmp(o.value) }

// Equal compares numerically, so 1.0 equals 1.00.
func (m Money) Equal(o Money) bool { return m.value.Equal(o.value) }

func (m Money) IsZero() bool     { return m.value.IsZero() }
func (m Money) IsPositive() bool { return m.value.IsPositive() }
func (m Money) IsNegative() bool { return m.value.IsNegative() }

// Cents returns the amount in minor units, rounded half-up. Used for log fields.
func (m Money) Cents() int64 {
	return m.value.Shift(2).Round(0).IntPart()
}

// Validate returns ErrInvalidAmount unless the amount is strictly positive.
func (m Money) Validate() error {
	if !m.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// String renders at least two decimals ("4500.00"); extra precision is kept.
func (m Money) String() string {
	if m.value.Exponent() < -2 {
		return m.value.String()
	}
	return m.value.StringFixed(2)
}

// MarshalJSON encodes the amount as a JSON string to avoid float rounding in clients.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts both quoted and bare JSON numbers.
func (m *Money) UnmarshalJSON(b []byte) error {
	return m.value.UnmarshalJSON(b)
}

// Value implements driver.Valuer; amounts are stored as decimal text.
func (m Money) Value() (driver.Value, error) {
	return m.value.String(), nil
}

// Scan implements sql.Scanner.
func (m *Money) Scan(src any) error {
	return m.value.Scan(src)
}

package core

import (
	"errors"
	"fmt"
)

// Taxonomy sentinels. Every typed error below matches exactly one of these
// through errors.Is.
var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrDisabledSchedule = errors.New("schedule is disabled")
	ErrInvalidRule      = errors.New("invalid recurrence rule")
	ErrConflict         = errors.New("conflict")
)

// Field-level causes carried inside a ValidationError.
var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidType       = errors.New("invalid transaction type")
	ErrInvalidStatus     = errors.New("invalid transaction status")
	ErrMissingAccount    = errors.New("required account is missing")
	ErrUnexpectedAccount = errors.New("account not allowed for this transaction type")
	ErrSameAccount       = errors.New("transfer source and destination must differ")
	ErrInvalidUnits      = errors.New("asset units must be positive")
	ErrAssetNotTransfer  = errors.New("asset acquisitions must be transfers")
	ErrMissingDate       = errors.New("date cannot be zero")
	ErrInvalidCurrency   = errors.New("currency must be a 3-letter ISO 4217 code")
	ErrEmptyName         = errors.New("empty name")
	ErrInvalidAssetType  = errors.New("invalid asset type")
	ErrFieldTooLong      = errors.New("field too long")
	ErrDuplicateID       = errors.New("id already exists")
	ErrEmptyID           = errors.New("id cannot be empty")
)

// ValidationError reports a malformed entity. Never retried.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() []error { return []error{ErrValidation, e.Err} }

// Invalid builds a ValidationError for field.
func Invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// NotFoundError reports an unknown entity id.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// DisabledScheduleError is returned by post and skip on a disabled schedule.
type DisabledScheduleError struct {
	ScheduleID string
}

func (e *DisabledScheduleError) Error() string {
	return fmt.Sprintf("schedule %q is disabled", e.ScheduleID)
}

func (e *DisabledScheduleError) Unwrap() error { return ErrDisabledSchedule }

// InvalidRuleError reports a recurrence rule that cannot be evaluated.
type InvalidRuleError struct {
	Pattern RecurrencePattern
	Value   int
}

func (e *InvalidRuleError) Error() string {
	if !e.Pattern.IsValid() {
		return fmt.Sprintf("unknown recurrence pattern %q", string(e.Pattern))
	}
	return fmt.Sprintf("recurrence value %d is invalid for pattern %s", e.Value, e.Pattern)
}

func (e *InvalidRuleError) Unwrap() error { return ErrInvalidRule }

// ConflictError means a unit of work could not acquire its locks in time or
// lost a concurrent edit. Nothing was committed, so the caller may retry.
type ConflictError struct {
	Op  string
	Err error
}

func (e *ConflictError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: conflict", e.Op)
	}
	return fmt.Sprintf("%s: conflict: %v", e.Op, e.Err)
}

func (e *ConflictError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConflict}
	}
	return []error{ErrConflict, e.Err}
}

// Conflict builds a ConflictError.
func Conflict(op string, err error) error {
	return &ConflictError{Op: op, Err: err}
}

// IsRetryable reports whether re-issuing the operation may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// Package recurrence computes due dates for scheduled transactions.
//
// Every rule is a pure function of (pattern, value, from). Nothing here reads
// the clock or touches storage, so previews and the scheduler share one
// implementation.
package recurrence

import (
	"time"

	"bilancio/internal/core"
)

// Advance returns the next occurrence strictly after from.
//
// value is the interval multiplier. It is ignored by BI_WEEKLY and the
// weekday-anchored patterns; for the other patterns a value <= 0 or above
// pattern.MaxValue() yields an *core.InvalidRuleError. The time of day and
// location of from are kept.
func Advance(pattern core.RecurrencePattern, value int, from time.Time) (time.Time, error) {
	if pattern.UsesValue() && (value <= 0 || value > pattern.MaxValue()) {
		return time.Time{}, &core.InvalidRuleError{Pattern: pattern, Value: value}
	}
	next, err := advance(pattern, value, from)
	if err != nil {
		return time.Time{}, err
	}
	// Dates near the edge of time.Time's range can still wrap.
	if !next.After(from) {
		return time.Time{}, &core.InvalidRuleError{Pattern: pattern, Value: value}
	}
	return next, nil
}

func advance(pattern core.RecurrencePattern, value int, from time.Time) (time.Time, error) {
	switch pattern {
	case core.Daily:
		return from.AddDate(0, 0, value), nil
	case core.Weekly:
		return from.AddDate(0, 0, 7*value), nil
	case core.BiWeekly:
		return from.AddDate(0, 0, 14), nil
	case core.Monthly:
		return addMonthsClamped(from, value), nil
	case core.MonthlyLastDay:
		y, m := shiftMonth(from.Year(), from.Month(), value)
		return withDate(from, y, m, daysIn(y, m)), nil
	case core.Yearly:
		return addMonthsClamped(from, 12*value), nil
	case core.EveryFriday:
		return nextWeekday(from, func(d time.Weekday) bool { return d == time.Friday }), nil
	case core.EverySaturday:
		return nextWeekday(from, func(d time.Weekday) bool { return d == time.Saturday }), nil
	case core.EveryWeekday:
		return nextWeekday(from, func(d time.Weekday) bool {
			return d != time.Saturday && d != time.Sunday
		}), nil
	default:
		return time.Time{}, &core.InvalidRuleError{Pattern: pattern, Value: value}
	}
}

// Occurrences returns the next n occurrences after from, in order.
func Occurrences(pattern core.RecurrencePattern, value int, from time.Time, n int) ([]time.Time, error) {
	out := make([]time.Time, 0, max(n, 0))
	cursor := from
	for i := 0; i < n; i++ {
		next, err := Advance(pattern, value, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, next)
		cursor = next
	}
	return out, nil
}

// DaysUntil counts calendar days from from to to, ignoring time of day.
// Both dates are read in from's location.
func DaysUntil(from, to time.Time) int {
	to = to.In(from.Location())
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// addMonthsClamped moves from by n months, clamping the day to the target
// month's length (Jan 31 + 1 month is Feb 28 or 29).
func addMonthsClamped(from time.Time, n int) time.Time {
	y, m := shiftMonth(from.Year(), from.Month(), n)
	return withDate(from, y, m, min(from.Day(), daysIn(y, m)))
}

func shiftMonth(year int, month time.Month, n int) (int, time.Month) {
	total := year*12 + int(month) - 1 + n
	return total / 12, time.Month(total%12 + 1)
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the following month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func withDate(from time.Time, year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), from.Location())
}

func nextWeekday(from time.Time, match func(time.Weekday) bool) time.Time {
	for i := 1; i <= 7; i++ {
		d := from.AddDate(0, 0, i)
		if match(d.Weekday()) {
			return d
		}
	}
	// unreachable: every predicate above matches at least one weekday
	return from.AddDate(0, 0, 7)
}

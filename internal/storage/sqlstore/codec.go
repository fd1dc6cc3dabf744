package sqlstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// Timestamps are stored as RFC 3339 text with their original offset, next to
// a UnixNano column used for ordering. Keeping the offset preserves calendar
// arithmetic (last day of month, weekdays) across a round trip.
const timeLayout = time.RFC3339Nano

// FormatTime renders t for a text column. The zero time renders as "".
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeLayout)
}

// ParseTime reverses FormatTime.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// EncodeTags stores tags as a JSON array.
func EncodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

// DecodeTags reverses EncodeTags. An empty list decodes to nil.
func DecodeTags(s string) ([]string, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return tags, nil
}

// NullString maps "" to SQL NULL for optional foreign keys.
func NullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"bilancio/internal/core"
)

const (
	maxBodyBytes   = 1 << 20
	maxPreviewSize = 100
	dateLayout     = "2006-01-02"
)

var (
	errEmptyBody       = errors.New("request body is empty")
	errTrailingData    = errors.New("request body must hold a single JSON object")
	errInvalidInteger  = errors.New("must be an integer")
	errInvalidDate     = errors.New("must be a date (YYYY-MM-DD) or an RFC 3339 timestamp")
	errInvalidDuration = errors.New("must be a duration such as 72h")
	errOutOfRange      = fmt.Errorf("must be between 0 and %d", maxPreviewSize)
)

// decodeJSON reads a single JSON object into dst. Unknown fields are
// rejected so typos do not silently drop data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &badRequest{err: errEmptyBody}
		}
		return &badRequest{err: fmt.Errorf("decode body: %w", err)}
	}
	if dec.More() {
		return &badRequest{err: errTrailingData}
	}
	return nil
}

// pathID returns the trimmed {id} route parameter.
func pathID(r *http.Request) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		return "", core.Invalid("id", core.ErrEmptyID)
	}
	return id, nil
}

// queryInt parses an optional integer query parameter.
func queryInt(q url.Values, key string, def int) (int, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, core.Invalid(key, errInvalidInteger)
	}
	return n, nil
}

// queryCount parses an occurrence count bounded to [0, maxPreviewSize].
func queryCount(q url.Values, key string, def int) (int, error) {
	n, err := queryInt(q, key, def)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > maxPreviewSize {
		return 0, core.Invalid(key, errOutOfRange)
	}
	return n, nil
}

// queryTime accepts a calendar date (midnight UTC) or a full RFC 3339 time.
func queryTime(q url.Values, key string, def time.Time) (time.Time, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return def, nil
	}
	if t, err := time.Parse(dateLayout, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, core.Invalid(key, errInvalidDate)
	}
	return t, nil
}

func queryDuration(q url.Values, key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, core.Invalid(key, errInvalidDuration)
	}
	return d, nil
}

// queryList splits a comma-separated parameter, dropping empty items.
func queryList(q url.Values, key string) []string {
	var out []string
	for _, raw := range q[key] {
		for part := range strings.SplitSeq(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

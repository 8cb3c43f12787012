package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tatimblin/aptitude/internal/canonical"
	"github.com/tatimblin/aptitude/internal/trace"
)

// timeLayout is used for every stored timestamp. Fixed width keeps
// lexical and chronological order identical.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// marshalParams converts params to canonical JSON TEXT for storage.
// Keys are sorted, so record order is not preserved.
func marshalParams(p trace.Params) (string, error) {
	data, err := canonical.Marshal(p.Map())
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	return string(data), nil
}

// unmarshalParams parses stored params. Numbers stay json.Number.
func unmarshalParams(data string) (trace.Params, error) {
	var p trace.Params
	if data == "" {
		return p, nil
	}
	if err := p.UnmarshalJSON([]byte(data)); err != nil {
		return trace.Params{}, fmt.Errorf("unmarshal params: %w", err)
	}
	return p, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

package util

import (
	"strconv"
	"time"
)

// ParseMillis parses a query-string value as integer milliseconds since
// epoch. Returns (0, false) when empty, (v, true) when valid.
func ParseMillis(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// DateTag formats a UTC calendar date as YYYYMMDD. Model artifact names
// encode only this tag, never the hour.
func DateTag(t time.Time) string {
	return t.UTC().Format("20060102")
}

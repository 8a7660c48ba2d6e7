package http

import (
	xutil "klinecast/pkg/util"
)

// ParseIntDefault parses string to int or returns default if empty/invalid.
func ParseIntDefault(s string, def int) int { return xutil.ParseIntDefault(s, def) }

// ParseMillis parses a milliseconds-since-epoch query value.
func ParseMillis(s string) (int64, bool) { return xutil.ParseMillis(s) }

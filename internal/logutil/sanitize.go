package logutil

import "strings"

// SanitizeForLog flattens user- or agent-supplied text onto a single line so
// it cannot forge extra log entries. Newlines and tabs become spaces; other
// control characters are dropped.
func SanitizeForLog(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		case r < 32 || r == 127:
			return -1
		}
		return r
	}, s)
}

// Truncate shortens s to at most n bytes for log output, marking the cut.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}

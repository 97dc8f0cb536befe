package helpers

import (
	"strings"
)

// CleanText trims s and collapses inner runs of whitespace to a single space.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FirstField returns the first whitespace-separated token of s.
func FirstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

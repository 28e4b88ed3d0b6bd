package util

import (
	"strings"
	"unicode"
)

// Slug lowercases value and replaces every whitespace rune with a dash.
// "Q3 Report.pdf" becomes "q3-report.pdf".
func Slug(value string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '-'
		}
		return unicode.ToLower(r)
	}, value)
}

// SplitTags parses a comma separated tag list. Tags are trimmed and
// lowercased; empty entries are dropped.
func SplitTags(raw string) []string {
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		tag := strings.ToLower(strings.TrimSpace(part))
		if tag == "" {
			continue
		}
		tags = append(tags, tag)
	}
	return tags
}

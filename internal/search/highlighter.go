package search

import (
	"strings"
	"unicode"
)

// Highlight returns an excerpt of at most about maxLen bytes, centred on the first
// occurrence of a query term and cut at word boundaries. Ellipses mark trimmed ends.
func Highlight(content, query string, maxLen int) string {
	if maxLen <= 0 || len(content) <= maxLen {
		return content
	}
	lower := strings.ToLower(content)
	pos := -1
	for _, term := range strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if i := strings.Index(lower, term); i >= 0 && (pos < 0 || i < pos) {
			pos = i
		}
	}

	start := 0
	if pos > maxLen/3 {
		start = pos - maxLen/3
	}
	end := start + maxLen
	if end > len(content) {
		end = len(content)
		start = end - maxLen
		if start < 0 {
			start = 0
		}
	}
	// Snap to word boundaries so the excerpt never starts or ends mid-word.
	if start > 0 {
		if i := strings.IndexByte(content[start:end], ' '); i >= 0 {
			start += i + 1
		}
	}
	if end < len(content) {
		if i := strings.LastIndexByte(content[start:end], ' '); i > 0 {
			end = start + i
		}
	}

	excerpt := strings.TrimSpace(content[start:end])
	if start > 0 {
		excerpt = "..." + excerpt
	}
	if end < len(content) {
		excerpt += "..."
	}
	return excerpt
}

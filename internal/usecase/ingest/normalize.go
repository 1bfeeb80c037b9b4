package ingest

import (
	"strings"
	"unicode"
)

// Normalize cleans text before chunking: line separators become \n, exotic
// spaces become ' ', and control characters other than \n and \t are dropped.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '\n' || r == '\t':
			sb.WriteRune(r)
		case r == '\r' || r == '\u2028' || r == '\u2029':
			sb.WriteByte('\n')
		case r == '\ufeff' || r == '\u200b':
			// zero-width: drop
		case unicode.IsSpace(r):
			sb.WriteByte(' ')
		case unicode.IsControl(r):
		default:
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}

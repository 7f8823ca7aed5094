// Package keys builds the Redis keys the subscription store writes.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const prefix = "kml"

// Subscription keys a subscription record. The readable part is sanitized
// and truncated; the hash suffix keeps distinct ids apart.
func Subscription(id string) string {
	raw := strings.TrimSpace(id)
	safe := sanitize(raw)

	const maxIDTextLen = 96
	if len(safe) > maxIDTextLen {
		safe = safe[:maxIDTextLen]
	}
	return fmt.Sprintf("%s:sub:%s:h=%016x", prefix, safe, xxhash.Sum64String(raw))
}

// Cell keys the set of subscription ids whose area covers an H3 cell.
func Cell(res int, cell string) string {
	return fmt.Sprintf("%s:cell:%d:%s", prefix, res, sanitize(strings.ToLower(strings.TrimSpace(cell))))
}

// Cells maps Cell over a list of cells at one resolution.
func Cells(res int, cells []string) []string {
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		out = append(out, Cell(res, c))
	}
	return out
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case unicode.IsSpace(r):
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// anything else, including ':' and non-ASCII, becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}

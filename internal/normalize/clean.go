package normalize

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CleanString repairs invalid UTF-8, NFC-normalizes, turns line breaks and
// tabs into spaces, drops every other control character (including NUL) and
// trims the result.
func CleanString(s string) string {
	if s == "" {
		return ""
	}
	t := transform.Chain(
		runes.ReplaceIllFormed(),
		norm.NFC,
		runes.Map(func(r rune) rune {
			if r == '\n' || r == '\r' || r == '\t' {
				return ' '
			}
			return r
		}),
		runes.Remove(runes.In(unicode.Cc)),
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = strings.Map(func(r rune) rune {
			if unicode.IsControl(r) {
				return -1
			}
			return r
		}, s)
	}
	return strings.TrimSpace(out)
}

var dateLayouts = []string{
	"1/2/2006 3:04:05 PM",
	"1/2/2006 3:04 PM",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses export date strings. The time of day is discarded.
func ParseDate(s string) (time.Time, bool) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// NormalizeDate returns YYYY-MM-DD, or "" when s is empty or unparseable.
func NormalizeDate(s string) string {
	t, ok := ParseDate(s)
	if !ok {
		return ""
	}
	return t.Format("2006-01-02")
}

// NormalizeDateTime returns YYYY-MM-DDT00:00:00Z, or "" when s is empty or
// unparseable.
func NormalizeDateTime(s string) string {
	t, ok := ParseDate(s)
	if !ok {
		return ""
	}
	return t.Format("2006-01-02T15:04:05Z")
}

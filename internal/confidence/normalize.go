package confidence

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// dateLayouts lists the formats accepted for date-kind fields, tried in order.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"20060102",
}

// NormalizeText folds case, applies NFKC compatibility normalization, and
// collapses runs of whitespace, so "  ACME  Health\tClinic" and
// "acme health clinic" compare equal.
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeIdentifier trims surrounding whitespace only; identifiers must
// otherwise match exactly.
func NormalizeIdentifier(s string) string {
	return strings.TrimSpace(s)
}

// ParseDate parses s using the accepted date layouts.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

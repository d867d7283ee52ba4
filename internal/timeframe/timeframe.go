// Package timeframe normalizes time ranges for retrieval filtering and
// extracts natural-language temporal phrases ("in the last 2 weeks",
// "yesterday", "since March") from query text. The matched phrase is
// removed from the query so the retrievers see only the topical part.
package timeframe

import (
	"strings"
	"time"

	"github.com/Aman-CERP/corpora/internal/errors"
)

// Range is a half-open time window [Start, End). A zero Start or End
// means that side is unbounded.
type Range struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether both bounds are unset.
func (r Range) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Contains reports whether t falls inside the range, honoring open sides.
func (r Range) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && !t.Before(r.End) {
		return false
	}
	return true
}

// Extraction is the outcome of parsing a query for a temporal phrase.
type Extraction struct {
	// Range is the normalized window, nil when no phrase matched.
	Range *Range
	// Cleaned is the query with the temporal phrase removed and
	// whitespace/punctuation collapsed.
	Cleaned string
	// Expression is the exact phrase that matched, "" when none.
	Expression string
}

// Extract scans query for the first temporal phrase (patterns are ordered,
// first match wins), removes it, and returns the normalized range.
func Extract(query string, now time.Time) Extraction {
	for _, p := range patterns {
		loc := p.re.FindStringSubmatchIndex(query)
		if loc == nil {
			continue
		}

		match := p.re.FindStringSubmatch(query)
		r := p.build(match, now)
		if r == nil {
			continue
		}

		expression := strings.TrimSpace(query[loc[0]:loc[1]])
		cleaned := cleanRemainder(query[:loc[0]], query[loc[1]:])
		return Extraction{Range: r, Cleaned: cleaned, Expression: expression}
	}

	return Extraction{Cleaned: strings.TrimSpace(query)}
}

// ParseExpression normalizes an explicit natural-language timeframe string
// ("last week", "2 days ago"). The whole input must denote a timeframe.
func ParseExpression(expr string, now time.Time) (*Range, error) {
	ext := Extract(expr, now)
	if ext.Range == nil {
		return nil, errors.TimeframeError("unrecognized timeframe: "+expr, nil)
	}
	return ext.Range, nil
}

// ExpandDay expands a date to that entire local day.
func ExpandDay(t time.Time) Range {
	start := midnight(t)
	return Range{Start: start, End: start.AddDate(0, 0, 1)}
}

// cleanRemainder joins the text around a removed phrase, collapsing
// whitespace and punctuation stranded next to the cut.
func cleanRemainder(before, after string) string {
	joined := strings.TrimSpace(before) + " " + strings.TrimSpace(after)
	joined = strings.Join(strings.Fields(joined), " ")
	joined = strings.Trim(joined, " ,;:.-")
	// A cut can strand punctuation after a space ("postgres ?" -> "postgres?").
	for _, p := range []string{" ,", " .", " ;", " :", " ?", " !"} {
		joined = strings.ReplaceAll(joined, p, p[1:])
	}
	return strings.TrimSpace(joined)
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

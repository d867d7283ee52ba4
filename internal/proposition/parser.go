// Package proposition filters raw model output into standalone factual
// statements. Model responses arrive as free text or bullet lists and
// frequently include refusals and filler ("please provide the text"),
// which must never be stored as document knowledge.
package proposition

import (
	"regexp"
	"strings"
)

const (
	// MinLength and MaxLength bound a single proposition in bytes.
	MinLength = 10
	MaxLength = 1000
	// MinWords is the minimum whitespace-separated word count.
	MinWords = 5
)

var (
	bulletPrefix = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)
	alphaRun     = regexp.MustCompile(`[a-zA-Z]{3,}`)

	// metaPatterns catch model meta-responses instead of content. Matched
	// case-insensitively anywhere in the candidate.
	metaPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)please\s+provide`),
		regexp.MustCompile(`(?i)i\s+need\s+the\s+text`),
		regexp.MustCompile(`(?i)i\s+need\s+(?:more|additional)\s+(?:context|information)`),
		regexp.MustCompile(`(?i)waiting\s+for`),
		regexp.MustCompile(`(?i)no\s+text\s+(?:was\s+)?provided`),
		regexp.MustCompile(`(?i)i\s+(?:cannot|can't|am\s+unable\s+to)`),
		regexp.MustCompile(`(?i)as\s+an\s+ai`),
		regexp.MustCompile(`(?i)here\s+(?:are|is)\s+the`),
		regexp.MustCompile(`(?i)^(?:sure|okay|certainly)[,!.]`),
		regexp.MustCompile(`(?i)the\s+text\s+(?:you|to)\s+(?:provided|analyze)`),
	}
)

// Parse splits raw model output into validated propositions, preserving
// order and dropping duplicates.
func Parse(raw string) []string {
	return ParseAll([]string{raw})
}

// ParseAll handles output that already arrives as a list. Each element is
// further split on newlines before validation.
func ParseAll(raw []string) []string {
	seen := make(map[string]bool)
	var out []string

	for _, block := range raw {
		for _, line := range strings.Split(block, "\n") {
			candidate := strings.TrimSpace(bulletPrefix.ReplaceAllString(line, ""))
			if !valid(candidate) || seen[candidate] {
				continue
			}
			seen[candidate] = true
			out = append(out, candidate)
		}
	}

	return out
}

// Valid reports whether a single statement passes all proposition checks.
func Valid(s string) bool {
	return valid(strings.TrimSpace(s))
}

func valid(s string) bool {
	if len(s) < MinLength || len(s) > MaxLength {
		return false
	}
	if !alphaRun.MatchString(s) {
		return false
	}
	if len(strings.Fields(s)) < MinWords {
		return false
	}
	for _, p := range metaPatterns {
		if p.MatchString(s) {
			return false
		}
	}
	return true
}

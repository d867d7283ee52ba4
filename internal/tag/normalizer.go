// Package tag validates and normalizes colon-hierarchical tags such as
// "database:postgresql:jsonb". Raw extractor output passes through the
// normalizer before any Tag row is created; hierarchy math (depth, parent,
// ancestor prefixes) lives here so the store can chain-create ancestors.
package tag

import (
	"regexp"
	"strings"
)

// DefaultMaxDepth is the maximum number of levels in a tag path.
const DefaultMaxDepth = 4

// Separator joins hierarchy levels in a tag name.
const Separator = ":"

// namePattern is the validity regex every normalized tag must match.
var namePattern = regexp.MustCompile(`^[a-z0-9-]+(:[a-z0-9-]+)*$`)

// protectedWords are terms that look plural but must never be singularized.
// Mostly uncountables and tech names that happen to end in "s".
var protectedWords = map[string]bool{
	"analysis": true, "basis": true, "axis": true, "thesis": true,
	"series": true, "species": true, "news": true, "status": true,
	"kubernetes": true, "redis": true, "postgres": true, "nats": true,
	"jenkins": true, "ios": true, "macos": true, "windows": true,
	"devops": true, "nodejs": true, "dns": true, "tls": true,
	"https": true, "cors": true, "aws": true, "saas": true,
	"ops": true, "its": true,
}

// Normalizer validates and normalizes raw tags.
type Normalizer struct {
	maxDepth int
}

// NewNormalizer creates a normalizer with the given maximum depth.
// A non-positive maxDepth uses DefaultMaxDepth.
func NewNormalizer(maxDepth int) *Normalizer {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Normalizer{maxDepth: maxDepth}
}

// Normalize processes each raw tag independently and returns the valid,
// de-duplicated survivors in input order.
func (n *Normalizer) Normalize(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))

	for _, r := range raw {
		name, ok := n.NormalizeOne(r)
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}

	return out
}

// NormalizeOne normalizes a single raw tag. Returns the normalized name
// and whether the tag is valid.
func (n *Normalizer) NormalizeOne(raw string) (string, bool) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		return "", false
	}

	levels := strings.Split(name, Separator)
	for i, level := range levels {
		levels[i] = singularize(strings.TrimSpace(level))
	}
	name = strings.Join(levels, Separator)

	if !namePattern.MatchString(name) {
		return "", false
	}
	if len(levels) > n.maxDepth {
		return "", false
	}
	if hasDuplicateLevels(levels) {
		return "", false
	}
	// Self-containment: a path whose root equals its leaf says nothing.
	if len(levels) > 1 && levels[0] == levels[len(levels)-1] {
		return "", false
	}

	return name, true
}

// singularize converts an English plural level to its singular form when
// that is safe: protected words, short words, and -ics/-ous/-ss endings
// are kept, as are words whose singular would be more than 2 chars shorter.
func singularize(level string) string {
	if protectedWords[level] {
		return level
	}
	if len(level) <= 2 || !strings.HasSuffix(level, "s") {
		return level
	}
	if strings.HasSuffix(level, "ics") ||
		strings.HasSuffix(level, "ous") ||
		strings.HasSuffix(level, "ss") {
		return level
	}

	singular := stripPlural(level)
	if len(singular) == 0 || len(level)-len(singular) > 2 {
		return level
	}
	return singular
}

// stripPlural applies basic English plural rules.
func stripPlural(word string) string {
	switch {
	case strings.HasSuffix(word, "ies") && len(word) > 3:
		return word[:len(word)-3] + "y"
	case strings.HasSuffix(word, "xes"), strings.HasSuffix(word, "zes"),
		strings.HasSuffix(word, "ches"), strings.HasSuffix(word, "shes"):
		return word[:len(word)-2]
	default:
		return word[:len(word)-1]
	}
}

// hasDuplicateLevels reports whether any level repeats within the path.
func hasDuplicateLevels(levels []string) bool {
	seen := make(map[string]bool, len(levels))
	for _, l := range levels {
		if seen[l] {
			return true
		}
		seen[l] = true
	}
	return false
}

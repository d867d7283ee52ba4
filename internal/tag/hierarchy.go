package tag

import (
	"strings"
)

// Levels splits a tag name into its hierarchy levels.
func Levels(name string) []string {
	return strings.Split(name, Separator)
}

// Depth returns the 0-based depth of a tag name (root = 0).
func Depth(name string) int {
	return strings.Count(name, Separator)
}

// ParentName returns the immediate parent path, or "" for a root tag.
func ParentName(name string) string {
	idx := strings.LastIndex(name, Separator)
	if idx < 0 {
		return ""
	}
	return name[:idx]
}

// AncestorPrefixes returns every prefix path from root to the tag itself,
// in root-first order. "a:b:c" yields ["a", "a:b", "a:b:c"].
func AncestorPrefixes(name string) []string {
	levels := Levels(name)
	prefixes := make([]string, len(levels))
	for i := range levels {
		prefixes[i] = strings.Join(levels[:i+1], Separator)
	}
	return prefixes
}

// IsValid reports whether a name already matches the normalized form.
func IsValid(name string) bool {
	return namePattern.MatchString(name)
}

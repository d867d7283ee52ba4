package embed

import (
	"math"
	"regexp"
	"strings"
)

var (
	spaceRun   = regexp.MustCompile(`[ \t]+`)
	newlineRun = regexp.MustCompile(`\n{2,}`)
)

// Clean normalizes text before embedding: trims, converts tabs to spaces,
// collapses runs of spaces, collapses blank-line runs to a single newline,
// and truncates to MaxCleanLength. Clean is idempotent.
func Clean(text string) string {
	if text == "" {
		return ""
	}

	cleaned := strings.ReplaceAll(text, "\r\n", "\n")
	cleaned = spaceRun.ReplaceAllString(cleaned, " ")
	cleaned = newlineRun.ReplaceAllString(cleaned, "\n")
	cleaned = strings.TrimSpace(cleaned)

	if len(cleaned) > MaxCleanLength {
		cleaned = cleaned[:MaxCleanLength]
		cleaned = strings.TrimSpace(cleaned)
	}

	return cleaned
}

// Cosine computes cosine similarity in [-1, 1].
// Returns 0 when shapes differ or either vector has zero magnitude.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}

	if magA == 0 || magB == 0 {
		return 0
	}

	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

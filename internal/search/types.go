// Package search is the hybrid retrieval engine: three concurrent
// candidate channels (dense-vector cosine, lexical full-text with trigram
// fallback, hierarchical-tag match) fused with reciprocal rank fusion.
package search

import (
	"github.com/Aman-CERP/corpora/internal/timeframe"
)

// Limits and defaults for the query orchestrator.
const (
	DefaultLimit          = 10
	MaxLimit              = 1000
	DefaultCandidateLimit = 100
	// CandidateMultiplier widens each channel's cap so fusion can re-rank
	// beyond the final limit.
	CandidateMultiplier = 3
)

// Search types recorded on the tracking row.
const (
	TypeHybrid               = "hybrid"
	TypeSemantic             = "semantic"
	TypeFulltext             = "fulltext"
	TypeTextFallback         = "text_fallback"
	TypeSemanticWithKeywords = "semantic_with_keywords"
)

// Filters are consumed by all three channels.
type Filters struct {
	// DocumentType keeps only chunks of documents with this exact type.
	DocumentType string `json:"document_type,omitempty"`
	// Keywords keeps only chunks whose document keywords overlap this set.
	Keywords []string `json:"keywords,omitempty"`
}

// Request is one search invocation.
type Request struct {
	Query string
	Limit int
	// CandidateLimit caps each channel before fusion; 0 means
	// DefaultCandidateLimit. The effective cap is multiplied by
	// CandidateMultiplier.
	CandidateLimit int
	// Tags feed the tag channel; empty disables it.
	Tags    []string
	Filters Filters
	// Timeframe overrides natural-language extraction when set.
	Timeframe *timeframe.Range
	// TimeframeExpr is an explicit expression ("last week"). Empty or
	// "auto" extracts the temporal phrase from Query instead.
	TimeframeExpr string
	// Threshold drops fused hits whose similarity falls below it.
	Threshold float64

	SessionID       string
	UserID          string
	DisableTracking bool
}

// Statistics reports per-channel hit counts and degradations alongside the
// fused results.
type Statistics struct {
	VectorHits    int      `json:"vector_hits"`
	FulltextHits  int      `json:"fulltext_hits"`
	TagHits       int      `json:"tag_hits"`
	MinSimilarity float64  `json:"min_similarity"`
	MaxSimilarity float64  `json:"max_similarity"`
	AvgSimilarity float64  `json:"avg_similarity"`
	Degraded      []string `json:"degraded,omitempty"`
	CleanedQuery  string   `json:"cleaned_query,omitempty"`
	TimeframeExpr string   `json:"timeframe_expression,omitempty"`
}

// Response is the search outcome.
type Response struct {
	Results         []*Hit     `json:"results"`
	Statistics      Statistics `json:"statistics"`
	ExecutionTimeMS int64      `json:"execution_time_ms"`
	SearchID        string     `json:"search_id,omitempty"`
}

// clampLimit bounds the result limit to [1, MaxLimit].
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// effectiveCandidateLimit applies the default and the fusion headroom
// multiplier.
func effectiveCandidateLimit(limit int) int {
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}
	return limit * CandidateMultiplier
}

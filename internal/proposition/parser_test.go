package proposition

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_BulletsAndNumbers(t *testing.T) {
	raw := `- PostgreSQL supports JSONB indexing with GIN indexes.
* Query planning uses table statistics collected by ANALYZE.
1. Connection pooling reduces per-query connection overhead.
2) WAL archiving enables point-in-time recovery for clusters.`

	got := Parse(raw)
	assert.Equal(t, []string{
		"PostgreSQL supports JSONB indexing with GIN indexes.",
		"Query planning uses table statistics collected by ANALYZE.",
		"Connection pooling reduces per-query connection overhead.",
		"WAL archiving enables point-in-time recovery for clusters.",
	}, got)
}

func TestParse_RejectsMetaResponses(t *testing.T) {
	raw := `Please provide the text you would like me to analyze.
I cannot extract propositions without more information.
Here are the propositions extracted from the document:
The indexing subsystem rebuilds trigram tables during compaction.`

	got := Parse(raw)
	assert.Equal(t, []string{
		"The indexing subsystem rebuilds trigram tables during compaction.",
	}, got)
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   string
		ok   bool
	}{
		{"too short", "tiny", false},
		{"too few words", "postgresql-supports-jsonb-indexing", false},
		{"no alpha run", "1 2 3 4 5 6 7 8 9", false},
		{"valid", "The scheduler retries failed enrichment steps twice.", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, Valid(tt.in))
		})
	}
}

func TestParseAll_DeduplicatesPreservingOrder(t *testing.T) {
	got := ParseAll([]string{
		"The cache evicts entries using an LRU policy.",
		"Writes go through the write-ahead log first.",
		"The cache evicts entries using an LRU policy.",
	})
	assert.Equal(t, []string{
		"The cache evicts entries using an LRU policy.",
		"Writes go through the write-ahead log first.",
	}, got)
}

func TestParse_EmptyInput(t *testing.T) {
	assert.Empty(t, Parse(""))
	assert.Empty(t, Parse("   \n\n  "))
}

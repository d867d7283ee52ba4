package tag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_Survivors(t *testing.T) {
	n := NewNormalizer(DefaultMaxDepth)

	raw := []string{
		"Database:PostgreSQL:JSONB",
		"ai:llm:llm",   // duplicate segment
		"ai:ai",        // root equals leaf
		"ai:llm:embeddings",
		"bad tag",      // whitespace fails the regex
	}

	got := n.Normalize(raw)
	assert.Equal(t, []string{"database:postgresql:jsonb", "ai:llm:embedding"}, got)
}

func TestNormalizeOne(t *testing.T) {
	n := NewNormalizer(DefaultMaxDepth)

	tests := []struct {
		name  string
		raw   string
		want  string
		valid bool
	}{
		{"lowercases", "Go:Concurrency", "go:concurrency", true},
		{"singularizes trailing s", "databases:indexes", "database:index", true},
		{"ies to y", "topic:libraries", "topic:library", true},
		{"keeps ics", "math:statistics", "math:statistics", true},
		{"keeps ss", "devtools:css", "devtools:css", true},
		{"keeps ous", "word:famous", "word:famous", true},
		{"protected word", "data:analysis", "data:analysis", true},
		{"protected tech name", "infra:kubernetes", "infra:kubernetes", true},
		{"short word kept", "a:os", "a:os", true},
		{"hyphen ok", "machine-learning:deep-learning", "machine-learning:deep-learning", true},
		{"rejects whitespace", "bad tag", "", false},
		{"rejects uppercase leftovers", "a:b!", "", false},
		{"rejects empty", "", "", false},
		{"rejects empty level", "a::b", "", false},
		{"rejects duplicate level", "ai:llm:llm", "", false},
		{"rejects self-containment", "ai:ai", "", false},
		{"rejects beyond max depth", "a:b:c:d:e", "", false},
		{"accepts at max depth", "a:b:c:d", "a:b:c:d", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := n.NormalizeOne(tt.raw)
			assert.Equal(t, tt.valid, ok)
			if tt.valid {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestNormalize_Deduplicates(t *testing.T) {
	n := NewNormalizer(DefaultMaxDepth)
	got := n.Normalize([]string{"go:channels", "Go:Channels", "go:channel"})
	assert.Equal(t, []string{"go:channel"}, got)
}

func TestSingularize_LengthGuard(t *testing.T) {
	// A singular more than 2 chars shorter keeps the original; a plain
	// trailing-s strip within the bound goes through.
	assert.Equal(t, "database", singularize("databases"))
	assert.Equal(t, "library", singularize("libraries"))
	assert.Equal(t, "index", singularize("indexes"))
}

func TestHierarchy(t *testing.T) {
	assert.Equal(t, 0, Depth("database"))
	assert.Equal(t, 2, Depth("database:postgresql:jsonb"))

	assert.Equal(t, "", ParentName("database"))
	assert.Equal(t, "database:postgresql", ParentName("database:postgresql:jsonb"))

	prefixes := AncestorPrefixes("database:postgresql:jsonb")
	require.Equal(t, []string{
		"database",
		"database:postgresql",
		"database:postgresql:jsonb",
	}, prefixes)

	assert.True(t, IsValid("a:b-c:d0"))
	assert.False(t, IsValid("A:b"))
}

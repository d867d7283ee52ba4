// Package store is the persistence layer: document metadata and search
// tracking in SQLite, chunk vectors in an HNSW graph, and chunk text in a
// bleve full-text index with an in-memory trigram fallback.
package store

import (
	"time"
)

// Document lifecycle statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusError      = "error"
)

// Chunk content types.
const (
	ChunkTypeText  = "text"
	ChunkTypeImage = "image"
	ChunkTypeAudio = "audio"
)

// Tag association sources.
const (
	TagSourceAuto   = "auto"
	TagSourceManual = "manual"
)

// Well-known document metadata keys.
const (
	MetaFileHash         = "file_hash"
	MetaFileSize         = "file_size"
	MetaContentHash      = "content_hash"
	MetaSummary          = "summary"
	MetaKeywords         = "keywords"
	MetaErrors           = "errors"
	MetaConversionMethod = "conversion_method"
)

// Document is one ingested source. Metadata is a sparse JSON mapping
// carrying file hashes, generated summary/keywords, and enrichment errors.
type Document struct {
	ID             string         `json:"id"`
	Location       string         `json:"location"`
	Title          string         `json:"title"`
	DocumentType   string         `json:"document_type"`
	Status         string         `json:"status"`
	FileModifiedAt time.Time      `json:"file_modified_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// MetaString reads a string-valued metadata key, "" when absent.
func (d *Document) MetaString(key string) string {
	if d.Metadata == nil {
		return ""
	}
	s, _ := d.Metadata[key].(string)
	return s
}

// MetaInt64 reads an integer-valued metadata key, 0 when absent. JSON
// round-trips numbers as float64, so both encodings are accepted.
func (d *Document) MetaInt64(key string) int64 {
	if d.Metadata == nil {
		return 0
	}
	switch v := d.Metadata[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Keywords returns the generated keyword list from metadata.
func (d *Document) Keywords() []string {
	if d.Metadata == nil {
		return nil
	}
	switch v := d.Metadata[MetaKeywords].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// SetMeta sets a metadata key, allocating the map on first use.
func (d *Document) SetMeta(key string, value any) {
	if d.Metadata == nil {
		d.Metadata = make(map[string]any)
	}
	d.Metadata[key] = value
}

// Content is the canonical text payload of a Document; exactly one per
// document in the unified model.
type Content struct {
	ID                string         `json:"id"`
	DocumentID        string         `json:"document_id"`
	Text              string         `json:"content"`
	OriginalMediaType string         `json:"original_media_type"`
	EmbeddingModel    string         `json:"embedding_model"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// ChunkEmbedding is one chunk of a Content with its vector. DocumentID is
// denormalized so retrieval filters avoid a join through contents.
type ChunkEmbedding struct {
	ID             string         `json:"id"`
	ContentID      string         `json:"content_id"`
	DocumentID     string         `json:"document_id"`
	ChunkIndex     int            `json:"chunk_index"`
	Text           string         `json:"text"`
	Vector         []float32      `json:"-"`
	ContentType    string         `json:"content_type"`
	EmbeddingModel string         `json:"embedding_model"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Tag is a hierarchical category node. Name is the full colon-joined path;
// depth and parent are derived from the name on write.
type Tag struct {
	Name       string    `json:"name"`
	ParentName string    `json:"parent_name,omitempty"`
	Depth      int       `json:"depth"`
	UsageCount int       `json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// TagAssociation links a Document or ChunkEmbedding to a Tag.
type TagAssociation struct {
	OwnerID    string  `json:"owner_id"`
	TagName    string  `json:"tag_name"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Proposition is an atomic factual sentence extracted from a chunk.
type Proposition struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"document_id"`
	SourceChunkID string    `json:"source_chunk_id,omitempty"`
	Content       string    `json:"content"`
	Vector        []float32 `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// Search is a recorded query with aggregate outcome statistics.
type Search struct {
	ID              string         `json:"id"`
	Query           string         `json:"query"`
	SearchType      string         `json:"search_type"`
	ResultsCount    int            `json:"results_count"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	Filters         map[string]any `json:"filters,omitempty"`
	Options         map[string]any `json:"options,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
	UserID          string         `json:"user_id,omitempty"`
	MinSimilarity   float64        `json:"min_similarity"`
	MaxSimilarity   float64        `json:"max_similarity"`
	AvgSimilarity   float64        `json:"avg_similarity"`
	CreatedAt       time.Time      `json:"created_at"`
}

// SearchResult is one ranked hit of a recorded Search.
type SearchResult struct {
	SearchID        string    `json:"search_id"`
	ChunkID         string    `json:"chunk_id"`
	Rank            int       `json:"rank"`
	SimilarityScore float64   `json:"similarity_score"`
	Clicked         bool      `json:"clicked"`
	ClickedAt       time.Time `json:"clicked_at,omitzero"`
}

// ChunkWithDocument pairs a chunk with the document fields the retrieval
// filters consume (type, keywords, created_at).
type ChunkWithDocument struct {
	Chunk        *ChunkEmbedding
	DocumentType string
	Keywords     []string
	DocCreatedAt time.Time
}

// TaggedChunk is a tag-channel candidate: a chunk plus the query tags it
// matched.
type TaggedChunk struct {
	ChunkID     string
	MatchedTags []string
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDocumentLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := &Document{
		Location:       "/docs/notes.md",
		Title:          "notes",
		DocumentType:   "markdown",
		FileModifiedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Metadata:       map[string]any{MetaFileHash: "abc123", MetaFileSize: int64(512)},
	}
	require.NoError(t, s.SaveDocument(ctx, doc))
	require.NotEmpty(t, doc.ID)
	assert.Equal(t, StatusPending, doc.Status)

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "/docs/notes.md", got.Location)
	assert.Equal(t, "abc123", got.MetaString(MetaFileHash))
	assert.Equal(t, int64(512), got.MetaInt64(MetaFileSize))

	got.Status = StatusProcessed
	got.SetMeta(MetaSummary, "short summary")
	require.NoError(t, s.UpdateDocument(ctx, got))

	got, err = s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, got.Status)
	assert.Equal(t, "short summary", got.MetaString(MetaSummary))

	deleted, err := s.DeleteDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	got, err = s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	deleted, err = s.DeleteDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDocumentLocationLookups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mod := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)
	doc := &Document{Location: "/a/b.txt", FileModifiedAt: mod, DocumentType: "text"}
	require.NoError(t, s.SaveDocument(ctx, doc))

	byLoc, err := s.GetDocumentByLocation(ctx, "/a/b.txt")
	require.NoError(t, err)
	require.NotNil(t, byLoc)
	assert.Equal(t, doc.ID, byLoc.ID)

	byBoth, err := s.GetDocumentByLocationModTime(ctx, "/a/b.txt", mod)
	require.NoError(t, err)
	require.NotNil(t, byBoth)

	miss, err := s.GetDocumentByLocationModTime(ctx, "/a/b.txt", mod.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, miss)

	// (location, file_modified_at) is unique.
	dup := &Document{Location: "/a/b.txt", FileModifiedAt: mod}
	assert.Error(t, s.SaveDocument(ctx, dup))
}

func TestFindDocumentsByMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := &Document{
		Location: "/x/report.pdf",
		Title:    "report",
		Metadata: map[string]any{
			MetaFileHash: "deadbeef",
			MetaFileSize: int64(2048),
		},
	}
	require.NoError(t, s.SaveDocument(ctx, doc))

	byHash, err := s.FindDocumentsByMetaString(ctx, MetaFileHash, "deadbeef")
	require.NoError(t, err)
	require.Len(t, byHash, 1)

	bySize, err := s.FindDocumentsByFileSize(ctx, 2048)
	require.NoError(t, err)
	require.Len(t, bySize, 1)

	byTitle, err := s.FindDocumentsByTitle(ctx, "report")
	require.NoError(t, err)
	require.Len(t, byTitle, 1)

	none, err := s.FindDocumentsByMetaString(ctx, MetaFileHash, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestContentAndChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := &Document{Location: "/d.txt"}
	require.NoError(t, s.SaveDocument(ctx, doc))

	content := &Content{
		DocumentID:        doc.ID,
		Text:              "the quick brown fox",
		OriginalMediaType: "text",
		EmbeddingModel:    "nomic-embed-text",
	}
	require.NoError(t, s.SaveContent(ctx, content))

	chunks := []*ChunkEmbedding{
		{ContentID: content.ID, DocumentID: doc.ID, ChunkIndex: 0, Text: "the quick", Vector: []float32{1, 0}},
		{ContentID: content.ID, DocumentID: doc.ID, ChunkIndex: 1, Text: "brown fox", Vector: []float32{0, 1}},
	}
	require.NoError(t, s.SaveChunks(ctx, chunks))

	// chunk_index is unique per content.
	err := s.SaveChunks(ctx, []*ChunkEmbedding{
		{ContentID: content.ID, DocumentID: doc.ID, ChunkIndex: 1, Text: "again"},
	})
	assert.Error(t, err)

	got, err := s.GetChunksByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].ChunkIndex)
	assert.Equal(t, []float32{1, 0}, got[0].Vector)

	n, err := s.CountEmbeddings(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	joined, err := s.GetChunksWithDocuments(ctx, []string{chunks[0].ID, chunks[1].ID})
	require.NoError(t, err)
	require.Len(t, joined, 2)
	assert.Equal(t, "brown fox", joined[chunks[1].ID].Chunk.Text)

	// Delete cascades document -> content -> chunks.
	_, err = s.DeleteDocument(ctx, doc.ID)
	require.NoError(t, err)
	n, err = s.CountEmbeddings(ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTagChainCreation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	leaf, err := s.FindOrCreateTagChain(ctx, "database:postgresql:jsonb")
	require.NoError(t, err)
	require.NotNil(t, leaf)
	assert.Equal(t, 2, leaf.Depth)
	assert.Equal(t, "database:postgresql", leaf.ParentName)

	// Every ancestor prefix exists after chain creation.
	for _, name := range []string{"database", "database:postgresql"} {
		anc, err := s.GetTag(ctx, name)
		require.NoError(t, err)
		require.NotNil(t, anc, "ancestor %s must exist", name)
	}
	root, _ := s.GetTag(ctx, "database")
	assert.Zero(t, root.Depth)
	assert.Empty(t, root.ParentName)

	// Idempotent.
	again, err := s.FindOrCreateTagChain(ctx, "database:postgresql:jsonb")
	require.NoError(t, err)
	assert.Equal(t, leaf.Name, again.Name)

	_, err = s.FindOrCreateTagChain(ctx, "Bad Tag")
	assert.Error(t, err)
}

func TestTagAssociationUsageCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := &Document{Location: "/t.txt"}
	require.NoError(t, s.SaveDocument(ctx, doc))
	_, err := s.FindOrCreateTagChain(ctx, "ai:llm")
	require.NoError(t, err)

	require.NoError(t, s.AssociateDocumentTag(ctx, doc.ID, "ai:llm", 0.9, TagSourceAuto))
	// Re-associating must not bump the counter a second time.
	require.NoError(t, s.AssociateDocumentTag(ctx, doc.ID, "ai:llm", 0.9, TagSourceAuto))

	tg, err := s.GetTag(ctx, "ai:llm")
	require.NoError(t, err)
	assert.Equal(t, 1, tg.UsageCount)

	assocs, err := s.TagsForDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, assocs, 1)
	assert.InDelta(t, 0.9, assocs[0].Confidence, 1e-9)
}

func TestChunksMatchingTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := &Document{Location: "/t2.txt"}
	require.NoError(t, s.SaveDocument(ctx, doc))
	content := &Content{DocumentID: doc.ID, Text: "body"}
	require.NoError(t, s.SaveContent(ctx, content))
	chunks := []*ChunkEmbedding{
		{ContentID: content.ID, DocumentID: doc.ID, ChunkIndex: 0, Text: "a"},
		{ContentID: content.ID, DocumentID: doc.ID, ChunkIndex: 1, Text: "b"},
	}
	require.NoError(t, s.SaveChunks(ctx, chunks))

	for _, name := range []string{"go:concurrency", "database"} {
		_, err := s.FindOrCreateTagChain(ctx, name)
		require.NoError(t, err)
	}
	require.NoError(t, s.AssociateChunkTag(ctx, chunks[0].ID, "go:concurrency", 1, TagSourceAuto))
	require.NoError(t, s.AssociateDocumentTag(ctx, doc.ID, "database", 1, TagSourceAuto))

	// Chunk tags match directly; document tags cover all of the
	// document's chunks.
	hits, err := s.ChunksMatchingTags(ctx, []string{"go:concurrency", "database"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	byID := map[string][]string{}
	for _, h := range hits {
		byID[h.ChunkID] = h.MatchedTags
	}
	assert.ElementsMatch(t, []string{"go:concurrency", "database"}, byID[chunks[0].ID])
	assert.ElementsMatch(t, []string{"database"}, byID[chunks[1].ID])

	none, err := s.ChunksMatchingTags(ctx, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSearchTracking(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	search := &Search{Query: "postgres jsonb", SearchType: "hybrid", ExecutionTimeMS: 12}
	results := []*SearchResult{
		{ChunkID: "c1", Rank: 1, SimilarityScore: 0.9},
		{ChunkID: "c2", Rank: 2, SimilarityScore: 0.5},
	}
	require.NoError(t, s.RecordSearch(ctx, search, results))

	got, err := s.GetSearch(ctx, search.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.ResultsCount)
	assert.InDelta(t, 0.5, got.MinSimilarity, 1e-9)
	assert.InDelta(t, 0.9, got.MaxSimilarity, 1e-9)
	assert.InDelta(t, 0.7, got.AvgSimilarity, 1e-9)

	require.NoError(t, s.MarkClicked(ctx, search.ID, "c1"))
	rs, err := s.SearchResults(ctx, search.ID)
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.True(t, rs[0].Clicked)
	assert.False(t, rs[0].ClickedAt.IsZero())

	// Deleting the last result deletes the parent search transactionally.
	require.NoError(t, s.DeleteSearchResult(ctx, search.ID, "c1"))
	got, err = s.GetSearch(ctx, search.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, s.DeleteSearchResult(ctx, search.ID, "c2"))
	got, err = s.GetSearch(ctx, search.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPropositions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := &Document{Location: "/p.txt"}
	require.NoError(t, s.SaveDocument(ctx, doc))

	props := []*Proposition{
		{DocumentID: doc.ID, SourceChunkID: "chunk-1", Content: "Go ships a race detector.", Vector: []float32{0.1, 0.2}},
		{DocumentID: doc.ID, Content: "SQLite stores rows in B-trees."},
	}
	require.NoError(t, s.SavePropositions(ctx, props))

	got, err := s.PropositionsByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "chunk-1", got[0].SourceChunkID)
	assert.Equal(t, []float32{0.1, 0.2}, got[0].Vector)
	assert.Empty(t, got[1].SourceChunkID)
}

func TestVectorRoundTrip(t *testing.T) {
	v := []float32{0.5, -1.25, 3.75}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
	assert.Nil(t, encodeVector(nil))
	assert.Nil(t, decodeVector(nil))
}

package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/corpora/internal/convert"
	"github.com/Aman-CERP/corpora/internal/embed"
	"github.com/Aman-CERP/corpora/internal/enrich"
	"github.com/Aman-CERP/corpora/internal/search"
	"github.com/Aman-CERP/corpora/internal/store"
)

type ingestEnv struct {
	service  *Service
	enricher *enrich.Runner
	store    *store.SQLite
	vectors  *store.HNSWStore
	fulltext *store.FulltextIndex
	trigrams *store.TrigramIndex
}

func newIngestEnv(t *testing.T) *ingestEnv {
	t.Helper()

	s, err := store.OpenSQLite("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	vectors, err := store.NewHNSWStore(store.VectorStoreConfig{Dimensions: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	fulltext, err := store.OpenFulltextIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = fulltext.Close() })

	trigrams := store.NewTrigramIndex()
	embedder := embed.NewService(embed.NewDeterministicEmbedder("test-model", 8))

	enricher := enrich.NewRunner(enrich.Deps{
		Store:    s,
		Vectors:  vectors,
		Fulltext: fulltext,
		Trigrams: trigrams,
		Embedder: embedder,
	}, enrich.Config{})

	searcher := search.NewEngine(search.Deps{
		Store:    s,
		Vectors:  vectors,
		Fulltext: fulltext,
		Trigrams: trigrams,
		Embedder: embedder,
	}, search.Config{})

	service := NewService(Deps{
		Store:      s,
		Vectors:    vectors,
		Fulltext:   fulltext,
		Trigrams:   trigrams,
		Converters: convert.NewRegistry(nil, nil),
		Enricher:   enricher,
		Searcher:   searcher,
	})
	return &ingestEnv{
		service:  service,
		enricher: enricher,
		store:    s,
		vectors:  vectors,
		fulltext: fulltext,
		trigrams: trigrams,
	}
}

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestAddDocumentFromFile(t *testing.T) {
	env := newIngestEnv(t)
	ctx := context.Background()
	path := writeTestFile(t, "notes.md", "PostgreSQL JSONB columns support GIN indexes for containment queries.")

	id, err := env.service.AddDocument(ctx, AddRequest{Location: path})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	env.enricher.Wait()

	view, err := env.service.GetDocument(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, store.StatusProcessed, view.Status)
	assert.Equal(t, "notes", view.Title)
	assert.Equal(t, convert.TypeMarkdown, view.DocumentType)
	assert.Contains(t, view.Text, "JSONB")
	assert.NotEmpty(t, view.MetaString(store.MetaFileHash))
	assert.NotEmpty(t, view.MetaString(store.MetaContentHash))
	assert.Positive(t, view.EmbeddingCount)
}

func TestAddDocumentInlineContent(t *testing.T) {
	env := newIngestEnv(t)
	ctx := context.Background()

	id, err := env.service.AddDocument(ctx, AddRequest{
		Location: "https://example.com/guide",
		Content:  "A short guide to connection pooling.",
		Title:    "Pooling guide",
	})
	require.NoError(t, err)
	env.enricher.Wait()

	view, err := env.service.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Pooling guide", view.Title)
	assert.Equal(t, "A short guide to connection pooling.", view.Text)
}

func TestAddDocumentMissingSource(t *testing.T) {
	env := newIngestEnv(t)

	_, err := env.service.AddDocument(context.Background(), AddRequest{
		Location: "/nonexistent/file.txt",
	})
	require.Error(t, err)

	_, err = env.service.AddDocument(context.Background(), AddRequest{})
	require.Error(t, err)
}

func TestAddDocumentDeduplicates(t *testing.T) {
	env := newIngestEnv(t)
	ctx := context.Background()
	path := writeTestFile(t, "dup.txt", "the same file twice")

	first, err := env.service.AddDocument(ctx, AddRequest{Location: path})
	require.NoError(t, err)
	second, err := env.service.AddDocument(ctx, AddRequest{Location: path})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	forced, err := env.service.AddDocument(ctx, AddRequest{Location: path, Force: true})
	require.NoError(t, err)
	assert.NotEqual(t, first, forced)

	env.enricher.Wait()
	n, err := env.store.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUpdateDocument(t *testing.T) {
	env := newIngestEnv(t)
	ctx := context.Background()
	path := writeTestFile(t, "u.txt", "content to update")

	id, err := env.service.AddDocument(ctx, AddRequest{Location: path})
	require.NoError(t, err)
	env.enricher.Wait()

	title := "Renamed"
	require.NoError(t, env.service.UpdateDocument(ctx, id, UpdateRequest{
		Title:    &title,
		Metadata: map[string]any{"source": "manual"},
	}))

	view, err := env.service.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", view.Title)
	assert.Equal(t, "manual", view.MetaString("source"))

	bad := "nonsense"
	err = env.service.UpdateDocument(ctx, id, UpdateRequest{Status: &bad})
	require.Error(t, err)

	err = env.service.UpdateDocument(ctx, "missing-id", UpdateRequest{Title: &title})
	require.Error(t, err)
}

func TestDeleteDocumentPurgesIndexes(t *testing.T) {
	env := newIngestEnv(t)
	ctx := context.Background()
	path := writeTestFile(t, "d.txt", "chunks to purge from every index")

	id, err := env.service.AddDocument(ctx, AddRequest{Location: path})
	require.NoError(t, err)
	env.enricher.Wait()

	chunkIDs, err := env.store.ChunkIDsByDocument(ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, chunkIDs)

	deleted, err := env.service.DeleteDocument(ctx, id)
	require.NoError(t, err)
	assert.True(t, deleted)

	view, err := env.service.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, view)
	for _, chunkID := range chunkIDs {
		assert.False(t, env.vectors.Contains(chunkID))
	}
	assert.Zero(t, env.trigrams.Len())

	again, err := env.service.DeleteDocument(ctx, id)
	require.NoError(t, err)
	assert.False(t, again)
}

func TestRefresh(t *testing.T) {
	env := newIngestEnv(t)
	ctx := context.Background()
	path := writeTestFile(t, "r.txt", "original content")

	first, err := env.service.Refresh(ctx, path)
	require.NoError(t, err)
	env.enricher.Wait()

	// Unchanged file is a no-op.
	same, err := env.service.Refresh(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, first, same)

	// Rewrite with a newer mtime; the document is replaced.
	require.NoError(t, os.WriteFile(path, []byte("rewritten content"), 0o644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	replaced, err := env.service.Refresh(ctx, path)
	require.NoError(t, err)
	env.enricher.Wait()
	assert.NotEqual(t, first, replaced)

	view, err := env.service.GetDocument(ctx, replaced)
	require.NoError(t, err)
	assert.Equal(t, "rewritten content", view.Text)
}

func TestEnhancePrompt(t *testing.T) {
	env := newIngestEnv(t)
	ctx := context.Background()
	path := writeTestFile(t, "ctx.txt", "Vacuum reclaims dead tuples left behind by updates and deletes.")

	_, err := env.service.AddDocument(ctx, AddRequest{Location: path})
	require.NoError(t, err)
	env.enricher.Wait()

	enhanced, err := env.service.EnhancePrompt(ctx, "Vacuum reclaims dead tuples left behind by updates and deletes.", 3)
	require.NoError(t, err)
	require.NotEmpty(t, enhanced.Sources)
	assert.Contains(t, enhanced.Prompt, "dead tuples")
	assert.Contains(t, enhanced.Prompt, "Vacuum reclaims")

	// No hits passes the prompt through untouched.
	empty := newIngestEnv(t)
	out, err := empty.service.EnhancePrompt(ctx, "anything at all", 0)
	require.NoError(t, err)
	assert.Equal(t, "anything at all", out.Prompt)
	assert.Empty(t, out.Sources)

	_, err = env.service.EnhancePrompt(ctx, "   ", 0)
	require.Error(t, err)
}

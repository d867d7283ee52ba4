package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/corpora/internal/embed"
	"github.com/Aman-CERP/corpora/internal/store"
)

type searchEnv struct {
	engine   *Engine
	store    *store.SQLite
	vectors  *store.HNSWStore
	fulltext *store.FulltextIndex
	trigrams *store.TrigramIndex
	embedder *embed.Service
}

func newSearchEnv(t *testing.T) *searchEnv {
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

	env := &searchEnv{
		store:    s,
		vectors:  vectors,
		fulltext: fulltext,
		trigrams: store.NewTrigramIndex(),
		embedder: embed.NewService(embed.NewDeterministicEmbedder("test-model", 8)),
	}
	env.engine = NewEngine(Deps{
		Store:    s,
		Vectors:  vectors,
		Fulltext: fulltext,
		Trigrams: env.trigrams,
		Embedder: env.embedder,
	}, Config{QueryTimeout: 5 * time.Second})
	return env
}

// addChunk persists one document with a single chunk and indexes it in all
// three channels' backing stores.
func (env *searchEnv) addChunk(t *testing.T, location, docType, text string, createdAt time.Time, tags ...string) string {
	t.Helper()
	ctx := context.Background()

	doc := &store.Document{
		Location:     location,
		DocumentType: docType,
		Status:       store.StatusProcessed,
		CreatedAt:    createdAt,
	}
	require.NoError(t, env.store.SaveDocument(ctx, doc))
	content := &store.Content{DocumentID: doc.ID, Text: text}
	require.NoError(t, env.store.SaveContent(ctx, content))

	vec, err := env.embedder.Embed(ctx, text)
	require.NoError(t, err)
	chunk := &store.ChunkEmbedding{
		ContentID:  content.ID,
		DocumentID: doc.ID,
		ChunkIndex: 0,
		Text:       text,
		Vector:     vec,
	}
	require.NoError(t, env.store.SaveChunks(ctx, []*store.ChunkEmbedding{chunk}))
	require.NoError(t, env.vectors.Add(ctx, []string{chunk.ID}, [][]float32{vec}))
	require.NoError(t, env.fulltext.Index(ctx, []string{chunk.ID}, []string{text}))
	env.trigrams.Add(chunk.ID, text)

	for _, name := range tags {
		_, err := env.store.FindOrCreateTagChain(ctx, name)
		require.NoError(t, err)
		require.NoError(t, env.store.AssociateChunkTag(ctx, chunk.ID, name, 1, store.TagSourceAuto))
	}
	return chunk.ID
}

func TestHybridSearch(t *testing.T) {
	env := newSearchEnv(t)
	now := time.Now().UTC()

	target := env.addChunk(t, "/a.txt", "text", "postgresql jsonb indexing with gin", now)
	env.addChunk(t, "/b.txt", "text", "redis caching patterns for sessions", now)

	resp, err := env.engine.Search(context.Background(), Request{
		Query:           "postgresql jsonb indexing with gin",
		Limit:           5,
		DisableTracking: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	// The identical text embeds to the identical vector and token-matches
	// every term, so it must rank first from both channels.
	first := resp.Results[0]
	assert.Equal(t, target, first.ChunkID)
	assert.InDelta(t, 1.0, first.Similarity, 1e-3)
	assert.Contains(t, first.Sources, ChannelVector)
	assert.Contains(t, first.Sources, ChannelFulltext)
	assert.Positive(t, first.RRFScore)
	assert.Equal(t, "postgresql jsonb indexing with gin", first.Content)
}

func TestSearchEmptyQueryNoTags(t *testing.T) {
	env := newSearchEnv(t)
	env.addChunk(t, "/a.txt", "text", "something indexed", time.Now().UTC())

	resp, err := env.engine.Search(context.Background(), Request{
		Query:           "   ",
		DisableTracking: true,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestTagOnlySearch(t *testing.T) {
	env := newSearchEnv(t)
	now := time.Now().UTC()

	tagged := env.addChunk(t, "/a.txt", "text", "goroutine scheduling internals", now, "go:concurrency")
	env.addChunk(t, "/b.txt", "text", "css grid layout tricks", now)

	resp, err := env.engine.Search(context.Background(), Request{
		Tags:            []string{"go:concurrency", "go:generics"},
		Limit:           5,
		DisableTracking: true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	hit := resp.Results[0]
	assert.Equal(t, tagged, hit.ChunkID)
	assert.InDelta(t, 0.5, hit.TagScore, 1e-9)
	assert.Equal(t, []string{"go:concurrency"}, hit.MatchedTags)
	assert.Equal(t, []string{ChannelTags}, hit.Sources)
}

func TestDocumentTypeFilter(t *testing.T) {
	env := newSearchEnv(t)
	now := time.Now().UTC()

	env.addChunk(t, "/a.md", "markdown", "terraform state management", now)
	pdf := env.addChunk(t, "/b.pdf", "pdf", "terraform state management", now)

	resp, err := env.engine.Search(context.Background(), Request{
		Query:           "terraform state",
		Filters:         Filters{DocumentType: "pdf"},
		DisableTracking: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	for _, h := range resp.Results {
		assert.Equal(t, pdf, h.ChunkID)
	}
}

func TestTimeframeExtractionFiltersResults(t *testing.T) {
	env := newSearchEnv(t)
	now := time.Now().UTC()

	recent := env.addChunk(t, "/new.txt", "text", "postgres partitioning notes", now.Add(-24*time.Hour))
	env.addChunk(t, "/old.txt", "text", "postgres partitioning notes", now.Add(-60*24*time.Hour))

	resp, err := env.engine.Search(context.Background(), Request{
		Query:           "what did we add about postgres in the last 2 weeks",
		DisableTracking: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "what did we add about postgres", resp.Statistics.CleanedQuery)
	assert.Equal(t, "in the last 2 weeks", resp.Statistics.TimeframeExpr)
	require.NotEmpty(t, resp.Results)
	for _, h := range resp.Results {
		assert.Equal(t, recent, h.ChunkID)
	}
}

func TestSearchDegradesWhenStoresClosed(t *testing.T) {
	env := newSearchEnv(t)
	env.addChunk(t, "/a.txt", "text", "etcd leader election", time.Now().UTC())

	// With the vector, token, and chunk stores all gone, the vector and
	// fulltext channels fail concurrently inside the fan-out. Both must
	// still be reported, every time, in channel order.
	require.NoError(t, env.vectors.Close())
	require.NoError(t, env.fulltext.Close())
	require.NoError(t, env.store.Close())

	for i := 0; i < 50; i++ {
		resp, err := env.engine.Search(context.Background(), Request{
			Query:           "etcd leader election",
			DisableTracking: true,
		})
		require.NoError(t, err)
		assert.Empty(t, resp.Results)
		assert.Equal(t, []string{ChannelVector, ChannelFulltext}, resp.Statistics.Degraded)
	}
}

func TestSearchTracking(t *testing.T) {
	env := newSearchEnv(t)
	env.addChunk(t, "/a.txt", "text", "kafka consumer groups", time.Now().UTC())

	resp, err := env.engine.Search(context.Background(), Request{
		Query: "kafka consumer groups",
		Limit: 5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.SearchID)

	// Tracking is fire-and-forget; poll for the row.
	require.Eventually(t, func() bool {
		rec, err := env.store.GetSearch(context.Background(), resp.SearchID)
		return err == nil && rec != nil
	}, 2*time.Second, 10*time.Millisecond)

	rec, err := env.store.GetSearch(context.Background(), resp.SearchID)
	require.NoError(t, err)
	assert.Equal(t, len(resp.Results), rec.ResultsCount)
	assert.Equal(t, TypeHybrid, rec.SearchType)

	results, err := env.store.SearchResults(context.Background(), resp.SearchID)
	require.NoError(t, err)
	require.Len(t, results, len(resp.Results))
	assert.Equal(t, 1, results[0].Rank)
}

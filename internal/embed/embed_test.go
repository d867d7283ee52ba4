package embed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", " \t \n ", ""},
		{"trims", "  hello  ", "hello"},
		{"tabs to space", "a\tb", "a b"},
		{"collapses spaces", "a    b", "a b"},
		{"collapses blank lines", "a\n\n\n\nb", "a\nb"},
		{"windows newlines", "a\r\n\r\nb", "a\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestClean_Truncates(t *testing.T) {
	long := strings.Repeat("a", MaxCleanLength+500)
	assert.Len(t, Clean(long), MaxCleanLength)
}

func TestClean_Idempotent(t *testing.T) {
	inputs := []string{
		"  hello   world  ",
		"a\t\tb\n\n\nc",
		strings.Repeat("word ", 3000),
	}
	for _, in := range inputs {
		once := Clean(in)
		assert.Equal(t, once, Clean(once))
	}
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-3, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 5}), 1e-9)

	// Shape mismatch and zero magnitude return 0.
	assert.Zero(t, Cosine([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 2}))
	assert.Zero(t, Cosine(nil, nil))
}

func TestDeterministicEmbedder_Reproducible(t *testing.T) {
	ctx := context.Background()
	a := NewDeterministicEmbedder("embeddinggemma", 64)
	b := NewDeterministicEmbedder("embeddinggemma", 64)

	v1, err := a.Embed(ctx, "postgres jsonb indexing")
	require.NoError(t, err)
	v2, err := b.Embed(ctx, "postgres jsonb indexing")
	require.NoError(t, err)

	// Same text + model yields the same vector across instances
	// (stands in for "across processes").
	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 64)

	// Cleaning happens before seeding, so messy whitespace is stable too.
	v3, err := a.Embed(ctx, "  postgres   jsonb indexing ")
	require.NoError(t, err)
	assert.Equal(t, v1, v3)
}

func TestDeterministicEmbedder_ModelChangesVector(t *testing.T) {
	ctx := context.Background()
	a := NewDeterministicEmbedder("model-a", 32)
	b := NewDeterministicEmbedder("model-b", 32)

	v1, _ := a.Embed(ctx, "same text")
	v2, _ := b.Embed(ctx, "same text")
	assert.NotEqual(t, v1, v2)
}

func TestDeterministicEmbedder_UnitLength(t *testing.T) {
	e := NewDeterministicEmbedder("m", 128)
	v, err := e.Embed(context.Background(), "some content")
	require.NoError(t, err)

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

func TestService_EmptyAfterCleaning(t *testing.T) {
	svc := NewService(NewDeterministicEmbedder("m", 16))

	vec, err := svc.Embed(context.Background(), "   \n\t ")
	require.NoError(t, err)
	assert.Nil(t, vec)

	vecs, err := svc.EmbedBatch(context.Background(), []string{"", "  ", "real text here"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Len(t, vecs[0], 16)
}

// countingEmbedder records calls for cache assertions.
type countingEmbedder struct {
	*DeterministicEmbedder
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.DeterministicEmbedder.Embed(ctx, text)
}

func TestCachedEmbedder_HitsSkipInner(t *testing.T) {
	inner := &countingEmbedder{DeterministicEmbedder: NewDeterministicEmbedder("m", 8)}
	cached := NewCachedEmbedder(inner, 10)

	ctx := context.Background()
	v1, err := cached.Embed(ctx, "query")
	require.NoError(t, err)
	v2, err := cached.Embed(ctx, "query")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, inner.calls)
}

// failingEmbedder always errors, to exercise degradation.
type failingEmbedder struct{}

func (f *failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("model service down")
}
func (f *failingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("model service down")
}
func (f *failingEmbedder) Dimensions() int                 { return 8 }
func (f *failingEmbedder) ModelName() string               { return "broken" }
func (f *failingEmbedder) Available(context.Context) bool  { return false }
func (f *failingEmbedder) Close() error                    { return nil }

func TestFallbackEmbedder_DegradesDeterministically(t *testing.T) {
	fb := NewFallbackEmbedder(&failingEmbedder{}, nil)
	ctx := context.Background()

	v1, err := fb.Embed(ctx, "degraded input")
	require.NoError(t, err)
	v2, err := fb.Embed(ctx, "degraded input")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 8)
	assert.True(t, fb.Available(ctx))
}

func TestOllamaEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		_, _ = w.Write([]byte(`{"embeddings": [[0.6, 0.8, 0.0, 0.0]]}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "test", Dimensions: 4})
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, vec, 4)
	// Response vectors are normalized to unit length.
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)
}

func TestOllamaEmbedder_DimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings": [[0.1, 0.2]]}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "test", Dimensions: 4, MaxRetries: 1})
	defer func() { _ = e.Close() }()

	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}

func TestFactory_DeterministicProvider(t *testing.T) {
	e := NewEmbedder(FactoryConfig{Provider: ProviderDeterministic, Model: "m", Dimensions: 16}, nil)
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, vec, 16)
	assert.Equal(t, 16, e.Dimensions())
}

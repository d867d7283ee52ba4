package embed

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
)

// DeterministicEmbedder generates pseudorandom unit vectors seeded from
// SHA-256(cleaned text + model id). The same input yields the same vector
// across retries and across processes, which keeps duplicate detection and
// test assertions stable. It exists purely for graceful degradation in
// unconfigured environments and in tests.
type DeterministicEmbedder struct {
	modelName string
	dims      int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*DeterministicEmbedder)(nil)

// NewDeterministicEmbedder creates a fallback embedder with the given
// dimension, labeled as a stand-in for modelName.
func NewDeterministicEmbedder(modelName string, dims int) *DeterministicEmbedder {
	if modelName == "" {
		modelName = "deterministic"
	}
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &DeterministicEmbedder{modelName: modelName, dims: dims}
}

// Embed generates a deterministic unit vector for the cleaned text.
func (e *DeterministicEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	cleaned := Clean(text)
	if cleaned == "" {
		return make([]float32, e.dims), nil
	}

	seed := sha256.Sum256([]byte(cleaned + "\x00" + e.modelName))
	rng := rand.New(rand.NewChaCha8(seed))

	vector := make([]float32, e.dims)
	for i := range vector {
		vector[i] = float32(rng.Float64()*2 - 1)
	}
	return normalizeVector(vector), nil
}

// EmbedBatch generates deterministic vectors for each text.
func (e *DeterministicEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *DeterministicEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier.
func (e *DeterministicEmbedder) ModelName() string {
	return e.modelName
}

// Available always reports true until closed.
func (e *DeterministicEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *DeterministicEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// FallbackEmbedder wraps a primary embedder and degrades to deterministic
// vectors when the primary call fails. Callers holding a direct client
// handle should use that client instead so errors propagate; this wrapper
// is installed only when embeddings come from ambient configuration.
type FallbackEmbedder struct {
	primary  Embedder
	fallback *DeterministicEmbedder
	log      *slog.Logger
}

var _ Embedder = (*FallbackEmbedder)(nil)

// NewFallbackEmbedder wraps primary with deterministic degradation.
func NewFallbackEmbedder(primary Embedder, log *slog.Logger) *FallbackEmbedder {
	if log == nil {
		log = slog.Default()
	}
	return &FallbackEmbedder{
		primary:  primary,
		fallback: NewDeterministicEmbedder(primary.ModelName(), primary.Dimensions()),
		log:      log.With(slog.String("component", "embed.fallback")),
	}
}

// Embed tries the primary embedder and falls back deterministically.
func (e *FallbackEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.primary.Embed(ctx, text)
	if err == nil {
		return vec, nil
	}
	e.log.Warn("primary embedder failed, using deterministic fallback",
		slog.String("model", e.primary.ModelName()),
		slog.String("error", err.Error()))
	return e.fallback.Embed(ctx, text)
}

// EmbedBatch tries the primary embedder and falls back deterministically.
func (e *FallbackEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.primary.EmbedBatch(ctx, texts)
	if err == nil {
		return vecs, nil
	}
	e.log.Warn("primary batch embed failed, using deterministic fallback",
		slog.String("model", e.primary.ModelName()),
		slog.Int("batch", len(texts)),
		slog.String("error", err.Error()))
	return e.fallback.EmbedBatch(ctx, texts)
}

// Dimensions returns the primary embedder's dimension.
func (e *FallbackEmbedder) Dimensions() int { return e.primary.Dimensions() }

// ModelName returns the primary embedder's model identifier.
func (e *FallbackEmbedder) ModelName() string { return e.primary.ModelName() }

// Available reports true; the fallback can always serve.
func (e *FallbackEmbedder) Available(ctx context.Context) bool { return true }

// Close closes both embedders.
func (e *FallbackEmbedder) Close() error {
	err := e.primary.Close()
	_ = e.fallback.Close()
	return err
}

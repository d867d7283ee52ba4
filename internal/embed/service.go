package embed

import (
	"context"
)

// Service applies the embedding contract on top of a raw Embedder:
// inputs are cleaned first, and inputs that are empty after cleaning
// produce no vector rather than an error.
type Service struct {
	embedder Embedder
}

// NewService wraps an embedder with cleaning semantics.
func NewService(embedder Embedder) *Service {
	return &Service{embedder: embedder}
}

// Embed cleans text and embeds it. Returns (nil, nil) iff the input is
// empty after cleaning.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	cleaned := Clean(text)
	if cleaned == "" {
		return nil, nil
	}
	return s.embedder.Embed(ctx, cleaned)
}

// EmbedBatch cleans every entry and embeds the non-empty ones. Empty
// inputs produce no entry; the result maps 1:1 onto the surviving texts.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	cleaned := make([]string, 0, len(texts))
	for _, text := range texts {
		if c := Clean(text); c != "" {
			cleaned = append(cleaned, c)
		}
	}
	if len(cleaned) == 0 {
		return [][]float32{}, nil
	}
	return s.embedder.EmbedBatch(ctx, cleaned)
}

// Model returns the underlying model identifier.
func (s *Service) Model() string {
	return s.embedder.ModelName()
}

// Dimensions returns the embedding dimension.
func (s *Service) Dimensions() int {
	return s.embedder.Dimensions()
}

// Available checks whether the underlying embedder is ready.
func (s *Service) Available(ctx context.Context) bool {
	return s.embedder.Available(ctx)
}

// Close releases the underlying embedder.
func (s *Service) Close() error {
	return s.embedder.Close()
}

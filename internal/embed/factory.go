package embed

import (
	"log/slog"
	"time"
)

// Provider identifies an embedding backend.
type Provider string

const (
	// ProviderOllama embeds via a local Ollama server (default).
	ProviderOllama Provider = "ollama"
	// ProviderDeterministic embeds via the hash-seeded fallback only.
	ProviderDeterministic Provider = "deterministic"
)

// FactoryConfig selects and configures the embedding backend.
type FactoryConfig struct {
	Provider   Provider
	Host       string
	Model      string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
	CacheSize  int
}

// NewEmbedder builds the configured embedder chain: backend, wrapped in
// deterministic degradation (for the ollama provider), wrapped in an LRU
// cache. Callers that need hard failures should construct an
// OllamaEmbedder directly instead of going through the factory.
func NewEmbedder(cfg FactoryConfig, log *slog.Logger) Embedder {
	if log == nil {
		log = slog.Default()
	}

	var inner Embedder
	switch cfg.Provider {
	case ProviderDeterministic:
		inner = NewDeterministicEmbedder(cfg.Model, cfg.Dimensions)
	default:
		ollama := NewOllamaEmbedder(OllamaConfig{
			Host:       cfg.Host,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Timeout:    cfg.Timeout,
		})
		inner = NewFallbackEmbedder(ollama, log)
	}

	return NewCachedEmbedder(inner, cfg.CacheSize)
}

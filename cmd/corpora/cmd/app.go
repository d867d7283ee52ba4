package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/Aman-CERP/corpora/internal/breaker"
	"github.com/Aman-CERP/corpora/internal/config"
	"github.com/Aman-CERP/corpora/internal/convert"
	"github.com/Aman-CERP/corpora/internal/embed"
	"github.com/Aman-CERP/corpora/internal/enrich"
	"github.com/Aman-CERP/corpora/internal/ingest"
	"github.com/Aman-CERP/corpora/internal/logging"
	"github.com/Aman-CERP/corpora/internal/model"
	"github.com/Aman-CERP/corpora/internal/search"
	"github.com/Aman-CERP/corpora/internal/store"
)

// App is the fully wired engine behind every subcommand: configuration,
// stores, model clients, the enrichment runner, and the orchestrators.
// Exactly one process may hold the data directory; a flock guards it.
type App struct {
	Config   *config.Config
	Store    *store.SQLite
	Vectors  *store.HNSWStore
	Fulltext *store.FulltextIndex
	Trigrams *store.TrigramIndex
	Embedder *embed.Service
	Breakers *breaker.Registry
	Enricher *enrich.Runner
	Searcher *search.Engine
	Ingest   *ingest.Service

	lock       *flock.Flock
	logCleanup func()
}

// openApp loads configuration and wires the engine. The caller must Close.
func openApp() (*App, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.dataDir != "" {
		cfg.DataDir = flags.dataDir
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create data directory: %w", err)
	}

	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.FilePath,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: cfg.Logging.WriteToStderr,
	}
	if flags.debug {
		logCfg.Level = "debug"
	}
	if logCfg.FilePath == "" {
		logCfg.FilePath = filepath.Join(cfg.DataDir, "logs", "corpora.log")
	}
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		logCleanup()
		return nil, fmt.Errorf("cannot acquire data directory lock: %w", err)
	}
	if !locked {
		logCleanup()
		return nil, fmt.Errorf("another corpora process holds %s", cfg.DataDir)
	}

	app := &App{Config: cfg, lock: lock, logCleanup: logCleanup}
	if err := app.wire(); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) wire() error {
	cfg := a.Config

	s, err := store.OpenSQLite(cfg.DatabasePath())
	if err != nil {
		return err
	}
	a.Store = s

	vectors, err := store.LoadHNSWStore(cfg.VectorIndexPath(), store.VectorStoreConfig{
		Dimensions: cfg.Embeddings.Dimensions,
	})
	if err != nil {
		return err
	}
	a.Vectors = vectors

	fulltext, err := store.OpenFulltextIndex(cfg.FulltextIndexPath())
	if err != nil {
		return err
	}
	a.Fulltext = fulltext

	// The trigram index is in-memory only; rebuild it from the chunk
	// table on every start.
	a.Trigrams = store.NewTrigramIndex()
	err = s.IterateChunks(context.Background(), func(id, text string) error {
		a.Trigrams.Add(id, text)
		return nil
	})
	if err != nil {
		return err
	}

	a.Embedder = embed.NewService(embed.NewEmbedder(embed.FactoryConfig{
		Provider:   embed.Provider(cfg.Embeddings.Provider),
		Host:       cfg.Embeddings.Host,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
		BatchSize:  cfg.Embeddings.BatchSize,
		Timeout:    cfg.Embeddings.Timeout.Std(),
		CacheSize:  cfg.Embeddings.CacheSize,
	}, slog.Default()))

	a.Breakers = breaker.NewRegistryFromConfig(breaker.RegistryConfig{
		FailureThreshold: cfg.Breakers.FailureThreshold,
		ResetTimeout:     cfg.Breakers.ResetTimeout.Std(),
		HalfOpenMaxCalls: cfg.Breakers.HalfOpenMaxCalls,
	})

	client := model.NewClient(model.Config{
		Host:       cfg.Models.Host,
		Model:      cfg.Models.Model,
		Timeout:    cfg.Models.Timeout.Std(),
		MaxRetries: cfg.Models.MaxRetries,
	})
	extractors := model.NewExtractors(client)
	captioner := model.NewVisionCaptioner(client, "")
	var transcriber convert.Transcriber
	if cfg.Models.TranscriptionHost != "" {
		transcriber = model.NewWhisperTranscriber(
			cfg.Models.TranscriptionHost, cfg.Models.TranscriptionModel)
	}

	a.Enricher = enrich.NewRunner(enrich.Deps{
		Store:        a.Store,
		Vectors:      a.Vectors,
		Fulltext:     a.Fulltext,
		Trigrams:     a.Trigrams,
		Embedder:     a.Embedder,
		Summarizer:   extractors,
		Keywords:     extractors,
		Tags:         extractors,
		Propositions: extractors,
		Breakers:     a.Breakers,
	}, enrich.Config{
		ChunkSize:         cfg.Chunking.Size,
		ChunkOverlap:      cfg.Chunking.Overlap,
		StepTimeout:       cfg.Enrichment.StepTimeout.Std(),
		TotalTimeout:      cfg.Enrichment.TotalTimeout.Std(),
		MaxConcurrent:     cfg.Enrichment.MaxConcurrent,
		EmbedPropositions: cfg.Enrichment.EmbedPropositions,
	})

	a.Searcher = search.NewEngine(search.Deps{
		Store:    a.Store,
		Vectors:  a.Vectors,
		Fulltext: a.Fulltext,
		Trigrams: a.Trigrams,
		Embedder: a.Embedder,
		Breakers: a.Breakers,
	}, search.Config{
		QueryTimeout: cfg.Search.QueryTimeout.Std(),
		RRFConstant:  cfg.Search.RRFConstant,
	})

	a.Ingest = ingest.NewService(ingest.Deps{
		Store:      a.Store,
		Vectors:    a.Vectors,
		Fulltext:   a.Fulltext,
		Trigrams:   a.Trigrams,
		Converters: convert.NewRegistry(captioner, transcriber),
		Enricher:   a.Enricher,
		Searcher:   a.Searcher,
	})
	return nil
}

// Close waits for in-flight enrichments, persists the vector index, and
// releases the lock.
func (a *App) Close() {
	if a.Enricher != nil {
		a.Enricher.Wait()
	}
	if a.Vectors != nil {
		if err := a.Vectors.Save(a.Config.VectorIndexPath()); err != nil {
			slog.Warn("vector index save failed", slog.String("error", err.Error()))
		}
		_ = a.Vectors.Close()
	}
	if a.Fulltext != nil {
		_ = a.Fulltext.Close()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
	if a.lock != nil {
		_ = a.lock.Unlock()
	}
	if a.logCleanup != nil {
		a.logCleanup()
	}
}

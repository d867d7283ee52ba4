// Package enrich runs the per-document enrichment pipeline: a dependency
// DAG of chunk+embed, summarize, keyword-extract, tag-extract, and
// proposition-extract steps followed by a finalize barrier. Steps fan out
// concurrently, each guarded by its service's circuit breaker and its own
// timeout; a failing step records into the result's error map and never
// tears down its siblings.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Aman-CERP/corpora/internal/breaker"
	"github.com/Aman-CERP/corpora/internal/chunk"
	"github.com/Aman-CERP/corpora/internal/embed"
	"github.com/Aman-CERP/corpora/internal/model"
	"github.com/Aman-CERP/corpora/internal/proposition"
	"github.com/Aman-CERP/corpora/internal/store"
	"github.com/Aman-CERP/corpora/internal/tag"
)

// Step names, used as keys in the per-step error map.
const (
	StepEmbeddings   = "embeddings"
	StepSummary      = "summary"
	StepKeywords     = "keywords"
	StepTags         = "tags"
	StepPropositions = "propositions"
	StepFinalize     = "finalize"
)

// summaryThreshold is the minimum content length before the summarizer is
// worth calling; shorter documents are their own summary.
const summaryThreshold = 300

// ontologyLimit caps how many known tags are offered to the tag extractor.
const ontologyLimit = 100

// Config tunes the runner.
type Config struct {
	ChunkSize         int
	ChunkOverlap      int
	StepTimeout       time.Duration // per-step budget
	TotalTimeout      time.Duration // wait-all-or-timeout at finalize
	MaxConcurrent     int64         // concurrent document enrichments
	EmbedPropositions bool          // attach a vector to each proposition
}

// DefaultConfig returns the runner defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:         chunk.DefaultChunkSize,
		ChunkOverlap:      chunk.DefaultOverlap,
		StepTimeout:       2 * time.Minute,
		TotalTimeout:      10 * time.Minute,
		MaxConcurrent:     4,
		EmbedPropositions: true,
	}
}

// Result is the outcome of one document enrichment. Errors maps step name
// to failure message; a populated map with a nonzero EmbeddingCount still
// finalizes as processed.
type Result struct {
	DocumentID       string            `json:"document_id"`
	Status           string            `json:"status"`
	EmbeddingCount   int               `json:"embedding_count"`
	Summary          string            `json:"summary,omitempty"`
	Keywords         []string          `json:"keywords,omitempty"`
	TagCount         int               `json:"tag_count"`
	PropositionCount int               `json:"proposition_count"`
	Errors           map[string]string `json:"errors,omitempty"`
	Duration         time.Duration     `json:"duration"`

	mu sync.Mutex
}

func (r *Result) fail(step string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Errors == nil {
		r.Errors = make(map[string]string)
	}
	if errors.Is(err, breaker.ErrOpen) {
		r.Errors[step] = "breaker open"
		return
	}
	r.Errors[step] = err.Error()
}

// Runner executes the enrichment DAG. All collaborators are injected;
// tests swap model clients for fakes and use in-memory stores.
type Runner struct {
	store    *store.SQLite
	vectors  *store.HNSWStore
	fulltext *store.FulltextIndex
	trigrams *store.TrigramIndex

	embedder     *embed.Service
	summarizer   model.Summarizer
	keywords     model.KeywordExtractor
	tags         model.TagExtractor
	propositions model.PropositionExtractor
	normalizer   *tag.Normalizer
	breakers     *breaker.Registry

	cfg Config
	sem *semaphore.Weighted
	log *slog.Logger

	mu     sync.Mutex
	active map[string]bool // documents with a running enrichment
	wg     sync.WaitGroup
}

// Deps bundles the runner's collaborators.
type Deps struct {
	Store    *store.SQLite
	Vectors  *store.HNSWStore
	Fulltext *store.FulltextIndex
	Trigrams *store.TrigramIndex

	Embedder     *embed.Service
	Summarizer   model.Summarizer
	Keywords     model.KeywordExtractor
	Tags         model.TagExtractor
	Propositions model.PropositionExtractor
	Normalizer   *tag.Normalizer
	Breakers     *breaker.Registry
}

// NewRunner creates a runner. Nil model collaborators disable their steps.
func NewRunner(deps Deps, cfg Config) *Runner {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunk.DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = chunk.DefaultOverlap
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultConfig().StepTimeout
	}
	if cfg.TotalTimeout <= 0 {
		cfg.TotalTimeout = DefaultConfig().TotalTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if deps.Normalizer == nil {
		deps.Normalizer = tag.NewNormalizer(tag.DefaultMaxDepth)
	}
	if deps.Breakers == nil {
		deps.Breakers = breaker.NewRegistry()
	}
	return &Runner{
		store:        deps.Store,
		vectors:      deps.Vectors,
		fulltext:     deps.Fulltext,
		trigrams:     deps.Trigrams,
		embedder:     deps.Embedder,
		summarizer:   deps.Summarizer,
		keywords:     deps.Keywords,
		tags:         deps.Tags,
		propositions: deps.Propositions,
		normalizer:   deps.Normalizer,
		breakers:     deps.Breakers,
		cfg:          cfg,
		sem:          semaphore.NewWeighted(cfg.MaxConcurrent),
		log:          slog.Default().With(slog.String("component", "enrich")),
		active:       make(map[string]bool),
	}
}

// Schedule starts enrichment in the background, guaranteeing a single
// active run per document. Returns false when the document already has one.
func (r *Runner) Schedule(documentID string) bool {
	r.mu.Lock()
	if r.active[documentID] {
		r.mu.Unlock()
		return false
	}
	r.active[documentID] = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.active, documentID)
			r.mu.Unlock()
		}()

		res := r.Run(context.Background(), documentID)
		r.log.Info("enrichment finished",
			slog.String("document_id", documentID),
			slog.String("status", res.Status),
			slog.Int("embeddings", res.EmbeddingCount),
			slog.Int("errors", len(res.Errors)),
			slog.Duration("duration", res.Duration))
	}()
	return true
}

// Wait blocks until all scheduled enrichments finish.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Run enriches one document synchronously and returns the step-by-step
// outcome. The document status moves pending -> processing -> processed
// (at least one embedding) or error (no embeddings and a failed step).
func (r *Runner) Run(ctx context.Context, documentID string) *Result {
	started := time.Now()
	res := &Result{DocumentID: documentID}
	defer func() { res.Duration = time.Since(started) }()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		res.fail(StepFinalize, err)
		res.Status = store.StatusError
		return res
	}
	defer r.sem.Release(1)

	doc, err := r.store.GetDocument(ctx, documentID)
	if err != nil || doc == nil {
		if err == nil {
			err = fmt.Errorf("document %s not found", documentID)
		}
		res.fail(StepFinalize, err)
		res.Status = store.StatusError
		return res
	}
	content, err := r.store.GetContentByDocument(ctx, documentID)
	if err != nil || content == nil {
		if err == nil {
			err = fmt.Errorf("document %s has no content", documentID)
		}
		res.fail(StepFinalize, err)
		r.finalize(ctx, doc, res)
		return res
	}

	if err := r.store.UpdateDocumentStatus(ctx, documentID, store.StatusProcessing); err != nil {
		r.log.Warn("status update failed", slog.String("error", err.Error()))
	}

	// Fan out. The embeddings->propositions edge runs as one chain; the
	// other three steps are independent. Goroutines return nil always so
	// a failing step cannot cancel its siblings through the group.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		chunks := r.generateEmbeddings(gctx, doc, content, res)
		r.extractPropositions(gctx, doc, chunks, res)
		return nil
	})
	g.Go(func() error {
		r.generateSummary(gctx, content, res)
		return nil
	})
	g.Go(func() error {
		r.extractKeywords(gctx, content, res)
		return nil
	})
	g.Go(func() error {
		r.extractTags(gctx, doc, content, res)
		return nil
	})

	// Wait-all-or-timeout: finalize always runs, with whatever the steps
	// managed to produce.
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.cfg.TotalTimeout):
		res.fail(StepFinalize, fmt.Errorf("enrichment timed out after %s", r.cfg.TotalTimeout))
	case <-ctx.Done():
		res.fail(StepFinalize, ctx.Err())
	}

	r.finalize(ctx, doc, res)
	return res
}

// stepCtx derives the per-step timeout context.
func (r *Runner) stepCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.cfg.StepTimeout)
}

// generateEmbeddings chunks the canonical text, embeds every chunk, and
// persists the chunk rows plus the vector/full-text/trigram index entries.
// Per-chunk failures are logged and skipped; only producing nothing at all
// records a step error. Returns the persisted chunks for the propositions
// step.
func (r *Runner) generateEmbeddings(ctx context.Context, doc *store.Document, content *store.Content, res *Result) []*store.ChunkEmbedding {
	ctx, cancel := r.stepCtx(ctx)
	defer cancel()

	chunks := chunk.Split(content.Text, r.cfg.ChunkSize, r.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return nil
	}

	br := r.breakers.Get(breaker.ServiceEmbedding)
	records := make([]*store.ChunkEmbedding, 0, len(chunks))
	var lastErr error
	for _, ch := range chunks {
		var vec []float32
		err := br.Execute(func() error {
			v, err := r.embedder.Embed(ctx, ch.Text)
			vec = v
			return err
		})
		if err != nil {
			lastErr = err
			r.log.Warn("chunk embedding failed, skipping",
				slog.String("document_id", doc.ID),
				slog.Int("chunk_index", ch.Index),
				slog.String("error", err.Error()))
			continue
		}
		if vec == nil {
			continue
		}
		records = append(records, &store.ChunkEmbedding{
			ContentID:      content.ID,
			DocumentID:     doc.ID,
			ChunkIndex:     ch.Index,
			Text:           ch.Text,
			Vector:         vec,
			ContentType:    store.ChunkTypeText,
			EmbeddingModel: r.embedder.Model(),
		})
	}

	if len(records) == 0 {
		if lastErr != nil {
			res.fail(StepEmbeddings, lastErr)
		}
		return nil
	}

	if err := r.store.SaveChunks(ctx, records); err != nil {
		res.fail(StepEmbeddings, err)
		return nil
	}

	ids := make([]string, len(records))
	vectors := make([][]float32, len(records))
	texts := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
		vectors[i] = rec.Vector
		texts[i] = rec.Text
		r.trigrams.Add(rec.ID, rec.Text)
	}
	if err := r.vectors.Add(ctx, ids, vectors); err != nil {
		r.log.Warn("vector index update failed", slog.String("error", err.Error()))
	}
	if err := r.fulltext.Index(ctx, ids, texts); err != nil {
		r.log.Warn("fulltext index update failed", slog.String("error", err.Error()))
	}

	res.mu.Lock()
	res.EmbeddingCount = len(records)
	res.mu.Unlock()
	return records
}

// generateSummary calls the summarizer for contents above the threshold.
func (r *Runner) generateSummary(ctx context.Context, content *store.Content, res *Result) {
	if r.summarizer == nil || len(content.Text) <= summaryThreshold {
		return
	}
	ctx, cancel := r.stepCtx(ctx)
	defer cancel()

	var summary string
	err := r.breakers.Get(breaker.ServiceSummary).Execute(func() error {
		s, err := r.summarizer.Summarize(ctx, content.Text)
		summary = s
		return err
	})
	if err != nil {
		res.fail(StepSummary, err)
		return
	}
	if summary == "" {
		return
	}
	res.mu.Lock()
	res.Summary = summary
	res.mu.Unlock()
}

// extractKeywords calls the keyword extractor.
func (r *Runner) extractKeywords(ctx context.Context, content *store.Content, res *Result) {
	if r.keywords == nil {
		return
	}
	ctx, cancel := r.stepCtx(ctx)
	defer cancel()

	var words []string
	err := r.breakers.Get(breaker.ServiceKeywords).Execute(func() error {
		w, err := r.keywords.Keywords(ctx, content.Text)
		words = w
		return err
	})
	if err != nil {
		res.fail(StepKeywords, err)
		return
	}
	if len(words) == 0 {
		return
	}
	res.mu.Lock()
	res.Keywords = words
	res.mu.Unlock()
}

// extractTags calls the tag extractor with the current ontology, normalizes
// the raw tags, chain-creates each surviving tag, and associates it with
// the document.
func (r *Runner) extractTags(ctx context.Context, doc *store.Document, content *store.Content, res *Result) {
	if r.tags == nil {
		return
	}
	ctx, cancel := r.stepCtx(ctx)
	defer cancel()

	var ontology []string
	if known, err := r.store.ListTags(ctx, ontologyLimit); err == nil {
		for _, t := range known {
			ontology = append(ontology, t.Name)
		}
	}

	var raw []string
	err := r.breakers.Get(breaker.ServiceTags).Execute(func() error {
		tags, err := r.tags.Tags(ctx, content.Text, ontology)
		raw = tags
		return err
	})
	if err != nil {
		res.fail(StepTags, err)
		return
	}

	count := 0
	for _, name := range r.normalizer.Normalize(raw) {
		if _, err := r.store.FindOrCreateTagChain(ctx, name); err != nil {
			r.log.Warn("tag creation failed",
				slog.String("tag", name), slog.String("error", err.Error()))
			continue
		}
		err := r.store.AssociateDocumentTag(ctx, doc.ID, name, 1.0, store.TagSourceAuto)
		if err != nil {
			r.log.Warn("tag association failed",
				slog.String("tag", name), slog.String("error", err.Error()))
			continue
		}
		count++
	}

	res.mu.Lock()
	res.TagCount = count
	res.mu.Unlock()
}

// extractPropositions runs the proposition extractor over each embedded
// chunk, validates and persists the survivors, and optionally attaches a
// vector per proposition. Depends on generateEmbeddings having run.
func (r *Runner) extractPropositions(ctx context.Context, doc *store.Document, chunks []*store.ChunkEmbedding, res *Result) {
	if r.propositions == nil || len(chunks) == 0 {
		return
	}
	ctx, cancel := r.stepCtx(ctx)
	defer cancel()

	br := r.breakers.Get(breaker.ServicePropositions)
	embedBr := r.breakers.Get(breaker.ServiceEmbedding)

	var records []*store.Proposition
	var lastErr error
	for _, ch := range chunks {
		var statements []string
		err := br.Execute(func() error {
			s, err := r.propositions.Propositions(ctx, ch.Text)
			statements = s
			return err
		})
		if err != nil {
			lastErr = err
			r.log.Warn("proposition extraction failed for chunk",
				slog.String("chunk_id", ch.ID), slog.String("error", err.Error()))
			continue
		}

		for _, statement := range statements {
			// Extractors are not trusted to self-validate; meta-responses
			// and fragments must never land in the store.
			if !proposition.Valid(statement) {
				r.log.Debug("dropping invalid proposition",
					slog.String("chunk_id", ch.ID))
				continue
			}
			prop := &store.Proposition{
				DocumentID:    doc.ID,
				SourceChunkID: ch.ID,
				Content:       statement,
			}
			if r.cfg.EmbedPropositions {
				_ = embedBr.Execute(func() error {
					v, err := r.embedder.Embed(ctx, statement)
					if err == nil {
						prop.Vector = v
					}
					return err
				})
			}
			records = append(records, prop)
		}
	}

	if len(records) == 0 {
		if lastErr != nil {
			res.fail(StepPropositions, lastErr)
		}
		return
	}
	if err := r.store.SavePropositions(ctx, records); err != nil {
		res.fail(StepPropositions, err)
		return
	}

	res.mu.Lock()
	res.PropositionCount = len(records)
	res.mu.Unlock()
}

// finalize applies the step outputs to the document row and settles the
// lifecycle status: processed iff at least one embedding exists, error when
// none do and a step failed, pending otherwise. Idempotent.
func (r *Runner) finalize(ctx context.Context, doc *store.Document, res *Result) {
	fresh, err := r.store.GetDocument(ctx, doc.ID)
	if err != nil || fresh == nil {
		res.Status = store.StatusError
		return
	}

	res.mu.Lock()
	if res.Summary != "" {
		fresh.SetMeta(store.MetaSummary, res.Summary)
	}
	if len(res.Keywords) > 0 {
		fresh.SetMeta(store.MetaKeywords, res.Keywords)
	}
	if len(res.Errors) > 0 {
		fresh.SetMeta(store.MetaErrors, res.Errors)
	}
	embeddings := res.EmbeddingCount
	failed := len(res.Errors) > 0
	res.mu.Unlock()

	switch {
	case embeddings > 0:
		fresh.Status = store.StatusProcessed
	case failed:
		fresh.Status = store.StatusError
	default:
		fresh.Status = store.StatusPending
	}
	res.Status = fresh.Status

	if err := r.store.UpdateDocument(ctx, fresh); err != nil {
		r.log.Error("finalize update failed",
			slog.String("document_id", doc.ID), slog.String("error", err.Error()))
	}
}

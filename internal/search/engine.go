package search

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/corpora/internal/breaker"
	"github.com/Aman-CERP/corpora/internal/embed"
	"github.com/Aman-CERP/corpora/internal/store"
	"github.com/Aman-CERP/corpora/internal/timeframe"
)

// Config tunes the query orchestrator.
type Config struct {
	// QueryTimeout is the wall-clock budget for the channel fan-out. A
	// channel that misses the budget contributes an empty list.
	QueryTimeout time.Duration
	RRFConstant  int
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		QueryTimeout: 10 * time.Second,
		RRFConstant:  RRFConstant,
	}
}

// Engine is the query orchestrator: timeframe parse, three-channel
// fan-out, RRF fusion, and fire-and-forget search tracking.
type Engine struct {
	store    *store.SQLite
	vectors  *store.HNSWStore
	fulltext *store.FulltextIndex
	trigrams *store.TrigramIndex
	embedder *embed.Service
	breakers *breaker.Registry

	cfg Config
	now func() time.Time
	log *slog.Logger
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Store    *store.SQLite
	Vectors  *store.HNSWStore
	Fulltext *store.FulltextIndex
	Trigrams *store.TrigramIndex
	Embedder *embed.Service
	Breakers *breaker.Registry
}

// NewEngine creates the query orchestrator.
func NewEngine(deps Deps, cfg Config) *Engine {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultConfig().QueryTimeout
	}
	if cfg.RRFConstant <= 0 {
		cfg.RRFConstant = RRFConstant
	}
	if deps.Breakers == nil {
		deps.Breakers = breaker.NewRegistry()
	}
	return &Engine{
		store:    deps.Store,
		vectors:  deps.Vectors,
		fulltext: deps.Fulltext,
		trigrams: deps.Trigrams,
		embedder: deps.Embedder,
		breakers: deps.Breakers,
		cfg:      cfg,
		now:      time.Now,
		log:      slog.Default().With(slog.String("component", "search")),
	}
}

// Search runs the hybrid query: parse the timeframe out of the query, fan
// out the vector, full-text, and tag channels concurrently, fuse with RRF,
// and record the search asynchronously.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	started := time.Now()
	limit := clampLimit(req.Limit)
	candidateLimit := effectiveCandidateLimit(req.CandidateLimit)

	cleaned, timeRange, expression, err := e.resolveTimeframe(req)
	if err != nil {
		return nil, err
	}

	queryVec := e.embedQuery(ctx, cleaned)

	resp := &Response{Statistics: Statistics{
		CleanedQuery:  cleaned,
		TimeframeExpr: expression,
	}}

	// Nothing to retrieve by: no embedding, no query text, no tags.
	if len(queryVec) == 0 && cleaned == "" && len(req.Tags) == 0 {
		resp.ExecutionTimeMS = time.Since(started).Milliseconds()
		return resp, nil
	}

	fanCtx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	var vectorOut, fulltextOut, tagOut []*Candidate
	var vectorFailed, fulltextFailed, tagFailed bool
	var textDegraded bool

	// Channels are isolated: an error or expiry yields an empty list and
	// a degradation note, never a failed search. Each goroutine writes
	// only its own variables; the shared Degraded slice is assembled
	// after the wait, in channel order.
	g, gctx := errgroup.WithContext(fanCtx)
	g.Go(func() error {
		out, err := e.vectorChannel(gctx, queryVec, req.Filters, timeRange, candidateLimit)
		if err != nil {
			e.log.Warn("vector channel failed", slog.String("error", err.Error()))
			vectorFailed = true
			return nil
		}
		vectorOut = out
		return nil
	})
	g.Go(func() error {
		out, degraded, err := e.fulltextChannel(gctx, cleaned, req.Filters, timeRange, candidateLimit)
		if err != nil {
			e.log.Warn("fulltext channel failed", slog.String("error", err.Error()))
			fulltextFailed = true
			return nil
		}
		fulltextOut = out
		textDegraded = degraded
		return nil
	})
	g.Go(func() error {
		out, err := e.tagChannel(gctx, req.Tags, req.Filters, timeRange, candidateLimit)
		if err != nil {
			e.log.Warn("tag channel failed", slog.String("error", err.Error()))
			tagFailed = true
			return nil
		}
		tagOut = out
		return nil
	})
	_ = g.Wait()

	resp.Statistics.VectorHits = len(vectorOut)
	resp.Statistics.FulltextHits = len(fulltextOut)
	resp.Statistics.TagHits = len(tagOut)
	if vectorFailed {
		resp.Statistics.Degraded = append(resp.Statistics.Degraded, ChannelVector)
	}
	if fulltextFailed {
		resp.Statistics.Degraded = append(resp.Statistics.Degraded, ChannelFulltext)
	}
	if tagFailed {
		resp.Statistics.Degraded = append(resp.Statistics.Degraded, ChannelTags)
	}
	if textDegraded {
		resp.Statistics.Degraded = append(resp.Statistics.Degraded, "fulltext_substring")
	}

	hits := fuse([]channelList{
		{name: ChannelVector, candidates: vectorOut},
		{name: ChannelFulltext, candidates: fulltextOut},
		{name: ChannelTags, candidates: tagOut},
	}, e.cfg.RRFConstant, limit)

	if req.Threshold > 0 {
		kept := hits[:0]
		for _, h := range hits {
			if h.Similarity >= req.Threshold || h.VectorRank == 0 {
				kept = append(kept, h)
			}
		}
		hits = kept
	}

	resp.Results = hits
	for i, h := range hits {
		if i == 0 || h.Similarity < resp.Statistics.MinSimilarity {
			resp.Statistics.MinSimilarity = h.Similarity
		}
		if h.Similarity > resp.Statistics.MaxSimilarity {
			resp.Statistics.MaxSimilarity = h.Similarity
		}
		resp.Statistics.AvgSimilarity += h.Similarity
	}
	if len(hits) > 0 {
		resp.Statistics.AvgSimilarity /= float64(len(hits))
	}
	resp.ExecutionTimeMS = time.Since(started).Milliseconds()

	if !req.DisableTracking {
		searchID := store.NewID()
		resp.SearchID = searchID
		go e.track(searchID, req, cleaned, textDegraded, hits, resp.ExecutionTimeMS)
	}
	return resp, nil
}

// resolveTimeframe applies the precedence: explicit range, explicit
// expression, then natural-language extraction from the query itself.
func (e *Engine) resolveTimeframe(req Request) (cleaned string, tr *timeframe.Range, expression string, err error) {
	if req.Timeframe != nil {
		ext := timeframe.Extract(req.Query, e.now())
		return ext.Cleaned, req.Timeframe, "", nil
	}
	if req.TimeframeExpr != "" && req.TimeframeExpr != "auto" {
		r, err := timeframe.ParseExpression(req.TimeframeExpr, e.now())
		if err != nil {
			return "", nil, "", err
		}
		ext := timeframe.Extract(req.Query, e.now())
		return ext.Cleaned, r, req.TimeframeExpr, nil
	}
	ext := timeframe.Extract(req.Query, e.now())
	return ext.Cleaned, ext.Range, ext.Expression, nil
}

// embedQuery produces the query vector through the embedding breaker; any
// failure degrades to a nil vector so the lexical channels still run.
func (e *Engine) embedQuery(ctx context.Context, query string) []float32 {
	if query == "" {
		return nil
	}
	var vec []float32
	err := e.breakers.Get(breaker.ServiceEmbedding).Execute(func() error {
		v, err := e.embedder.Embed(ctx, query)
		vec = v
		return err
	})
	if err != nil {
		e.log.Warn("query embedding failed",
			slog.String("error", err.Error()))
		return nil
	}
	return vec
}

// track records the search row fire-and-forget; failures are logged and
// never surface to the caller.
func (e *Engine) track(searchID string, req Request, cleaned string, textDegraded bool, hits []*Hit, elapsedMS int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	searchType := TypeHybrid
	switch {
	case textDegraded:
		searchType = TypeTextFallback
	case len(req.Filters.Keywords) > 0:
		searchType = TypeSemanticWithKeywords
	case cleaned == "" && len(req.Tags) == 0:
		searchType = TypeSemantic
	}

	filters := map[string]any{}
	if req.Filters.DocumentType != "" {
		filters["document_type"] = req.Filters.DocumentType
	}
	if len(req.Filters.Keywords) > 0 {
		filters["keywords"] = req.Filters.Keywords
	}
	options := map[string]any{}
	if len(req.Tags) > 0 {
		options["tags"] = req.Tags
	}
	if req.TimeframeExpr != "" {
		options["timeframe"] = req.TimeframeExpr
	}

	rec := &store.Search{
		ID:              searchID,
		Query:           cleaned,
		SearchType:      searchType,
		ExecutionTimeMS: elapsedMS,
		Filters:         filters,
		Options:         options,
		SessionID:       req.SessionID,
		UserID:          req.UserID,
	}
	results := make([]*store.SearchResult, 0, len(hits))
	for i, h := range hits {
		results = append(results, &store.SearchResult{
			ChunkID:         h.ChunkID,
			Rank:            i + 1,
			SimilarityScore: h.Similarity,
		})
	}

	if err := e.store.RecordSearch(ctx, rec, results); err != nil {
		e.log.Warn("search tracking failed", slog.String("error", err.Error()))
	}
}

package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/Aman-CERP/corpora/internal/store"
	"github.com/Aman-CERP/corpora/internal/timeframe"
)

// fulltextRankOffset is added to token-match scores so a token match
// always outranks a pure trigram-similarity match (similarity <= 1).
const fulltextRankOffset = 1.0

// substringFallbackRank is the constant rank for the degraded substring
// scan used when the token index is unavailable.
const substringFallbackRank = 0.5

// scored pairs a chunk id with its channel-native score, pre-filtering.
type scored struct {
	id          string
	score       float64
	matchedTags []string
}

// vectorChannel embeds are done by the caller; this ranks the query vector
// against the HNSW index and applies the common filters. A nil query
// vector yields no candidates.
func (e *Engine) vectorChannel(ctx context.Context, queryVec []float32, f Filters, tf *timeframe.Range, limit int) ([]*Candidate, error) {
	if len(queryVec) == 0 {
		return nil, nil
	}
	// Over-fetch so post-filtering can still fill the limit.
	hits, err := e.vectors.Search(ctx, queryVec, limit*2)
	if err != nil {
		return nil, err
	}

	ranked := make([]scored, 0, len(hits))
	for _, h := range hits {
		ranked = append(ranked, scored{id: h.ID, score: float64(h.Similarity)})
	}
	return e.materialize(ctx, ranked, ChannelVector, f, tf, limit)
}

// fulltextChannel unions two subqueries: token matches ranked by the bleve
// score plus a fixed offset, and trigram-similar rows not already matched,
// ranked by their similarity. When the token index fails the channel
// degrades to a substring scan with a constant rank, logged.
func (e *Engine) fulltextChannel(ctx context.Context, query string, f Filters, tf *timeframe.Range, limit int) ([]*Candidate, bool, error) {
	if strings.TrimSpace(query) == "" {
		return nil, false, nil
	}

	tokenHits, err := e.fulltext.Search(ctx, query, limit)
	if err != nil {
		e.log.Warn("token index unavailable, degrading to substring scan",
			slog.String("error", err.Error()))
		cands, scanErr := e.substringScan(ctx, query, f, tf, limit)
		return cands, true, scanErr
	}

	ranked := make([]scored, 0, len(tokenHits))
	matched := make(map[string]bool, len(tokenHits))
	for _, h := range tokenHits {
		ranked = append(ranked, scored{id: h.ID, score: h.Score + fulltextRankOffset})
		matched[h.ID] = true
	}

	for _, h := range e.trigrams.Similar(query, store.MinTrigramSimilarity, matched, limit) {
		ranked = append(ranked, scored{id: h.ID, score: h.Similarity})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	cands, err := e.materialize(ctx, ranked, ChannelFulltext, f, tf, limit)
	return cands, false, err
}

// substringScan is the last-resort lexical match over the chunk table.
func (e *Engine) substringScan(ctx context.Context, query string, f Filters, tf *timeframe.Range, limit int) ([]*Candidate, error) {
	needle := strings.ToLower(query)
	var ranked []scored
	err := e.store.IterateChunks(ctx, func(id, text string) error {
		if strings.Contains(strings.ToLower(text), needle) {
			ranked = append(ranked, scored{id: id, score: substringFallbackRank})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.materialize(ctx, ranked, ChannelFulltext, f, tf, limit)
}

// tagChannel selects chunks whose tag set intersects the query tags and
// scores them by the matched share of the query set.
func (e *Engine) tagChannel(ctx context.Context, tags []string, f Filters, tf *timeframe.Range, limit int) ([]*Candidate, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	hits, err := e.store.ChunksMatchingTags(ctx, tags, limit)
	if err != nil {
		return nil, err
	}

	ranked := make([]scored, 0, len(hits))
	for _, h := range hits {
		ranked = append(ranked, scored{
			id:          h.ChunkID,
			score:       float64(len(h.MatchedTags)) / float64(len(tags)),
			matchedTags: h.MatchedTags,
		})
	}
	return e.materialize(ctx, ranked, ChannelTags, f, tf, limit)
}

// materialize fetches chunk and document fields for the ranked ids,
// applies the common filters and timeframe (on document created_at), and
// builds candidates preserving rank order up to limit.
func (e *Engine) materialize(ctx context.Context, ranked []scored, channel string, f Filters, tf *timeframe.Range, limit int) ([]*Candidate, error) {
	if len(ranked) == 0 {
		return nil, nil
	}

	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.id
	}
	joined, err := e.store.GetChunksWithDocuments(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]*Candidate, 0, min(len(ranked), limit))
	for _, r := range ranked {
		cwd, ok := joined[r.id]
		if !ok {
			continue
		}
		if f.DocumentType != "" && cwd.DocumentType != f.DocumentType {
			continue
		}
		if len(f.Keywords) > 0 && !overlaps(f.Keywords, cwd.Keywords) {
			continue
		}
		if tf != nil && !tf.Contains(cwd.DocCreatedAt) {
			continue
		}

		c := &Candidate{
			ChunkID:    r.id,
			DocumentID: cwd.Chunk.DocumentID,
			Content:    cwd.Chunk.Text,
		}
		switch channel {
		case ChannelVector:
			c.Similarity = r.score
		case ChannelFulltext:
			c.TextRank = r.score
		case ChannelTags:
			c.TagScore = r.score
			c.MatchedTags = r.matchedTags
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// overlaps reports whether the two keyword sets intersect,
// case-insensitively.
func overlaps(query, doc []string) bool {
	set := make(map[string]bool, len(doc))
	for _, k := range doc {
		set[strings.ToLower(k)] = true
	}
	for _, k := range query {
		if set[strings.ToLower(k)] {
			return true
		}
	}
	return false
}

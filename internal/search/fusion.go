package search

import (
	"sort"
)

// RRFConstant is the reciprocal-rank-fusion smoothing parameter. k=60 is
// the standard value used across the industry (Azure AI Search, OpenSearch).
const RRFConstant = 60

// Channel names, in fusion order.
const (
	ChannelVector   = "vector"
	ChannelFulltext = "fulltext"
	ChannelTags     = "tags"
)

// Candidate is one pre-fusion hit from a single retrieval channel. Only
// the fields that channel scores are populated.
type Candidate struct {
	ChunkID     string
	DocumentID  string
	Content     string
	Similarity  float64 // vector channel: 1 - cosine distance
	TextRank    float64 // fulltext channel: offset token score or trigram sim
	TagScore    float64 // tag channel: |matched| / |query tags|
	MatchedTags []string
}

// channelList is one channel's ordered output entering fusion.
type channelList struct {
	name       string
	candidates []*Candidate
}

// Hit is a fused result with per-channel scores and ranks retained.
type Hit struct {
	ChunkID      string   `json:"id"`
	DocumentID   string   `json:"document_id"`
	Content      string   `json:"content"`
	Similarity   float64  `json:"similarity"`
	TextRank     float64  `json:"text_rank"`
	TagScore     float64  `json:"tag_score"`
	MatchedTags  []string `json:"matched_tags,omitempty"`
	RRFScore     float64  `json:"rrf_score"`
	VectorRank   int      `json:"vector_rank,omitempty"`   // 1-based, 0 if absent
	FulltextRank int      `json:"fulltext_rank,omitempty"` // 1-based, 0 if absent
	TagRank      int      `json:"tag_rank,omitempty"`      // 1-based, 0 if absent
	Sources      []string `json:"sources"`

	order int // appearance index, breaks score ties deterministically
}

// fuse merges ranked channel outputs with reciprocal rank fusion: each
// entry at 1-based rank r contributes 1/(k+r) to its chunk's score, and
// per-channel scores and ranks are retained on the merged hit. Ties are
// broken by first appearance. Returns the top limit hits.
func fuse(channels []channelList, k, limit int) []*Hit {
	if k <= 0 {
		k = RRFConstant
	}

	merged := make(map[string]*Hit)
	var hits []*Hit

	for _, ch := range channels {
		for i, c := range ch.candidates {
			rank := i + 1
			hit, ok := merged[c.ChunkID]
			if !ok {
				hit = &Hit{
					ChunkID:    c.ChunkID,
					DocumentID: c.DocumentID,
					Content:    c.Content,
					order:      len(hits),
				}
				merged[c.ChunkID] = hit
				hits = append(hits, hit)
			}

			hit.RRFScore += 1.0 / float64(k+rank)
			hit.Sources = append(hit.Sources, ch.name)

			switch ch.name {
			case ChannelVector:
				hit.Similarity = c.Similarity
				hit.VectorRank = rank
			case ChannelFulltext:
				hit.TextRank = c.TextRank
				hit.FulltextRank = rank
			case ChannelTags:
				hit.TagScore = c.TagScore
				hit.MatchedTags = c.MatchedTags
				hit.TagRank = rank
			}
			if hit.Content == "" {
				hit.Content = c.Content
			}
			if hit.DocumentID == "" {
				hit.DocumentID = c.DocumentID
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].RRFScore != hits[j].RRFScore {
			return hits[i].RRFScore > hits[j].RRFScore
		}
		return hits[i].order < hits[j].order
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

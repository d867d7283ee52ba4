package store

import (
	"sort"
	"strings"
	"sync"
	"unicode"
)

// MinTrigramSimilarity is the floor below which trigram candidates are
// discarded, matching the pg_trgm default idiom.
const MinTrigramSimilarity = 0.1

// TrigramResult is one similarity hit from the trigram index.
type TrigramResult struct {
	ID         string
	Similarity float64
}

// TrigramIndex is an in-memory posting index of character trigrams over
// chunk text. It backs the second leg of the full-text channel: rows the
// token index misses can still surface by string similarity (typos,
// partial words). Rebuilt from SQLite on startup.
type TrigramIndex struct {
	mu       sync.RWMutex
	postings map[string]map[string]struct{} // trigram -> chunk id set
	grams    map[string]map[string]struct{} // chunk id -> trigram set
}

// NewTrigramIndex creates an empty index.
func NewTrigramIndex() *TrigramIndex {
	return &TrigramIndex{
		postings: make(map[string]map[string]struct{}),
		grams:    make(map[string]map[string]struct{}),
	}
}

// Add indexes (or reindexes) one chunk's text.
func (t *TrigramIndex) Add(id, text string) {
	grams := trigrams(text)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.removeLocked(id)
	t.grams[id] = grams
	for g := range grams {
		set, ok := t.postings[g]
		if !ok {
			set = make(map[string]struct{})
			t.postings[g] = set
		}
		set[id] = struct{}{}
	}
}

// Delete removes chunks from the index.
func (t *TrigramIndex) Delete(ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		t.removeLocked(id)
	}
}

func (t *TrigramIndex) removeLocked(id string) {
	grams, ok := t.grams[id]
	if !ok {
		return
	}
	for g := range grams {
		if set, ok := t.postings[g]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(t.postings, g)
			}
		}
	}
	delete(t.grams, id)
}

// Len returns the number of indexed chunks.
func (t *TrigramIndex) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.grams)
}

// Similar returns chunks whose trigram set resembles query, Jaccard-scored,
// best first. Chunks in exclude are skipped; scores below minSim are
// dropped.
func (t *TrigramIndex) Similar(query string, minSim float64, exclude map[string]bool, limit int) []*TrigramResult {
	queryGrams := trigrams(query)
	if len(queryGrams) == 0 {
		return nil
	}
	if minSim <= 0 {
		minSim = MinTrigramSimilarity
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	// Candidate generation: any chunk sharing at least one trigram.
	shared := make(map[string]int)
	for g := range queryGrams {
		for id := range t.postings[g] {
			if exclude[id] {
				continue
			}
			shared[id]++
		}
	}

	results := make([]*TrigramResult, 0, len(shared))
	for id, common := range shared {
		union := len(queryGrams) + len(t.grams[id]) - common
		if union == 0 {
			continue
		}
		sim := float64(common) / float64(union)
		if sim >= minSim {
			results = append(results, &TrigramResult{ID: id, Similarity: sim})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// trigrams lowercases text, maps non-alphanumerics to spaces, and emits
// the trigram set of each space-padded word, pg_trgm style.
func trigrams(text string) map[string]struct{} {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	out := make(map[string]struct{})
	for _, word := range strings.Fields(b.String()) {
		padded := "  " + word + " "
		for i := 0; i+3 <= len(padded); i++ {
			out[padded[i:i+3]] = struct{}{}
		}
	}
	return out
}

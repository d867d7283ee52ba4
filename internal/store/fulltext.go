package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
)

// FulltextResult is one token-match hit from the full-text index.
type FulltextResult struct {
	ID    string
	Score float64
}

// chunkDoc is the bleve document shape for one chunk.
type chunkDoc struct {
	Text string `json:"text"`
}

// FulltextIndex wraps a bleve index over chunk text for ranked token
// matching. The default analyzer (standard tokenizer + lowercase) fits
// natural-language chunks.
type FulltextIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	log    *slog.Logger
	closed bool
}

// OpenFulltextIndex opens or creates the chunk full-text index at path.
// An empty path creates an in-memory index for tests. A corrupted on-disk
// index is cleared and recreated; chunks must then be reindexed.
func OpenFulltextIndex(path string) (*FulltextIndex, error) {
	log := slog.Default().With(slog.String("component", "fulltext"))
	mapping := bleve.NewIndexMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
		if validErr := validateFulltextIntegrity(path); validErr != nil {
			log.Warn("fulltext index corrupted, clearing",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("clear corrupted index: %w", removeErr)
			}
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, mapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open fulltext index: %w", err)
	}

	return &FulltextIndex{index: idx, path: path, log: log}, nil
}

// validateFulltextIntegrity checks the bleve metadata file before opening,
// so a half-written index from a crashed process is detected up front.
func validateFulltextIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return err
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// Index adds or replaces chunks, keyed by chunk id.
func (f *FulltextIndex) Index(ctx context.Context, ids []string, texts []string) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(texts) {
		return fmt.Errorf("ids and texts length mismatch: %d vs %d", len(ids), len(texts))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("fulltext index is closed")
	}

	batch := f.index.NewBatch()
	for i, id := range ids {
		if err := batch.Index(id, chunkDoc{Text: texts[i]}); err != nil {
			return fmt.Errorf("index chunk %s: %w", id, err)
		}
	}
	return f.index.Batch(batch)
}

// Search returns chunks token-matching query, ranked by bleve's TF-IDF
// score. An empty query yields no results.
func (f *FulltextIndex) Search(ctx context.Context, query string, limit int) ([]*FulltextResult, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, fmt.Errorf("fulltext index is closed")
	}
	if strings.TrimSpace(query) == "" {
		return []*FulltextResult{}, nil
	}

	match := bleve.NewMatchQuery(query)
	match.SetField("text")

	req := bleve.NewSearchRequest(match)
	req.Size = limit

	res, err := f.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fulltext search: %w", err)
	}

	out := make([]*FulltextResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, &FulltextResult{ID: hit.ID, Score: hit.Score})
	}
	return out, nil
}

// Delete removes chunks from the index.
func (f *FulltextIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("fulltext index is closed")
	}

	batch := f.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return f.index.Batch(batch)
}

// Count returns the number of indexed chunks.
func (f *FulltextIndex) Count() (uint64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return 0, fmt.Errorf("fulltext index is closed")
	}
	return f.index.DocCount()
}

// Close releases the index.
func (f *FulltextIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.index.Close()
}

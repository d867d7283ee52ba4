// Package ingest is the ingestion orchestrator: it converts sources to
// canonical text, runs duplicate detection, persists the document and
// content rows, and schedules background enrichment. Deletion cascades
// through the relational store and purges the vector, full-text, and
// trigram indexes.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aman-CERP/corpora/internal/convert"
	"github.com/Aman-CERP/corpora/internal/dedup"
	"github.com/Aman-CERP/corpora/internal/enrich"
	"github.com/Aman-CERP/corpora/internal/errors"
	"github.com/Aman-CERP/corpora/internal/search"
	"github.com/Aman-CERP/corpora/internal/store"
)

// DefaultContextLimit is how many chunks EnhancePrompt folds into the
// prompt when the caller does not say.
const DefaultContextLimit = 5

// Service wires conversion, dedup, persistence, and enrichment scheduling.
type Service struct {
	store      *store.SQLite
	vectors    *store.HNSWStore
	fulltext   *store.FulltextIndex
	trigrams   *store.TrigramIndex
	converters *convert.Registry
	dedup      *dedup.Engine
	enricher   *enrich.Runner
	searcher   *search.Engine
	log        *slog.Logger
}

// Deps bundles the service's collaborators. Enricher may be nil, in which
// case documents stay pending until enrichment is scheduled externally.
type Deps struct {
	Store      *store.SQLite
	Vectors    *store.HNSWStore
	Fulltext   *store.FulltextIndex
	Trigrams   *store.TrigramIndex
	Converters *convert.Registry
	Enricher   *enrich.Runner
	Searcher   *search.Engine
}

// NewService creates the ingestion orchestrator.
func NewService(deps Deps) *Service {
	return &Service{
		store:      deps.Store,
		vectors:    deps.Vectors,
		fulltext:   deps.Fulltext,
		trigrams:   deps.Trigrams,
		converters: deps.Converters,
		dedup:      dedup.NewEngine(deps.Store),
		enricher:   deps.Enricher,
		searcher:   deps.Searcher,
		log:        slog.Default().With(slog.String("component", "ingest")),
	}
}

// AddRequest is one ingestion. Content may be empty for local files; the
// converter registry produces the canonical text then. Force skips
// duplicate detection and mangles the stored location so the uniqueness
// key cannot collide.
type AddRequest struct {
	Location string
	Content  string
	Title    string
	Metadata map[string]any
	Force    bool
}

// AddDocument ingests one source and returns its document id. A detected
// duplicate returns the existing id; that is a success, not an error.
func (s *Service) AddDocument(ctx context.Context, req AddRequest) (string, error) {
	if strings.TrimSpace(req.Location) == "" {
		return "", errors.New(errors.ErrCodeInvalidInput, "location is required", nil)
	}

	docType := convert.DetectType(req.Location)
	info, statErr := os.Stat(req.Location)
	isLocalFile := statErr == nil && !info.IsDir()

	content := req.Content
	conversionMethod := ""
	conversionDegraded := false
	if content == "" {
		if !isLocalFile {
			return "", errors.New(errors.ErrCodeFileNotFound,
				fmt.Sprintf("no content given and %s is not a readable file", req.Location), statErr)
		}
		result := s.converters.ToText(ctx, req.Location, docType)
		content = result.Text
		conversionMethod = result.Method
		conversionDegraded = result.Degraded
	}

	title := req.Title
	if title == "" {
		base := filepath.Base(req.Location)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}

	var modifiedAt time.Time
	if isLocalFile {
		modifiedAt = info.ModTime().UTC()
	}

	location := req.Location
	if req.Force {
		location = dedup.MangleLocation(req.Location)
	} else {
		existing, err := s.dedup.FindDuplicate(ctx, dedup.Candidate{
			Location:       req.Location,
			Content:        content,
			Title:          title,
			DocumentType:   docType,
			FileModifiedAt: modifiedAt,
		})
		if err != nil {
			return "", errors.Wrap(errors.ErrCodeStoreFailed, err)
		}
		if existing != nil {
			s.log.Info("duplicate detected, returning existing document",
				slog.String("location", req.Location),
				slog.String("id", existing.ID))
			return existing.ID, nil
		}
	}

	doc := &store.Document{
		Location:       location,
		Title:          title,
		DocumentType:   docType,
		Status:         store.StatusPending,
		FileModifiedAt: modifiedAt,
		Metadata:       cloneMetadata(req.Metadata),
	}
	if isLocalFile {
		if hash, err := dedup.HashFile(req.Location); err == nil {
			doc.SetMeta(store.MetaFileHash, hash)
		}
		doc.SetMeta(store.MetaFileSize, info.Size())
	}
	doc.SetMeta(store.MetaContentHash, dedup.HashContent(content))
	if conversionMethod != "" {
		doc.SetMeta(store.MetaConversionMethod, conversionMethod)
	}
	if conversionDegraded {
		doc.SetMeta("conversion_degraded", true)
	}

	if err := s.store.SaveDocument(ctx, doc); err != nil {
		return "", errors.Wrap(errors.ErrCodeStoreFailed, err)
	}
	if err := s.store.SaveContent(ctx, &store.Content{
		DocumentID:        doc.ID,
		Text:              content,
		OriginalMediaType: docType,
	}); err != nil {
		return "", errors.Wrap(errors.ErrCodeStoreFailed, err)
	}

	s.log.Info("document ingested",
		slog.String("id", doc.ID),
		slog.String("location", req.Location),
		slog.String("type", docType),
		slog.Int("content_bytes", len(content)))

	if s.enricher != nil {
		s.enricher.Schedule(doc.ID)
	}
	return doc.ID, nil
}

// Refresh re-ingests a local file in place: unknown locations are added,
// unchanged files (same mtime) are left alone, and modified files are
// deleted and re-added so enrichment runs against the new content.
func (s *Service) Refresh(ctx context.Context, path string) (string, error) {
	doc, err := s.store.GetDocumentByLocation(ctx, path)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeStoreFailed, err)
	}
	if doc != nil {
		info, err := os.Stat(path)
		if err == nil && info.ModTime().UTC().Equal(doc.FileModifiedAt) {
			return doc.ID, nil
		}
		if _, err := s.DeleteDocument(ctx, doc.ID); err != nil {
			return "", err
		}
	}
	return s.AddDocument(ctx, AddRequest{Location: path})
}

// DocumentView is a document with its canonical text and tags attached.
type DocumentView struct {
	*store.Document
	Text           string                  `json:"content"`
	Tags           []*store.TagAssociation `json:"tags,omitempty"`
	EmbeddingCount int                     `json:"embedding_count"`
}

// GetDocument returns the document view, nil when the id is unknown.
func (s *Service) GetDocument(ctx context.Context, id string) (*DocumentView, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreFailed, err)
	}
	if doc == nil {
		return nil, nil
	}

	view := &DocumentView{Document: doc}
	if content, err := s.store.GetContentByDocument(ctx, id); err == nil && content != nil {
		view.Text = content.Text
	}
	if tags, err := s.store.TagsForDocument(ctx, id); err == nil {
		view.Tags = tags
	}
	if n, err := s.store.CountEmbeddings(ctx, id); err == nil {
		view.EmbeddingCount = n
	}
	return view, nil
}

// UpdateRequest carries the mutable document fields. Nil pointers leave
// the field untouched; Metadata keys are merged into the existing map.
type UpdateRequest struct {
	Title        *string
	DocumentType *string
	Status       *string
	Metadata     map[string]any
}

// UpdateDocument applies the partial update.
func (s *Service) UpdateDocument(ctx context.Context, id string, req UpdateRequest) error {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, err)
	}
	if doc == nil {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("document %s not found", id), nil)
	}

	if req.Title != nil {
		doc.Title = *req.Title
	}
	if req.DocumentType != nil {
		doc.DocumentType = *req.DocumentType
	}
	if req.Status != nil {
		switch *req.Status {
		case store.StatusPending, store.StatusProcessing, store.StatusProcessed, store.StatusError:
			doc.Status = *req.Status
		default:
			return errors.New(errors.ErrCodeInvalidInput,
				fmt.Sprintf("invalid status %q", *req.Status), nil)
		}
	}
	for k, v := range req.Metadata {
		doc.SetMeta(k, v)
	}

	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, err)
	}
	return nil
}

// DeleteDocument removes the document, its content, chunks, tags, and
// propositions, and purges the chunk ids from the vector, full-text, and
// trigram indexes. Returns false when the id is unknown.
func (s *Service) DeleteDocument(ctx context.Context, id string) (bool, error) {
	chunkIDs, err := s.store.ChunkIDsByDocument(ctx, id)
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeStoreFailed, err)
	}

	deleted, err := s.store.DeleteDocument(ctx, id)
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeStoreFailed, err)
	}
	if !deleted {
		return false, nil
	}

	if len(chunkIDs) > 0 {
		if err := s.vectors.Delete(ctx, chunkIDs); err != nil {
			s.log.Warn("vector purge failed", slog.String("error", err.Error()))
		}
		if err := s.fulltext.Delete(ctx, chunkIDs); err != nil {
			s.log.Warn("fulltext purge failed", slog.String("error", err.Error()))
		}
		s.trigrams.Delete(chunkIDs)
	}

	s.log.Info("document deleted",
		slog.String("id", id), slog.Int("chunks", len(chunkIDs)))
	return true, nil
}

// DeleteByLocation deletes the document stored under location, if any.
func (s *Service) DeleteByLocation(ctx context.Context, location string) (bool, error) {
	doc, err := s.store.GetDocumentByLocation(ctx, location)
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeStoreFailed, err)
	}
	if doc == nil {
		return false, nil
	}
	return s.DeleteDocument(ctx, doc.ID)
}

// ListDocuments pages through documents, newest first.
func (s *Service) ListDocuments(ctx context.Context, limit, offset int) ([]*store.Document, error) {
	docs, err := s.store.ListDocuments(ctx, limit, offset)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreFailed, err)
	}
	return docs, nil
}

// ContextSource identifies one chunk folded into an enhanced prompt.
type ContextSource struct {
	DocumentID string  `json:"document_id"`
	ChunkID    string  `json:"chunk_id"`
	Similarity float64 `json:"similarity"`
}

// Enhanced is the EnhancePrompt outcome.
type Enhanced struct {
	Prompt  string          `json:"enhanced_prompt"`
	Sources []ContextSource `json:"context_sources"`
}

// EnhancePrompt searches for the prompt and prepends the top chunk texts
// as context. With no hits the prompt passes through unchanged.
func (s *Service) EnhancePrompt(ctx context.Context, prompt string, contextLimit int) (*Enhanced, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "prompt is required", nil)
	}
	if contextLimit <= 0 {
		contextLimit = DefaultContextLimit
	}

	resp, err := s.searcher.Search(ctx, search.Request{
		Query:           prompt,
		Limit:           contextLimit,
		DisableTracking: true,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return &Enhanced{Prompt: prompt}, nil
	}

	var b strings.Builder
	b.WriteString("Use the following context to answer.\n\n")
	sources := make([]ContextSource, 0, len(resp.Results))
	for i, hit := range resp.Results {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, strings.TrimSpace(hit.Content))
		sources = append(sources, ContextSource{
			DocumentID: hit.DocumentID,
			ChunkID:    hit.ChunkID,
			Similarity: hit.Similarity,
		})
	}
	b.WriteString("---\n\n")
	b.WriteString(prompt)

	return &Enhanced{Prompt: b.String(), Sources: sources}, nil
}

func cloneMetadata(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

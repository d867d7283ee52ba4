// Package dedup detects duplicate documents on ingest. Checks run from
// cheap to expensive: exact location, location plus mtime, file hash,
// size-bucketed similarity, and content hash / title heuristics for
// non-file sources. The first match wins and ingest returns the existing
// document id instead of creating a new row.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/corpora/internal/store"
)

// maxLengthDrift is the tolerated content-length difference for the
// similarity predicate and the title heuristic, as a share of the larger
// length.
const maxLengthDrift = 0.05

// Store is the slice of the metadata store dedup consumes.
type Store interface {
	GetDocumentByLocation(ctx context.Context, location string) (*store.Document, error)
	GetDocumentByLocationModTime(ctx context.Context, location string, modifiedAt time.Time) (*store.Document, error)
	FindDocumentsByMetaString(ctx context.Context, key, value string) ([]*store.Document, error)
	FindDocumentsByFileSize(ctx context.Context, size int64) ([]*store.Document, error)
	FindDocumentsByTitle(ctx context.Context, title string) ([]*store.Document, error)
	GetContentByDocument(ctx context.Context, documentID string) (*store.Content, error)
}

// Candidate describes an incoming document before any row exists.
type Candidate struct {
	Location       string
	Content        string
	Title          string
	DocumentType   string
	FileModifiedAt time.Time
}

// Engine runs the duplicate checks against the store.
type Engine struct {
	store Store
	log   *slog.Logger
}

// NewEngine creates a dedup engine.
func NewEngine(s Store) *Engine {
	return &Engine{
		store: s,
		log:   slog.Default().With(slog.String("component", "dedup")),
	}
}

// MangleLocation appends a unique suffix so a forced ingest never collides
// with the (location, file_modified_at) uniqueness key.
func MangleLocation(location string) string {
	return fmt.Sprintf("%s#force-%s", location, uuid.NewString()[:8])
}

// FindDuplicate returns the existing document the candidate duplicates,
// or nil when the candidate is new.
func (e *Engine) FindDuplicate(ctx context.Context, c Candidate) (*store.Document, error) {
	// Exact location.
	if doc, err := e.store.GetDocumentByLocation(ctx, c.Location); err != nil {
		return nil, err
	} else if doc != nil {
		e.log.Debug("duplicate by location",
			slog.String("location", c.Location), slog.String("id", doc.ID))
		return doc, nil
	}

	// Location + mtime.
	if !c.FileModifiedAt.IsZero() {
		doc, err := e.store.GetDocumentByLocationModTime(ctx, c.Location, c.FileModifiedAt)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			return doc, nil
		}
	}

	info, statErr := os.Stat(c.Location)
	isLocalFile := statErr == nil && !info.IsDir()

	if isLocalFile {
		return e.findLocalDuplicate(ctx, c, info)
	}
	return e.findRemoteDuplicate(ctx, c)
}

// findLocalDuplicate checks file hash, then the size-bucketed similarity
// predicate.
func (e *Engine) findLocalDuplicate(ctx context.Context, c Candidate, info os.FileInfo) (*store.Document, error) {
	hash, err := HashFile(c.Location)
	if err != nil {
		e.log.Warn("hashing failed, skipping hash check",
			slog.String("location", c.Location), slog.String("error", err.Error()))
	} else {
		docs, err := e.store.FindDocumentsByMetaString(ctx, store.MetaFileHash, hash)
		if err != nil {
			return nil, err
		}
		if len(docs) > 0 {
			e.log.Debug("duplicate by file hash", slog.String("id", docs[0].ID))
			return docs[0], nil
		}
	}

	sameSize, err := e.store.FindDocumentsByFileSize(ctx, info.Size())
	if err != nil {
		return nil, err
	}
	for _, doc := range sameSize {
		match, err := e.similar(ctx, c, doc)
		if err != nil {
			return nil, err
		}
		if match {
			e.log.Debug("duplicate by similarity predicate", slog.String("id", doc.ID))
			return doc, nil
		}
	}
	return nil, nil
}

// findRemoteDuplicate checks content hash, then equal title with content
// length within tolerance.
func (e *Engine) findRemoteDuplicate(ctx context.Context, c Candidate) (*store.Document, error) {
	if c.Content != "" {
		hash := HashContent(c.Content)
		docs, err := e.store.FindDocumentsByMetaString(ctx, store.MetaContentHash, hash)
		if err != nil {
			return nil, err
		}
		if len(docs) > 0 {
			e.log.Debug("duplicate by content hash", slog.String("id", docs[0].ID))
			return docs[0], nil
		}
	}

	if c.Title == "" {
		return nil, nil
	}
	byTitle, err := e.store.FindDocumentsByTitle(ctx, c.Title)
	if err != nil {
		return nil, err
	}
	for _, doc := range byTitle {
		existing, err := e.store.GetContentByDocument(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			continue
		}
		if withinDrift(len(c.Content), len(existing.Text)) {
			e.log.Debug("duplicate by title and length", slog.String("id", doc.ID))
			return doc, nil
		}
	}
	return nil, nil
}

// similar is the size-bucket predicate: same extension-stripped basename,
// content lengths within tolerance, same document type, same non-empty
// title.
func (e *Engine) similar(ctx context.Context, c Candidate, doc *store.Document) (bool, error) {
	if baseName(c.Location) != baseName(doc.Location) {
		return false, nil
	}
	if c.DocumentType != doc.DocumentType {
		return false, nil
	}
	if c.Title == "" || c.Title != doc.Title {
		return false, nil
	}

	existing, err := e.store.GetContentByDocument(ctx, doc.ID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	return withinDrift(len(c.Content), len(existing.Text)), nil
}

// withinDrift reports whether two lengths differ by at most maxLengthDrift
// of the larger.
func withinDrift(a, b int) bool {
	larger := max(a, b)
	if larger == 0 {
		return true
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) <= maxLengthDrift*float64(larger)
}

// baseName strips the directory and extension from a location.
func baseName(location string) string {
	base := filepath.Base(location)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// HashFile returns the hex SHA-256 of a file's bytes.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashContent returns the hex SHA-256 of a string.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

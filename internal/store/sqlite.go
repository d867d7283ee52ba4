package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Aman-CERP/corpora/internal/tag"
)

// SQLite persists documents, contents, chunk embeddings, tags, propositions,
// and search tracking. A single connection in WAL mode keeps writers
// serialized; the busy timeout absorbs contention from concurrent readers.
type SQLite struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	log    *slog.Logger
	closed bool
}

// OpenSQLite opens (or creates) the metadata database at path. An empty
// path opens an in-memory database for tests.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer; modernc.org/sqlite serializes anyway and this keeps
	// lock contention out of the driver.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Pragmas must go through statements; modernc.org/sqlite ignores most
	// DSN parameters.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &SQLite{
		db:   db,
		path: path,
		log:  slog.Default().With(slog.String("component", "store")),
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		id               TEXT PRIMARY KEY,
		location         TEXT NOT NULL,
		title            TEXT NOT NULL DEFAULT '',
		document_type    TEXT NOT NULL DEFAULT 'unknown',
		status           TEXT NOT NULL DEFAULT 'pending',
		file_modified_at INTEGER NOT NULL DEFAULT 0,
		metadata         TEXT NOT NULL DEFAULT '{}',
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL,
		UNIQUE(location, file_modified_at)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_location ON documents(location);
	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

	CREATE TABLE IF NOT EXISTS contents (
		id                  TEXT PRIMARY KEY,
		document_id         TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		content             TEXT NOT NULL,
		original_media_type TEXT NOT NULL DEFAULT '',
		embedding_model     TEXT NOT NULL DEFAULT '',
		metadata            TEXT NOT NULL DEFAULT '{}',
		created_at          INTEGER NOT NULL,
		UNIQUE(document_id)
	);

	CREATE TABLE IF NOT EXISTS chunk_embeddings (
		id              TEXT PRIMARY KEY,
		content_id      TEXT NOT NULL REFERENCES contents(id) ON DELETE CASCADE,
		document_id     TEXT NOT NULL,
		chunk_index     INTEGER NOT NULL,
		text            TEXT NOT NULL,
		embedding       BLOB,
		content_type    TEXT NOT NULL DEFAULT 'text',
		embedding_model TEXT NOT NULL DEFAULT '',
		metadata        TEXT NOT NULL DEFAULT '{}',
		created_at      INTEGER NOT NULL,
		UNIQUE(content_id, chunk_index)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunk_embeddings(document_id);

	CREATE TABLE IF NOT EXISTS tags (
		name        TEXT PRIMARY KEY,
		parent_name TEXT,
		depth       INTEGER NOT NULL DEFAULT 0,
		usage_count INTEGER NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS document_tags (
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		tag_name    TEXT NOT NULL REFERENCES tags(name) ON DELETE CASCADE,
		confidence  REAL NOT NULL DEFAULT 1.0,
		source      TEXT NOT NULL DEFAULT 'auto',
		PRIMARY KEY(document_id, tag_name)
	);

	CREATE TABLE IF NOT EXISTS chunk_tags (
		chunk_id   TEXT NOT NULL REFERENCES chunk_embeddings(id) ON DELETE CASCADE,
		tag_name   TEXT NOT NULL REFERENCES tags(name) ON DELETE CASCADE,
		confidence REAL NOT NULL DEFAULT 1.0,
		source     TEXT NOT NULL DEFAULT 'auto',
		PRIMARY KEY(chunk_id, tag_name)
	);

	CREATE TABLE IF NOT EXISTS propositions (
		id              TEXT PRIMARY KEY,
		document_id     TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		source_chunk_id TEXT,
		content         TEXT NOT NULL,
		embedding       BLOB,
		created_at      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_propositions_document ON propositions(document_id);

	CREATE TABLE IF NOT EXISTS searches (
		id                TEXT PRIMARY KEY,
		query             TEXT NOT NULL,
		search_type       TEXT NOT NULL DEFAULT 'hybrid',
		results_count     INTEGER NOT NULL DEFAULT 0,
		execution_time_ms INTEGER NOT NULL DEFAULT 0,
		filters           TEXT NOT NULL DEFAULT '{}',
		options           TEXT NOT NULL DEFAULT '{}',
		session_id        TEXT NOT NULL DEFAULT '',
		user_id           TEXT NOT NULL DEFAULT '',
		min_similarity    REAL NOT NULL DEFAULT 0,
		max_similarity    REAL NOT NULL DEFAULT 0,
		avg_similarity    REAL NOT NULL DEFAULT 0,
		created_at        INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS search_results (
		search_id        TEXT NOT NULL REFERENCES searches(id) ON DELETE CASCADE,
		chunk_id         TEXT NOT NULL,
		rank             INTEGER NOT NULL,
		similarity_score REAL NOT NULL DEFAULT 0,
		clicked          INTEGER NOT NULL DEFAULT 0,
		clicked_at       INTEGER,
		PRIMARY KEY(search_id, chunk_id)
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// NewID returns a fresh opaque identifier.
func NewID() string {
	return uuid.NewString()
}

// ---- documents ----

// SaveDocument inserts a new document. Timestamps and ID are assigned when
// unset.
func (s *SQLite) SaveDocument(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = NewID()
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = StatusPending
	}

	meta, err := encodeJSON(doc.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, location, title, document_type, status,
			file_modified_at, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Location, doc.Title, doc.DocumentType, doc.Status,
		doc.FileModifiedAt.UTC().Unix(), meta,
		doc.CreatedAt.Unix(), doc.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

const documentColumns = `id, location, title, document_type, status,
	file_modified_at, metadata, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	var d Document
	var meta string
	var modAt, createdAt, updatedAt int64
	err := row.Scan(&d.ID, &d.Location, &d.Title, &d.DocumentType, &d.Status,
		&modAt, &meta, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	d.FileModifiedAt = time.Unix(modAt, 0).UTC()
	d.CreatedAt = time.Unix(createdAt, 0).UTC()
	d.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if err := json.Unmarshal([]byte(meta), &d.Metadata); err != nil {
		return nil, fmt.Errorf("decode document metadata: %w", err)
	}
	return &d, nil
}

// GetDocument fetches one document by id, nil when absent.
func (s *SQLite) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return doc, err
}

// GetDocumentByLocation returns the newest document at location, nil when
// absent.
func (s *SQLite) GetDocumentByLocation(ctx context.Context, location string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE location = ? ORDER BY created_at DESC LIMIT 1`, location)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return doc, err
}

// GetDocumentByLocationModTime matches the (location, file_modified_at)
// uniqueness key.
func (s *SQLite) GetDocumentByLocationModTime(ctx context.Context, location string, modifiedAt time.Time) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE location = ? AND file_modified_at = ?`,
		location, modifiedAt.UTC().Unix())
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return doc, err
}

func (s *SQLite) queryDocuments(ctx context.Context, where string, args ...any) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// FindDocumentsByMetaString returns documents whose metadata key equals
// value. Used by dedup for file_hash / content_hash lookups.
func (s *SQLite) FindDocumentsByMetaString(ctx context.Context, key, value string) ([]*Document, error) {
	return s.queryDocuments(ctx,
		`WHERE json_extract(metadata, '$.'||?) = ?`, key, value)
}

// FindDocumentsByFileSize returns documents whose metadata.file_size equals
// size.
func (s *SQLite) FindDocumentsByFileSize(ctx context.Context, size int64) ([]*Document, error) {
	return s.queryDocuments(ctx,
		`WHERE json_extract(metadata, '$.file_size') = ?`, size)
}

// FindDocumentsByTitle returns documents with an exact, non-empty title.
func (s *SQLite) FindDocumentsByTitle(ctx context.Context, title string) ([]*Document, error) {
	if title == "" {
		return nil, nil
	}
	return s.queryDocuments(ctx, `WHERE title = ?`, title)
}

// UpdateDocument persists mutable document fields.
func (s *SQLite) UpdateDocument(ctx context.Context, doc *Document) error {
	doc.UpdatedAt = time.Now().UTC()
	meta, err := encodeJSON(doc.Metadata)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET title = ?, document_type = ?, status = ?, file_modified_at = ?,
			metadata = ?, updated_at = ?
		WHERE id = ?`,
		doc.Title, doc.DocumentType, doc.Status,
		doc.FileModifiedAt.UTC().Unix(), meta, doc.UpdatedAt.Unix(), doc.ID)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s not found", doc.ID)
	}
	return nil
}

// UpdateDocumentStatus sets only the lifecycle status.
func (s *SQLite) UpdateDocumentStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC().Unix(), id)
	return err
}

// DeleteDocument removes a document; contents, chunks, tags associations,
// and propositions cascade. Returns false when the id was unknown.
func (s *SQLite) DeleteDocument(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListDocuments returns documents newest-first.
func (s *SQLite) ListDocuments(ctx context.Context, limit, offset int) ([]*Document, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryDocuments(ctx,
		`ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
}

// CountDocuments returns the document total.
func (s *SQLite) CountDocuments(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// ---- contents ----

// SaveContent inserts the canonical text for a document.
func (s *SQLite) SaveContent(ctx context.Context, c *Content) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	meta, err := encodeJSON(c.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contents (id, document_id, content, original_media_type,
			embedding_model, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.DocumentID, c.Text, c.OriginalMediaType,
		c.EmbeddingModel, meta, c.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("save content: %w", err)
	}
	return nil
}

// GetContentByDocument returns the canonical text of a document, nil when
// absent.
func (s *SQLite) GetContentByDocument(ctx context.Context, documentID string) (*Content, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, content, original_media_type, embedding_model,
			metadata, created_at
		FROM contents WHERE document_id = ?`, documentID)

	var c Content
	var meta string
	var createdAt int64
	err := row.Scan(&c.ID, &c.DocumentID, &c.Text, &c.OriginalMediaType,
		&c.EmbeddingModel, &meta, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
		return nil, fmt.Errorf("decode content metadata: %w", err)
	}
	return &c, nil
}

// ---- chunk embeddings ----

// SaveChunks inserts chunk embeddings in one transaction. Chunk IDs are
// assigned when unset.
func (s *SQLite) SaveChunks(ctx context.Context, chunks []*ChunkEmbedding) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunk_embeddings (id, content_id, document_id, chunk_index,
			text, embedding, content_type, embedding_model, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		if c.ID == "" {
			c.ID = NewID()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
		if c.ContentType == "" {
			c.ContentType = ChunkTypeText
		}
		meta, err := encodeJSON(c.Metadata)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx, c.ID, c.ContentID, c.DocumentID,
			c.ChunkIndex, c.Text, encodeVector(c.Vector), c.ContentType,
			c.EmbeddingModel, meta, c.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("save chunk %d: %w", c.ChunkIndex, err)
		}
	}
	return tx.Commit()
}

const chunkColumns = `id, content_id, document_id, chunk_index, text,
	embedding, content_type, embedding_model, metadata, created_at`

func scanChunk(row interface{ Scan(...any) error }) (*ChunkEmbedding, error) {
	var c ChunkEmbedding
	var meta string
	var blob []byte
	var createdAt int64
	err := row.Scan(&c.ID, &c.ContentID, &c.DocumentID, &c.ChunkIndex,
		&c.Text, &blob, &c.ContentType, &c.EmbeddingModel, &meta, &createdAt)
	if err != nil {
		return nil, err
	}
	c.Vector = decodeVector(blob)
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
		return nil, fmt.Errorf("decode chunk metadata: %w", err)
	}
	return &c, nil
}

// GetChunk fetches one chunk, nil when absent.
func (s *SQLite) GetChunk(ctx context.Context, id string) (*ChunkEmbedding, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM chunk_embeddings WHERE id = ?`, id)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// GetChunksByDocument returns a document's chunks ordered by chunk_index.
func (s *SQLite) GetChunksByDocument(ctx context.Context, documentID string) ([]*ChunkEmbedding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunk_embeddings
		 WHERE document_id = ? ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*ChunkEmbedding
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ChunkIDsByDocument returns the chunk ids of a document. Used to purge the
// vector and full-text indexes on delete.
func (s *SQLite) ChunkIDsByDocument(ctx context.Context, documentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM chunk_embeddings WHERE document_id = ?`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountEmbeddings returns the number of chunk embeddings for a document.
func (s *SQLite) CountEmbeddings(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunk_embeddings WHERE document_id = ?`,
		documentID).Scan(&n)
	return n, err
}

// GetChunksWithDocuments batch-fetches chunks joined with the document
// fields the retrieval filters need, keyed by chunk id.
func (s *SQLite) GetChunksWithDocuments(ctx context.Context, ids []string) (map[string]*ChunkWithDocument, error) {
	out := make(map[string]*ChunkWithDocument, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	// Batched IN clauses keep us under SQLite's parameter limit.
	const batch = 500
	for start := 0; start < len(ids); start += batch {
		end := min(start+batch, len(ids))
		part := ids[start:end]

		placeholders := strings.Repeat("?,", len(part))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, len(part))
		for i, id := range part {
			args[i] = id
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT c.id, c.content_id, c.document_id, c.chunk_index, c.text,
				c.content_type, c.embedding_model,
				d.document_type, d.metadata, d.created_at
			FROM chunk_embeddings c
			JOIN documents d ON d.id = c.document_id
			WHERE c.id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, err
		}

		for rows.Next() {
			var c ChunkEmbedding
			var docType, docMeta string
			var docCreated int64
			err := rows.Scan(&c.ID, &c.ContentID, &c.DocumentID, &c.ChunkIndex,
				&c.Text, &c.ContentType, &c.EmbeddingModel,
				&docType, &docMeta, &docCreated)
			if err != nil {
				rows.Close()
				return nil, err
			}
			doc := Document{DocumentType: docType}
			if err := json.Unmarshal([]byte(docMeta), &doc.Metadata); err != nil {
				rows.Close()
				return nil, fmt.Errorf("decode document metadata: %w", err)
			}
			out[c.ID] = &ChunkWithDocument{
				Chunk:        &c,
				DocumentType: docType,
				Keywords:     doc.Keywords(),
				DocCreatedAt: time.Unix(docCreated, 0).UTC(),
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// IterateChunks streams every chunk's id and text. The full-text and
// trigram indexes rebuild from this on startup.
func (s *SQLite) IterateChunks(ctx context.Context, fn func(id, text string) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text FROM chunk_embeddings ORDER BY rowid`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return err
		}
		if err := fn(id, text); err != nil {
			return err
		}
	}
	return rows.Err()
}

// AllEmbeddings returns every chunk vector keyed by chunk id, for vector
// index rebuilds.
func (s *SQLite) AllEmbeddings(ctx context.Context) (map[string][]float32, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, embedding FROM chunk_embeddings WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		if v := decodeVector(blob); len(v) > 0 {
			out[id] = v
		}
	}
	return out, rows.Err()
}

// ---- tags ----

// FindOrCreateTagChain creates the tag and every missing ancestor prefix in
// one transaction, then returns the leaf. Concurrent writers racing on the
// same path are resolved by INSERT OR IGNORE on the primary key.
func (s *SQLite) FindOrCreateTagChain(ctx context.Context, name string) (*Tag, error) {
	if !tag.IsValid(name) {
		return nil, fmt.Errorf("invalid tag name: %q", name)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Unix()
	for _, prefix := range tag.AncestorPrefixes(name) {
		parent := any(tag.ParentName(prefix))
		if parent == "" {
			parent = nil
		}
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO tags (name, parent_name, depth, usage_count, created_at)
			VALUES (?, ?, ?, 0, ?)`,
			prefix, parent, tag.Depth(prefix), now)
		if err != nil {
			return nil, fmt.Errorf("create tag %q: %w", prefix, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetTag(ctx, name)
}

// GetTag fetches one tag by name, nil when absent.
func (s *SQLite) GetTag(ctx context.Context, name string) (*Tag, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, COALESCE(parent_name, ''), depth, usage_count, created_at
		FROM tags WHERE name = ?`, name)

	var t Tag
	var createdAt int64
	err := row.Scan(&t.Name, &t.ParentName, &t.Depth, &t.UsageCount, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &t, nil
}

// ListTags returns tags by descending usage, for the extractor ontology.
func (s *SQLite) ListTags(ctx context.Context, limit int) ([]*Tag, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, COALESCE(parent_name, ''), depth, usage_count, created_at
		FROM tags ORDER BY usage_count DESC, name LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []*Tag
	for rows.Next() {
		var t Tag
		var createdAt int64
		if err := rows.Scan(&t.Name, &t.ParentName, &t.Depth, &t.UsageCount, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt = time.Unix(createdAt, 0).UTC()
		tags = append(tags, &t)
	}
	return tags, rows.Err()
}

// associate inserts an owner→tag row and bumps usage_count exactly once.
func (s *SQLite) associate(ctx context.Context, table, ownerCol, ownerID, tagName string, confidence float64, source string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT OR IGNORE INTO %s (%s, tag_name, confidence, source)
		VALUES (?, ?, ?, ?)`, table, ownerCol),
		ownerID, tagName, confidence, source)
	if err != nil {
		return fmt.Errorf("associate tag %q: %w", tagName, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE tags SET usage_count = usage_count + 1 WHERE name = ?`, tagName)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AssociateDocumentTag links a document to a tag.
func (s *SQLite) AssociateDocumentTag(ctx context.Context, documentID, tagName string, confidence float64, source string) error {
	return s.associate(ctx, "document_tags", "document_id", documentID, tagName, confidence, source)
}

// AssociateChunkTag links a chunk to a tag.
func (s *SQLite) AssociateChunkTag(ctx context.Context, chunkID, tagName string, confidence float64, source string) error {
	return s.associate(ctx, "chunk_tags", "chunk_id", chunkID, tagName, confidence, source)
}

// TagsForDocument returns a document's tag associations.
func (s *SQLite) TagsForDocument(ctx context.Context, documentID string) ([]*TagAssociation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, tag_name, confidence, source
		FROM document_tags WHERE document_id = ? ORDER BY tag_name`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TagAssociation
	for rows.Next() {
		var a TagAssociation
		if err := rows.Scan(&a.OwnerID, &a.TagName, &a.Confidence, &a.Source); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// ChunksMatchingTags returns distinct chunks whose tag set (chunk tags
// unioned with their document's tags) intersects names, newest chunks
// first, with the matched tag names per chunk.
func (s *SQLite) ChunksMatchingTags(ctx context.Context, names []string, limit int) ([]*TaggedChunk, error) {
	if len(names) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	placeholders := strings.Repeat("?,", len(names))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, 2*len(names)+1)
	for _, n := range names {
		args = append(args, n)
	}
	for _, n := range names {
		args = append(args, n)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, GROUP_CONCAT(DISTINCT tag_name) FROM (
			SELECT ct.chunk_id AS chunk_id, ct.tag_name AS tag_name
			FROM chunk_tags ct
			WHERE ct.tag_name IN (`+placeholders+`)
			UNION
			SELECT ce.id AS chunk_id, dt.tag_name AS tag_name
			FROM document_tags dt
			JOIN chunk_embeddings ce ON ce.document_id = dt.document_id
			WHERE dt.tag_name IN (`+placeholders+`)
		)
		GROUP BY chunk_id
		ORDER BY COUNT(DISTINCT tag_name) DESC, chunk_id
		LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TaggedChunk
	for rows.Next() {
		var tc TaggedChunk
		var matched string
		if err := rows.Scan(&tc.ChunkID, &matched); err != nil {
			return nil, err
		}
		tc.MatchedTags = strings.Split(matched, ",")
		out = append(out, &tc)
	}
	return out, rows.Err()
}

// ---- propositions ----

// SavePropositions inserts propositions in one transaction.
func (s *SQLite) SavePropositions(ctx context.Context, props []*Proposition) error {
	if len(props) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO propositions (id, document_id, source_chunk_id, content,
			embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range props {
		if p.ID == "" {
			p.ID = NewID()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		var source any
		if p.SourceChunkID != "" {
			source = p.SourceChunkID
		}
		_, err := stmt.ExecContext(ctx, p.ID, p.DocumentID, source,
			p.Content, encodeVector(p.Vector), p.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("save proposition: %w", err)
		}
	}
	return tx.Commit()
}

// PropositionsByDocument returns a document's propositions oldest-first.
func (s *SQLite) PropositionsByDocument(ctx context.Context, documentID string) ([]*Proposition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, COALESCE(source_chunk_id, ''), content,
			embedding, created_at
		FROM propositions WHERE document_id = ? ORDER BY created_at, id`,
		documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Proposition
	for rows.Next() {
		var p Proposition
		var blob []byte
		var createdAt int64
		err := rows.Scan(&p.ID, &p.DocumentID, &p.SourceChunkID, &p.Content,
			&blob, &createdAt)
		if err != nil {
			return nil, err
		}
		p.Vector = decodeVector(blob)
		p.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ---- search tracking ----

// RecordSearch inserts a search and its results in one transaction.
// Aggregate similarity statistics are computed here from the results.
func (s *SQLite) RecordSearch(ctx context.Context, search *Search, results []*SearchResult) error {
	if search.ID == "" {
		search.ID = NewID()
	}
	if search.CreatedAt.IsZero() {
		search.CreatedAt = time.Now().UTC()
	}
	search.ResultsCount = len(results)
	search.MinSimilarity, search.MaxSimilarity, search.AvgSimilarity = similarityStats(results)

	filters, err := encodeJSON(search.Filters)
	if err != nil {
		return err
	}
	options, err := encodeJSON(search.Options)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO searches (id, query, search_type, results_count,
			execution_time_ms, filters, options, session_id, user_id,
			min_similarity, max_similarity, avg_similarity, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		search.ID, search.Query, search.SearchType, search.ResultsCount,
		search.ExecutionTimeMS, filters, options, search.SessionID,
		search.UserID, search.MinSimilarity, search.MaxSimilarity,
		search.AvgSimilarity, search.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("record search: %w", err)
	}

	for _, r := range results {
		r.SearchID = search.ID
		_, err := tx.ExecContext(ctx, `
			INSERT INTO search_results (search_id, chunk_id, rank, similarity_score)
			VALUES (?, ?, ?, ?)`,
			r.SearchID, r.ChunkID, r.Rank, r.SimilarityScore)
		if err != nil {
			return fmt.Errorf("record search result: %w", err)
		}
	}
	return tx.Commit()
}

// GetSearch fetches one recorded search, nil when absent.
func (s *SQLite) GetSearch(ctx context.Context, id string) (*Search, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, query, search_type, results_count, execution_time_ms,
			filters, options, session_id, user_id, min_similarity,
			max_similarity, avg_similarity, created_at
		FROM searches WHERE id = ?`, id)

	var se Search
	var filters, options string
	var createdAt int64
	err := row.Scan(&se.ID, &se.Query, &se.SearchType, &se.ResultsCount,
		&se.ExecutionTimeMS, &filters, &options, &se.SessionID, &se.UserID,
		&se.MinSimilarity, &se.MaxSimilarity, &se.AvgSimilarity, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	se.CreatedAt = time.Unix(createdAt, 0).UTC()
	if err := json.Unmarshal([]byte(filters), &se.Filters); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(options), &se.Options); err != nil {
		return nil, err
	}
	return &se, nil
}

// SearchResults returns the recorded results of a search, by rank.
func (s *SQLite) SearchResults(ctx context.Context, searchID string) ([]*SearchResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT search_id, chunk_id, rank, similarity_score, clicked,
			COALESCE(clicked_at, 0)
		FROM search_results WHERE search_id = ? ORDER BY rank`, searchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SearchResult
	for rows.Next() {
		var r SearchResult
		var clicked int
		var clickedAt int64
		err := rows.Scan(&r.SearchID, &r.ChunkID, &r.Rank, &r.SimilarityScore,
			&clicked, &clickedAt)
		if err != nil {
			return nil, err
		}
		r.Clicked = clicked != 0
		if clickedAt > 0 {
			r.ClickedAt = time.Unix(clickedAt, 0).UTC()
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// MarkClicked flags one result of a recorded search as clicked.
func (s *SQLite) MarkClicked(ctx context.Context, searchID, chunkID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE search_results SET clicked = 1, clicked_at = ?
		WHERE search_id = ? AND chunk_id = ?`,
		time.Now().UTC().Unix(), searchID, chunkID)
	return err
}

// DeleteSearchResult removes one result; when it was the last one the
// parent search is deleted in the same transaction so no orphan survives.
func (s *SQLite) DeleteSearchResult(ctx context.Context, searchID, chunkID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM search_results WHERE search_id = ? AND chunk_id = ?`,
		searchID, chunkID)
	if err != nil {
		return err
	}

	var remaining int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM search_results WHERE search_id = ?`,
		searchID).Scan(&remaining)
	if err != nil {
		return err
	}
	if remaining == 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM searches WHERE id = ?`, searchID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ---- helpers ----

func similarityStats(results []*SearchResult) (minScore, maxScore, avgScore float64) {
	if len(results) == 0 {
		return 0, 0, 0
	}
	minScore = math.Inf(1)
	var sum float64
	for _, r := range results {
		minScore = math.Min(minScore, r.SimilarityScore)
		maxScore = math.Max(maxScore, r.SimilarityScore)
		sum += r.SimilarityScore
	}
	return minScore, maxScore, sum / float64(len(results))
}

func encodeJSON(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}

// encodeVector packs float32s little-endian; nil for an empty vector.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}

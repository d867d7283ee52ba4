package dedup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/corpora/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.SQLite) {
	t.Helper()
	s, err := store.OpenSQLite("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewEngine(s), s
}

func saveDoc(t *testing.T, s *store.SQLite, doc *store.Document, content string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveDocument(ctx, doc))
	if content != "" {
		require.NoError(t, s.SaveContent(ctx, &store.Content{
			DocumentID: doc.ID,
			Text:       content,
		}))
	}
}

func TestDuplicateByLocation(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	doc := &store.Document{Location: "/a/b.txt", DocumentType: "text"}
	saveDoc(t, s, doc, "foo")

	dup, err := e.FindDuplicate(ctx, Candidate{Location: "/a/b.txt", Content: "foo different"})
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.Equal(t, doc.ID, dup.ID)
}

func TestNoDuplicateForNewLocation(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	saveDoc(t, s, &store.Document{Location: "/a/b.txt"}, "foo")

	dup, err := e.FindDuplicate(ctx, Candidate{Location: "/a/c.txt", Content: "bar"})
	require.NoError(t, err)
	assert.Nil(t, dup)
}

func TestDuplicateByFileHash(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("identical bytes"), 0o644))
	hash, err := HashFile(path)
	require.NoError(t, err)

	doc := &store.Document{
		Location: filepath.Join(dir, "old-name.txt"),
		Metadata: map[string]any{store.MetaFileHash: hash},
	}
	saveDoc(t, s, doc, "identical bytes")

	dup, err := e.FindDuplicate(ctx, Candidate{Location: path, Content: "identical bytes"})
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.Equal(t, doc.ID, dup.ID)
}

func TestDuplicateBySimilarityPredicate(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	dir := t.TempDir()
	content := "some document body that is long enough to compare"
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)

	// Same basename under another directory, same size bucket, same type
	// and title; file hash differs so only the predicate can match.
	doc := &store.Document{
		Location:     "/elsewhere/notes.txt",
		Title:        "notes",
		DocumentType: "text",
		Metadata: map[string]any{
			store.MetaFileHash: "different",
			store.MetaFileSize: info.Size(),
		},
	}
	saveDoc(t, s, doc, content+"!")

	dup, err := e.FindDuplicate(ctx, Candidate{
		Location:     path,
		Content:      content,
		Title:        "notes",
		DocumentType: "text",
	})
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.Equal(t, doc.ID, dup.ID)
}

func TestSimilarityPredicateRejectsDifferentTitle(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	dir := t.TempDir()
	content := "body"
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	info, _ := os.Stat(path)

	doc := &store.Document{
		Location:     "/elsewhere/notes.txt",
		Title:        "other title",
		DocumentType: "text",
		Metadata:     map[string]any{store.MetaFileSize: info.Size()},
	}
	saveDoc(t, s, doc, content)

	dup, err := e.FindDuplicate(ctx, Candidate{
		Location: path, Content: content, Title: "notes", DocumentType: "text",
	})
	require.NoError(t, err)
	assert.Nil(t, dup)
}

func TestDuplicateByContentHash(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	content := "remote content payload"
	doc := &store.Document{
		Location: "https://example.com/one",
		Metadata: map[string]any{store.MetaContentHash: HashContent(content)},
	}
	saveDoc(t, s, doc, content)

	dup, err := e.FindDuplicate(ctx, Candidate{
		Location: "https://example.com/two",
		Content:  content,
	})
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.Equal(t, doc.ID, dup.ID)
}

func TestDuplicateByTitleAndLength(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	content := "a fairly long remote article body for length comparison"
	doc := &store.Document{Location: "https://example.com/a", Title: "article"}
	saveDoc(t, s, doc, content)

	dup, err := e.FindDuplicate(ctx, Candidate{
		Location: "https://example.com/b",
		Content:  content + "!",
		Title:    "article",
	})
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.Equal(t, doc.ID, dup.ID)

	// Lengths outside 5% are not duplicates.
	dup, err = e.FindDuplicate(ctx, Candidate{
		Location: "https://example.com/c",
		Content:  content + content,
		Title:    "article",
	})
	require.NoError(t, err)
	assert.Nil(t, dup)
}

func TestMangleLocationIsUnique(t *testing.T) {
	a := MangleLocation("/a/b.txt")
	b := MangleLocation("/a/b.txt")
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "/a/b.txt#force-")
}

func TestWithinDrift(t *testing.T) {
	assert.True(t, withinDrift(100, 100))
	assert.True(t, withinDrift(100, 95))
	assert.True(t, withinDrift(95, 100))
	assert.False(t, withinDrift(100, 94))
	assert.True(t, withinDrift(0, 0))
}

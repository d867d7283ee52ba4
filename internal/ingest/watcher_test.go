package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherIngestsAndDeletes(t *testing.T) {
	env := newIngestEnv(t)
	dir := t.TempDir()

	w := NewWatcher(env.service, []string{dir}, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	path := filepath.Join(dir, "dropped.txt")
	require.NoError(t, os.WriteFile(path, []byte("a file dropped into the watched directory"), 0o644))

	require.Eventually(t, func() bool {
		doc, err := env.store.GetDocumentByLocation(context.Background(), path)
		return err == nil && doc != nil
	}, 5*time.Second, 25*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		doc, err := env.store.GetDocumentByLocation(context.Background(), path)
		return err == nil && doc == nil
	}, 5*time.Second, 25*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcherSkipsHiddenFiles(t *testing.T) {
	env := newIngestEnv(t)
	dir := t.TempDir()

	w := NewWatcher(env.service, []string{dir}, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	hiddenPath := filepath.Join(dir, ".swapfile")
	visible := filepath.Join(dir, "visible.txt")
	require.NoError(t, os.WriteFile(hiddenPath, []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(visible, []byte("picked up"), 0o644))

	require.Eventually(t, func() bool {
		doc, err := env.store.GetDocumentByLocation(context.Background(), visible)
		return err == nil && doc != nil
	}, 5*time.Second, 25*time.Millisecond)

	doc, err := env.store.GetDocumentByLocation(context.Background(), hiddenPath)
	require.NoError(t, err)
	assert.Nil(t, doc)
}

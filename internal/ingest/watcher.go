package ingest

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceWindow coalesces rapid file events so editors that write
// in several syscalls trigger one ingestion, not five.
const DefaultDebounceWindow = 500 * time.Millisecond

// fileOp is a coalesced operation on one path.
type fileOp int

const (
	opUpsert fileOp = iota
	opDelete
)

// Watcher tails directories and keeps the index in sync: created or
// modified files are re-ingested, removed files are deleted. Events for
// the same path within the debounce window collapse to the last
// operation, except create followed by delete which cancels out.
type Watcher struct {
	service  *Service
	dirs     []string
	window   time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	pending map[string]pendingOp
	timer   *time.Timer
	flushCh chan struct{}
}

type pendingOp struct {
	op      fileOp
	created bool // first event in the window was a create
}

// NewWatcher creates a watcher over dirs. window <= 0 uses the default.
func NewWatcher(service *Service, dirs []string, window time.Duration) *Watcher {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Watcher{
		service: service,
		dirs:    dirs,
		window:  window,
		log:     slog.Default().With(slog.String("component", "watcher")),
		pending: make(map[string]pendingOp),
		flushCh: make(chan struct{}, 1),
	}
}

// Run watches until the context is cancelled. Subdirectories existing at
// start and created while running are watched too.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	for _, dir := range w.dirs {
		if err := w.watchTree(fsw, dir); err != nil {
			return err
		}
		w.log.Info("watching directory", slog.String("dir", dir))
	}

	for {
		select {
		case <-ctx.Done():
			w.flush(context.Background())
			return ctx.Err()
		case <-w.flushCh:
			w.flush(ctx)
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

// watchTree registers dir and every subdirectory below it.
func (w *Watcher) watchTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if hidden(d.Name()) && path != dir {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

func (w *Watcher) handle(fsw *fsnotify.Watcher, event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if hidden(name) {
		return
	}

	// New directories need their own watch; files fall through to the
	// debounce map.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watchTree(fsw, event.Name); err != nil {
				w.log.Warn("failed to watch new directory",
					slog.String("dir", event.Name), slog.String("error", err.Error()))
			}
			return
		}
	}

	switch {
	case event.Op.Has(fsnotify.Create):
		w.enqueue(event.Name, opUpsert, true)
	case event.Op.Has(fsnotify.Write):
		w.enqueue(event.Name, opUpsert, false)
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		w.enqueue(event.Name, opDelete, false)
	}
}

// enqueue coalesces the event into the pending map and (re)arms the
// flush timer.
func (w *Watcher) enqueue(path string, op fileOp, created bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	existing, ok := w.pending[path]
	switch {
	case !ok:
		w.pending[path] = pendingOp{op: op, created: created}
	case existing.created && op == opDelete:
		// Created and deleted within the window: the file never really
		// existed for us.
		delete(w.pending, path)
	default:
		existing.op = op
		w.pending[path] = existing
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.window, func() {
		select {
		case w.flushCh <- struct{}{}:
		default:
		}
	})
}

// flush drains the pending map and applies each operation.
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]pendingOp)
	w.mu.Unlock()

	for path, p := range batch {
		switch p.op {
		case opUpsert:
			id, err := w.service.Refresh(ctx, path)
			if err != nil {
				w.log.Warn("auto-ingest failed",
					slog.String("path", path), slog.String("error", err.Error()))
				continue
			}
			w.log.Info("auto-ingested", slog.String("path", path), slog.String("id", id))
		case opDelete:
			deleted, err := w.service.DeleteByLocation(ctx, path)
			if err != nil {
				w.log.Warn("auto-delete failed",
					slog.String("path", path), slog.String("error", err.Error()))
				continue
			}
			if deleted {
				w.log.Info("auto-deleted", slog.String("path", path))
			}
		}
	}
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// Package watch turns file system events under a docs tree into debounced
// batches of changed and removed documents.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mdxdocs/docs-mcp-server/internal/logger"
)

// DefaultDebounce is how long the watcher waits for events to settle.
const DefaultDebounce = 200 * time.Millisecond

// ignoredDirs are never watched
var ignoredDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
}

// Handler receives one batch of slash paths relative to the watched root.
// It runs on the watcher goroutine; events arriving meanwhile are queued.
type Handler func(ctx context.Context, changed, removed []string)

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// Watcher follows a directory tree, including directories created later.
type Watcher struct {
	root     string
	match    func(rel string) bool
	handler  Handler
	debounce time.Duration
	fsw      *fsnotify.Watcher

	// pending maps a relative path to true when changed, false when removed
	pending map[string]bool
	// known holds every matching file seen under root
	known map[string]struct{}
}

// New starts watching root. match selects documentation files by relative
// slash path; a nil match accepts every file.
func New(root string, match func(rel string) bool, handler Handler, opts ...Option) (*Watcher, error) {
	if handler == nil {
		return nil, fmt.Errorf("watch handler cannot be nil")
	}
	if match == nil {
		match = func(string) bool { return true }
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		root:     root,
		match:    match,
		handler:  handler,
		debounce: DefaultDebounce,
		fsw:      fsw,
		pending:  make(map[string]bool),
		known:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	dirs, err := w.addTree(root)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	logger.Info("File watcher initialized", "root", root, "watched_directories", dirs)
	return w, nil
}

// Run delivers batches until ctx is cancelled. The watcher cannot be reused
// after Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(ev) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("File watcher error", "err", err)

		case <-timer.C:
			w.flush(ctx)
		}
	}
}

// handleEvent records ev and reports whether anything became pending.
func (w *Watcher) handleEvent(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			return w.addCreatedDir(ev.Name)
		}
	}

	rel, ok := w.rel(ev.Name)
	if !ok {
		return false
	}

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		if w.removeTree(rel) > 0 {
			// A renamed directory keeps its inotify watch under the old name
			_ = w.fsw.Remove(ev.Name)
			return true
		}
		if !w.match(rel) {
			return false
		}
		delete(w.known, rel)
		w.pending[rel] = false
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if !w.match(rel) {
			return false
		}
		w.known[rel] = struct{}{}
		w.pending[rel] = true
	default:
		return false
	}
	return true
}

// removeTree queues every known file below the directory rel as removed and
// returns how many there were. fsnotify reports a directory moved out of root
// as a single Rename on the directory itself.
func (w *Watcher) removeTree(rel string) int {
	prefix := rel + "/"
	n := 0
	for path := range w.known {
		if strings.HasPrefix(path, prefix) {
			delete(w.known, path)
			w.pending[path] = false
			n++
		}
	}
	return n
}

// addCreatedDir watches a new directory and queues the files already in it,
// since they may have been written before the watch was added.
func (w *Watcher) addCreatedDir(dir string) bool {
	if _, err := w.addTree(dir); err != nil {
		logger.Warn("Failed to watch new directory", "path", dir, "err", err)
		return false
	}

	queued := false
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, ok := w.rel(path); ok && w.match(rel) {
			w.known[rel] = struct{}{}
			w.pending[rel] = true
			queued = true
		}
		return nil
	})
	return queued
}

func (w *Watcher) addTree(dir string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			if rel, ok := w.rel(path); ok && w.match(rel) {
				w.known[rel] = struct{}{}
			}
			return nil
		}
		name := d.Name()
		if path != dir && (ignoredDirs[name] || strings.HasPrefix(name, ".")) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	return count, nil
}

func (w *Watcher) rel(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) flush(ctx context.Context) {
	if len(w.pending) == 0 {
		return
	}

	var changed, removed []string
	for rel, present := range w.pending {
		if present {
			changed = append(changed, rel)
		} else {
			removed = append(removed, rel)
		}
	}
	clear(w.pending)
	sort.Strings(changed)
	sort.Strings(removed)

	logger.Debug("Delivering file changes", "changed", len(changed), "removed", len(removed))
	w.handler(ctx, changed, removed)
}

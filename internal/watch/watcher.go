// Package watch re-runs a callback when files of a project tree change.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"repoforge/internal/logging"
)

// Watcher watches a project directory recursively and reports settled changes.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	root        string
	debounceDur time.Duration
	pending     map[string]time.Time
	onChange    func(ctx context.Context, changed []string)

	stats Stats
}

// Stats tracks watcher activity.
type Stats struct {
	Events   int
	Batches  int
	Errors   int
	LastPath string
}

// New creates a watcher for root. onChange receives the settled relative paths, sorted.
func New(root string, debounce time.Duration, onChange func(ctx context.Context, changed []string)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &Watcher{
		watcher:     w,
		root:        root,
		debounceDur: debounce,
		pending:     make(map[string]time.Time),
		onChange:    onChange,
	}, nil
}

// ignored reports directories and files that never trigger a batch.
func ignored(name string) bool {
	return name == "__pycache__" || name == "node_modules" || name == "venv" ||
		(strings.HasPrefix(name, ".") && name != "." && name != ".env" && name != ".env.example") ||
		strings.HasSuffix(name, ".pyc") || strings.HasSuffix(name, "~")
}

// addTree watches dir and every non-ignored subdirectory.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && ignored(d.Name()) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// Run blocks until ctx is done, delivering debounced batches to onChange.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	if err := w.addTree(w.root); err != nil {
		return err
	}
	logging.VerifyDebug("watching %s", w.root)

	ticker := time.NewTicker(w.debounceDur / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryVerify).Warn("watch error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-ticker.C:
			if changed := w.settled(); len(changed) > 0 {
				w.onChange(ctx, changed)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if ignored(part) {
			return
		}
	}
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				logging.Get(logging.CategoryVerify).Warn("watch %s: %v", event.Name, err)
			}
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Events++
	w.stats.LastPath = filepath.ToSlash(rel)
	w.pending[filepath.ToSlash(rel)] = time.Now()
}

// settled returns paths whose last event is older than the debounce window, once all pending
// events have settled. A burst of saves is reported as one batch.
func (w *Watcher) settled() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	now := time.Now()
	for _, at := range w.pending {
		if now.Sub(at) < w.debounceDur {
			return nil
		}
	}
	out := make([]string, 0, len(w.pending))
	for p := range w.pending {
		out = append(out, p)
	}
	clear(w.pending)
	sort.Strings(out)
	w.stats.Batches++
	return out
}

// Stats returns a snapshot of watcher activity.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

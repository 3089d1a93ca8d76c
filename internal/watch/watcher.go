// Package watch reports changes to a fixed set of files.
//
// Watcher turns fsnotify events into a pollable stream, and Stamps
// de-duplicates them: editors often fire several events per save, so a change
// only counts when a file's modification time has strictly advanced.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cpwatch/internal/logging"

	"github.com/fsnotify/fsnotify"
)

var (
	// ErrMissing is returned when a watched file no longer exists.
	ErrMissing = errors.New("watched file is missing")
	// ErrClosed is returned by Poll after Close.
	ErrClosed = errors.New("watcher closed")
)

// Event is a filesystem operation on a watched path.
type Event struct {
	Path string
	Op   fsnotify.Op
	At   time.Time
}

// Removed reports whether the path was removed or renamed away.
func (e Event) Removed() bool {
	return e.Op.Has(fsnotify.Remove) || e.Op.Has(fsnotify.Rename)
}

// Stats tracks watcher activity for debugging.
type Stats struct {
	Events        int
	Ignored       int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
}

// Watcher watches a set of files non-recursively.
type Watcher struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	paths   map[string]bool
	stats   Stats
}

// New watches the given files. Their parent directories are watched so that
// editors replacing a file on save are still observed.
func New(paths ...string) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no paths to watch")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{watcher: fw, paths: make(map[string]bool)}
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fw.Close()
			return nil, err
		}
		if _, err := os.Stat(abs); err != nil {
			fw.Close()
			return nil, fmt.Errorf("%w: %s", ErrMissing, p)
		}
		w.paths[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
		logging.Watch("Watching directory: %s", dir)
	}
	return w, nil
}

// Poll waits up to timeout for a create, write, remove or rename event on a
// watched path. Chmod events and events for unwatched siblings are skipped.
// It returns false when the timeout elapses or ctx ends first.
func (w *Watcher) Poll(ctx context.Context, timeout time.Duration) (Event, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return Event{}, false, nil
		case <-timer.C:
			return Event{}, false, nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return Event{}, false, ErrClosed
			}
			if e, relevant := w.filter(ev); relevant {
				return e, true, nil
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return Event{}, false, ErrClosed
			}
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
			logging.WatchError("Watcher error: %v", err)
			return Event{}, false, err
		}
	}
}

func (w *Watcher) filter(ev fsnotify.Event) (Event, bool) {
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		abs = ev.Name
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.paths[abs] || ev.Op == fsnotify.Chmod {
		w.stats.Ignored++
		return Event{}, false
	}
	now := time.Now()
	w.stats.Events++
	w.stats.LastEventTime = now
	w.stats.LastEventPath = abs
	logging.WatchDebug("%s event for %s", ev.Op, abs)
	return Event{Path: abs, Op: ev.Op, At: now}, true
}

// Paths returns the watched file paths.
func (w *Watcher) Paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.paths))
	for p := range w.paths {
		out = append(out, p)
	}
	return out
}

// GetStats returns the current watcher statistics.
func (w *Watcher) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

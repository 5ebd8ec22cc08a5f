package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events one editor save produces.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reports saves of a fixed set of files. It watches the parent
// directories so atomic saves (write to temp, rename over) are seen.
type Watcher struct {
	fsw      *fsnotify.Watcher
	files    map[string]bool
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher watches files, which must be absolute paths.
func NewWatcher(files []string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		fsw:      fsw,
		files:    make(map[string]bool, len(files)),
		debounce: debounce,
		logger:   logger,
	}

	dirs := make(map[string]bool)
	for _, f := range files {
		f = filepath.Clean(f)
		w.files[f] = true
		dir := filepath.Dir(f)
		if dirs[dir] {
			continue
		}
		dirs[dir] = true
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	return w, nil
}

// Run calls onSave for each watched file written since the last quiet
// period, in path order, until ctx ends or Close is called. onSave runs on
// Run's goroutine.
func (w *Watcher) Run(ctx context.Context, onSave func(file string)) error {
	pending := make(map[string]bool)
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			path := filepath.Clean(ev.Name)
			if !w.files[path] {
				continue
			}
			pending[path] = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", "error", err)

		case <-fire:
			fire = nil
			files := make([]string, 0, len(pending))
			for f := range pending {
				files = append(files, f)
			}
			slices.Sort(files)
			clear(pending)
			for _, f := range files {
				onSave(f)
			}
		}
	}
}

// Close stops watching; a running Run returns nil.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

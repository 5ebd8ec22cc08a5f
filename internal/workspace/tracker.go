package workspace

import (
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"dartas/internal/slogutil"
)

// Sender is the part of the analysis client the tracker drives.
type Sender interface {
	SetAnalysisRoots(ctx context.Context, included, excluded []string, packageRoots map[string]string) error
	SetPriorityFiles(ctx context.Context, files []string) error
}

// Tracker mirrors the analysis roots and priority files the server has been
// told about. Roots and files keep their insertion order and never repeat.
type Tracker struct {
	mu     sync.Mutex
	sender Sender
	store  Store
	logger *slog.Logger

	roots    []string
	priority []string

	// dirty is set when the mirror changed since the last successful send
	dirty bool
}

// NewTracker loads any persisted state from store. A nil store keeps state
// in memory only. The restored state is not sent until Track or Sync.
func NewTracker(sender Sender, store Store, logger *slog.Logger) (*Tracker, error) {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}

	state, err := store.Load()
	if err != nil {
		return nil, err
	}

	t := &Tracker{
		sender:   sender,
		store:    store,
		logger:   logger,
		roots:    state.Roots,
		priority: state.PriorityFiles,
		dirty:    len(state.Roots) > 0 || len(state.PriorityFiles) > 0,
	}
	return t, nil
}

// Track adds each file's root and the file itself, then tells the server if
// anything changed.
func (t *Tracker) Track(ctx context.Context, files ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, f := range files {
		f = filepath.Clean(f)
		root := FindRoot(f)
		if !slices.Contains(t.roots, root) {
			t.roots = append(t.roots, root)
			t.dirty = true
			t.logRootAdded(root)
		}
		if !slices.Contains(t.priority, f) {
			t.priority = append(t.priority, f)
			t.dirty = true
		}
	}

	if !t.dirty {
		return nil
	}
	return t.syncLocked(ctx)
}

// AddRoots adds directories as analysis roots without touching priority
// files.
func (t *Tracker) AddRoots(ctx context.Context, dirs ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, d := range dirs {
		d = filepath.Clean(d)
		if !slices.Contains(t.roots, d) {
			t.roots = append(t.roots, d)
			t.dirty = true
			t.logRootAdded(d)
		}
	}

	if !t.dirty {
		return nil
	}
	return t.syncLocked(ctx)
}

// Untrack removes files from the priority list. Their roots stay.
func (t *Tracker) Untrack(ctx context.Context, files ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, f := range files {
		f = filepath.Clean(f)
		if i := slices.Index(t.priority, f); i >= 0 {
			t.priority = slices.Delete(t.priority, i, i+1)
			t.dirty = true
		}
	}

	if !t.dirty {
		return nil
	}
	return t.syncLocked(ctx)
}

// Reset forgets every root and priority file and tells the server.
func (t *Tracker) Reset(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.roots = nil
	t.priority = nil
	t.dirty = true
	return t.syncLocked(ctx)
}

// Sync re-sends the whole mirror, changed or not.
func (t *Tracker) Sync(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.syncLocked(ctx)
}

// Roots returns the tracked roots in insertion order.
func (t *Tracker) Roots() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.roots)
}

// PriorityFiles returns the tracked priority files in insertion order.
func (t *Tracker) PriorityFiles() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.priority)
}

// syncLocked sends roots then priority files and persists the mirror once
// both were accepted. On failure the mirror stays dirty so the next change
// retries. t.mu must be held.
func (t *Tracker) syncLocked(ctx context.Context) error {
	roots := nonNil(t.roots)
	files := nonNil(t.priority)

	if err := t.sender.SetAnalysisRoots(ctx, roots, []string{}, map[string]string{}); err != nil {
		t.dirty = true
		return err
	}
	if err := t.sender.SetPriorityFiles(ctx, files); err != nil {
		t.dirty = true
		return err
	}
	t.dirty = false

	state := State{Roots: roots, PriorityFiles: files, UpdatedAt: time.Now()}
	if err := t.store.Save(state); err != nil {
		t.logger.Warn("Failed to persist workspace state", "error", err.Error())
		return err
	}

	t.logger.Debug("Workspace synced",
		"roots", len(roots),
		"priorityFiles", len(files),
	)
	return nil
}

func (t *Tracker) logRootAdded(root string) {
	attrs := []any{"root", root}
	if p, err := ReadPubspec(root); err == nil && p.Name != "" {
		attrs = append(attrs, "package", p.Name)
	}
	t.logger.Info("Added analysis root", attrs...)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}

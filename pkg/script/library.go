package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by [Library.Get] when no script has the given ID.
var ErrNotFound = errors.New("script: not found")

// LoadFromReader decodes and validates a single script from r.
// Unknown keys are rejected to catch typos in hand-written files.
func LoadFromReader(r io.Reader) (*Script, error) {
	var s Script
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("script: decode yaml: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("script %q: %w", s.ID, err)
	}
	return &s, nil
}

// LoadFile reads and validates the script at path.
func LoadFile(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("script: open %q: %w", path, err)
	}
	defer f.Close()

	s, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("script: parse %q: %w", path, err)
	}
	return s, nil
}

// Library is a set of scripts keyed by ID. It is safe for concurrent use.
//
// A Library created with [NewLibrary] is populated from a directory by
// [Library.Load] and can follow changes on disk with [Library.Watch].
type Library struct {
	dir string

	mu      sync.RWMutex
	scripts map[string]*Script

	onReload func(n int)
}

// LibraryOption configures a [Library].
type LibraryOption func(*Library)

// WithReloadHook registers fn to be called after every successful reload
// with the number of scripts now loaded.
func WithReloadHook(fn func(n int)) LibraryOption {
	return func(l *Library) { l.onReload = fn }
}

// NewLibrary returns an empty library backed by dir. dir may be empty for a
// purely in-memory library filled with [Library.Add].
func NewLibrary(dir string, opts ...LibraryOption) *Library {
	l := &Library{
		dir:     dir,
		scripts: make(map[string]*Script),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load reads every .yaml and .yml file in the library directory and replaces
// the current contents. If any file fails to load, the library is left
// unchanged and the error names the offending file.
func (l *Library) Load() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("script: read dir %q: %w", l.dir, err)
	}

	loaded := make(map[string]*Script, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isScriptFile(entry.Name()) {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		s, err := LoadFile(path)
		if err != nil {
			return err
		}
		if _, dup := loaded[s.ID]; dup {
			return fmt.Errorf("script: duplicate id %q in %q", s.ID, path)
		}
		loaded[s.ID] = s
	}

	l.mu.Lock()
	l.scripts = loaded
	l.mu.Unlock()

	if l.onReload != nil {
		l.onReload(len(loaded))
	}
	return nil
}

// Add validates s and stores it, replacing any script with the same ID.
func (l *Library) Add(s *Script) error {
	if s == nil {
		return errors.New("script: nil script")
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("script %q: %w", s.ID, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scripts[s.ID] = s
	return nil
}

// Get returns the script with the given id.
func (l *Library) Get(id string) (*Script, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.scripts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return s, nil
}

// List returns all scripts sorted by ID.
func (l *Library) List() []*Script {
	l.mu.RLock()
	out := make([]*Script, 0, len(l.scripts))
	for _, s := range l.scripts {
		out = append(out, s)
	}
	l.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Script) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of loaded scripts.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.scripts)
}

// Watch reloads the library whenever a script file in its directory is
// created, written, removed, or renamed. It blocks until ctx is cancelled.
// A reload that fails is logged and the previous contents stay in place.
func (l *Library) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("script: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("script: watch dir %q: %w", l.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isScriptFile(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := l.Load(); err != nil {
				slog.Warn("script library reload failed; keeping previous scripts", "dir", l.dir, "err", err)
				continue
			}
			slog.Info("script library reloaded", "dir", l.dir, "scripts", l.Len())
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("script: watch %q: %w", l.dir, err)
		}
	}
}

func isScriptFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

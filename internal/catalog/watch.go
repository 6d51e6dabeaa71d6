package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 300 * time.Millisecond

// Source serves the active catalog. With an override path it reloads the
// file when it changes and keeps the previous catalog when the new one is invalid.
type Source struct {
	path    string
	current atomic.Pointer[Catalog]
	logger  *slog.Logger
}

// NewSource loads the override file at path, or the embedded catalog when path is empty.
func NewSource(path string, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{path: path, logger: logger}
	if path == "" {
		s.current.Store(Default())
		return s, nil
	}
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	s.current.Store(c)
	return s, nil
}

// Static wraps a fixed catalog.
func Static(c *Catalog) *Source {
	s := &Source{logger: slog.Default()}
	s.current.Store(c)
	return s
}

// Current returns the active catalog.
func (s *Source) Current() *Catalog {
	return s.current.Load()
}

// Reload re-reads the override file.
func (s *Source) Reload() error {
	if s.path == "" {
		return nil
	}
	c, err := Load(s.path)
	if err != nil {
		return err
	}
	s.current.Store(c)
	s.logger.Info("Task catalog reloaded", "path", s.path, "tasks", c.Len())
	return nil
}

// Watch reloads the override file on change until ctx is done. It returns
// immediately when no override path is configured.
func (s *Source) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			s.logger.Warn("Failed to close catalog watcher", "error", err)
		}
	}()

	// Editors replace files on save, so watch the directory.
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.logger.Info("Watching task catalog", "path", s.path)

	target := filepath.Clean(s.path)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	var changedAt time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				changedAt = time.Now()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("Catalog watcher error", "error", err)

		case <-ticker.C:
			if changedAt.IsZero() || time.Since(changedAt) < reloadDebounce {
				continue
			}
			changedAt = time.Time{}
			if err := s.Reload(); err != nil {
				s.logger.Warn("Keeping previous task catalog", "path", s.path, "error", err)
			}
		}
	}
}

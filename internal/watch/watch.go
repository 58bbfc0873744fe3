// Package watch re-runs schema analysis when model files change.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a snapshot file or a models directory and calls
// onChange once per burst of edits.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	onChange func(ctx context.Context) error
}

// New creates a watcher for path. onChange errors are logged and do not
// stop the watcher.
func New(path string, debounce time.Duration, logger *slog.Logger, onChange func(ctx context.Context) error) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     abs,
		debounce: debounce,
		logger:   logger,
		onChange: onChange,
	}, nil
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	dirs, err := w.dirs()
	if err != nil {
		return err
	}
	for _, d := range dirs {
		if err := fsw.Add(d); err != nil {
			return fmt.Errorf("failed to watch %s: %w", d, err)
		}
	}
	w.logger.Info("watching for model changes", "path", w.path, "dirs", len(dirs), "debounce", w.debounce)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()
	var debounceCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			// Module directories created after start are watched too.
			if event.Op&fsnotify.Create != 0 && w.isModuleDir(event.Name) {
				if err := fsw.Add(event.Name); err != nil {
					w.logger.Warn("failed to watch new module directory", "dir", event.Name, "error", err)
				}
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("model file event", "file", event.Name, "op", event.Op.String())
			timer.Reset(w.debounce)
			debounceCh = timer.C

		case <-debounceCh:
			debounceCh = nil
			if err := w.onChange(ctx); err != nil {
				w.logger.Error("watch callback failed", "error", err)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watch error", "error", err)
		}
	}
}

// dirs lists the directories to register: the parent of a snapshot file,
// or a models directory and its module subdirectories.
func (w *Watcher) dirs() ([]string, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fmt.Errorf("reading watch path: %w", err)
	}
	if !info.IsDir() {
		// The parent catches editors that save by renaming over the file.
		return []string{filepath.Dir(w.path)}, nil
	}

	dirs := []string{w.path}
	entries, err := os.ReadDir(w.path)
	if err != nil {
		return nil, fmt.Errorf("reading models directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dirs = append(dirs, filepath.Join(w.path, e.Name()))
		}
	}
	return dirs, nil
}

func (w *Watcher) isModuleDir(name string) bool {
	if filepath.Dir(name) != w.path || strings.HasPrefix(filepath.Base(name), ".") {
		return false
	}
	info, err := os.Stat(name)
	return err == nil && info.IsDir()
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	name, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	if name == w.path {
		return true
	}
	if !strings.HasPrefix(name, w.path+string(filepath.Separator)) {
		return false
	}
	if w.isModuleDir(name) {
		return true
	}
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

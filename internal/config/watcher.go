package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 250 * time.Millisecond

// FileWatcher reports changes to one file. It watches the parent directory
// so atomic replace-by-rename saves are seen too.
type FileWatcher struct {
	path string
	w    *fsnotify.Watcher
}

// NewFileWatcher starts watching path. Events that happen before Run is
// called are buffered.
func NewFileWatcher(path string) (*FileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &FileWatcher{path: abs, w: w}, nil
}

// Run calls onChange once per burst of changes to the file, debounce after
// the last event, until ctx is done. It closes the watcher on return.
func (fw *FileWatcher) Run(ctx context.Context, debounce time.Duration, onChange func()) {
	defer fw.w.Close()
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

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
			return
		case ev, ok := <-fw.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != fw.path || ev.Op == fsnotify.Chmod {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			slog.Info("watched file changed", "path", fw.path)
			onChange()
		case err, ok := <-fw.w.Errors:
			if !ok {
				return
			}
			slog.Warn("file watcher error", "path", fw.path, "error", err)
		}
	}
}

package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// ReloadEvent reports that configPath changed on disk.
type ReloadEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher watches a single config file and emits ReloadEvent on write,
// create, or rename. Grounded on the pack's fsnotify-based config
// watcher shape; narrowed to one file since this runtime has a single
// config.json rather than a directory of hot-reloadable anchor files.
type Watcher struct {
	path   string
	events chan ReloadEvent
}

// NewWatcher builds a Watcher over path. Call Start to begin watching.
func NewWatcher(path string) *Watcher {
	return &Watcher{path: path, events: make(chan ReloadEvent, 4)}
}

// Events returns the channel ReloadEvents are delivered on. Closed when
// ctx passed to Start is canceled.
func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

// Start begins watching in a background goroutine. A missing file at
// start time is not an error: fsnotify.Add fails silently logged, and no
// events are ever delivered until the file exists and the watcher is
// restarted.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.path); err != nil {
		slog.Warn("config_watch_add_failed", "path", w.path, "error", err)
	}

	go func() {
		defer fsw.Close()
		defer close(w.events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case w.events <- ReloadEvent{Path: ev.Name, Op: ev.Op}:
				default:
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				slog.Error("config_watch_error", "error", err)
			}
		}
	}()
	return nil
}

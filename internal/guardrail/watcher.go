package guardrail

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches workspaceDir for writes to ContractSourceFiles and emits
// on Events() whenever one changes, so the cached CoreSafetyContract can be
// invalidated as soon as AGENTS.md/USER.md/SOUL.md change on disk instead
// of waiting for the next request's lazy hash check. Grounded on the
// config package's single-file fsnotify watcher, generalized to watch a
// directory and filter to the anchor file set.
type Watcher struct {
	workspaceDir string
	events       chan struct{}
}

// NewWatcher builds a Watcher over workspaceDir. Call Start to begin
// watching.
func NewWatcher(workspaceDir string) *Watcher {
	return &Watcher{workspaceDir: workspaceDir, events: make(chan struct{}, 1)}
}

// Events returns the channel a notification is sent on after an anchor
// file changes. Closed when ctx passed to Start is canceled.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Start begins watching in a background goroutine. A workspace directory
// that doesn't exist yet at start time is not an error: fsnotify.Add fails
// silently logged, and no events are ever delivered until the directory
// exists and the watcher is restarted.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.workspaceDir); err != nil {
		slog.Warn("guardrail_watch_add_failed", "path", w.workspaceDir, "error", err)
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
				if !isContractSourceFile(ev.Name) {
					continue
				}
				select {
				case w.events <- struct{}{}:
				default:
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				slog.Error("guardrail_watch_error", "error", err)
			}
		}
	}()
	return nil
}

func isContractSourceFile(path string) bool {
	base := filepath.Base(path)
	for _, name := range ContractSourceFiles {
		if base == name {
			return true
		}
	}
	return false
}

package workflowfile

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"issueflow/internal/bootstrap/logging"
	"issueflow/internal/errs"
)

// Watch invalidates the loader whenever a workflow file changes, until ctx
// ends. Bursts of events within debounce collapse into one invalidation.
func (l *Loader) Watch(ctx context.Context, debounce time.Duration, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errs.Wrap(err, "create workflow watcher")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "workflowfile.watcher"))
	dirs := l.watchDirs()
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			logging.Warn(logCtx, "cannot watch workflow dir", slog.String("dir", dir), slog.Any("err", errs.Loggable(err)))
		}
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						_ = watcher.Add(ev.Name)
					}
				}
				if !isWorkflowFile(ev.Name) && ev.Name != l.SharedFile {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Reset(debounce)
				}
				fire = timer.C
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn(logCtx, "workflow watcher error", slog.Any("err", errs.Loggable(err)))
			case <-fire:
				fire = nil
				l.Invalidate()
				logging.Info(logCtx, "workflow files changed, cache invalidated")
				if onChange != nil {
					onChange()
				}
			}
		}
	}()
	return nil
}

func (l *Loader) watchDirs() []string {
	dirs := make([]string, 0)
	seen := map[string]bool{}
	add := func(dir string) {
		if dir == "" || seen[dir] {
			return
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}
	if l.SharedFile != "" {
		add(filepath.Dir(l.SharedFile))
	}
	if l.ProjectDir != "" {
		add(l.ProjectDir)
		entries, _ := os.ReadDir(l.ProjectDir)
		for _, e := range entries {
			if e.IsDir() {
				add(filepath.Join(l.ProjectDir, e.Name()))
			}
		}
	}
	return dirs
}

func isWorkflowFile(path string) bool {
	base := filepath.Base(path)
	for _, name := range fileNames {
		if base == name {
			return true
		}
	}
	return false
}

package report

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vincentbai/navtrace/internal/logging"
)

// watchDebounce collapses the write, rename and chmod events of one store
// update into a single regeneration.
const watchDebounce = 250 * time.Millisecond

// Watch calls regenerate whenever one of paths changes, until ctx is done.
// Stores are replaced by rename, so the parent directories are watched
// rather than the files themselves. Errors from regenerate are logged and
// watching continues.
func Watch(ctx context.Context, paths []string, regenerate func() error, logger *slog.Logger) error {
	logger = logging.Component(logger, "watch")
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	targets := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		targets[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !targets[abs] {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(watchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", slog.Any("error", err))
		case <-timer.C:
			logger.Info("input changed, regenerating report")
			if err := regenerate(); err != nil {
				logger.Error("failed to regenerate report", slog.Any("error", err))
			}
		}
	}
}

package registry

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the dataset whenever its file is written, created or renamed
// into place. The parent directory is watched so editors that replace the file
// atomically are picked up. Watch blocks until ctx is cancelled.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		return fmt.Errorf("registry: no dataset path to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("registry: failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("registry: failed to watch %s: %w", dir, err)
	}
	target := filepath.Clean(r.path)
	r.logger.Info("Registry: watching dataset for changes", zap.String("path", target))

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
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := r.Reload(); err != nil {
				// Keep serving the previous records until the file parses again.
				r.logger.Warn("Registry: reload failed", zap.Error(err))
				continue
			}
			r.logger.Info("Registry: dataset reloaded", zap.Int("records", r.Len()))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("Registry: watcher error", zap.Error(err))
		}
	}
}

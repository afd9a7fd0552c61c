package policy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codexd/internal/logging"
)

// Watch reloads the policy file whenever it changes until ctx is done.
// The parent directory is watched so editors that replace the file by rename
// are handled. onReload, if set, is called after each attempt.
func (e *Engine) Watch(ctx context.Context, logger *logging.Logger, onReload func(error)) error {
	if e.path == "" {
		return errors.New("policy has no backing file")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	target := filepath.Clean(e.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", target, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				err := e.Reload(ctx)
				if err != nil {
					logger.Warn(ctx, "policy reload failed, keeping previous policy",
						zap.String("path", target), zap.Error(err))
				} else {
					logger.Info(ctx, "policy reloaded", zap.String("path", target))
				}
				if onReload != nil {
					onReload(err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn(ctx, "policy watcher error", zap.Error(err))
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch monitors paths and calls onChange with the path that changed each time one of
// them is written or replaced. It runs until ctx is cancelled.
//
// The parent directories are watched rather than the files themselves, so editors and
// pipelines that replace a file by rename are still seen.
func Watch(ctx context.Context, paths []string, logger *zap.SugaredLogger, onChange func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	wanted := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		wanted[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}

	logger.Infof("watching %d file(s) for changes", len(wanted))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || !wanted[name] {
				continue
			}
			logger.Debugf("change detected on %s", name)
			onChange(name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Errorf("file watcher error: %v", err)
		}
	}
}

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"VibeTune/logger"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the configuration every time the file at path is written or
// replaced, and hands the fresh Config to onChange. It blocks until ctx is done.
// A missing file is not an error: there is nothing to watch.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	if path == "" {
		<-ctx.Done()
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Warn("[Config] config file does not exist, watcher disabled", logger.String("path", path))
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	// Editors usually replace the file, so watch the directory instead of the inode.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	target := filepath.Clean(path)

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
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			onChange(fromViper(newViper()))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("[Config] watcher error", logger.ErrorField(err))
		}
	}
}

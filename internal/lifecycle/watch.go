package lifecycle

import (
	"context"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchFile invokes onChange whenever the file at path is written or
// replaced, until the context is cancelled. Editors often rewrite files as
// remove+rename, so the parent directory is watched and events are filtered
// by name. Rapid event bursts are coalesced through a short quiet window.
func WatchFile(ctx context.Context, path string, logger *log.Logger, onChange func()) error {
	path = strings.TrimSpace(path)
	if path == "" || onChange == nil {
		return nil
	}
	if logger == nil {
		logger = log.Default()
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(absolute)); err != nil {
		return err
	}

	const quiet = 250 * time.Millisecond
	var pending *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absolute {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(quiet, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			logger.Printf("lifecycle: %s changed, reloading", path)
			onChange()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Printf("lifecycle: watch error: %v", err)
		}
	}
}

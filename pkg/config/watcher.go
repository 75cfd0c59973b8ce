package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events editors emit on save.
const reloadDebounce = 500 * time.Millisecond

// WatchSystemConfig watches the system.json at path and emits a freshly
// loaded SystemConfig each time the file settles after a change.
// The returned channel is closed when ctx is done.
func WatchSystemConfig(ctx context.Context, path string) <-chan *SystemConfig {
	out := make(chan *SystemConfig, 1)
	changes := WatchConfig(ctx, path)

	go func() {
		defer close(out)
		for range changes {
			cfg := LoadSystemConfig(path)
			slog.Info("System config reloaded",
				"trim_keep", cfg.TrimKeep,
				"max_tool_rounds", cfg.MaxToolRounds,
				"recursion_limit", cfg.RecursionLimit,
			)
			select {
			case out <- cfg:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// WatchConfig initializes a filesystem watcher for the specified files.
// It emits the changed file name once the change has been debounced.
// The watcher runs until ctx is canceled.
func WatchConfig(ctx context.Context, files ...string) <-chan string {
	reloadCh := make(chan string, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create fsnotify watcher", "error", err)
		close(reloadCh)
		return reloadCh
	}

	// 監聽目錄而非檔案本身，編輯器的原子存檔會替換 inode
	watched := make(map[string]bool)
	for _, file := range files {
		absPath, err := filepath.Abs(file)
		if err != nil {
			slog.Warn("Could not resolve absolute path for watch file", "file", file)
			continue
		}
		watched[absPath] = true
		if err := watcher.Add(filepath.Dir(absPath)); err != nil {
			slog.Warn("Could not watch file", "file", file, "error", err)
		} else {
			slog.Debug("Watching configuration file", "file", file)
		}
	}

	go func() {
		var (
			mu     sync.Mutex
			timer  *time.Timer
			closed bool
		)
		defer func() {
			watcher.Close()
			mu.Lock()
			closed = true
			if timer != nil {
				timer.Stop()
			}
			close(reloadCh)
			mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !watched[filepath.Clean(event.Name)] {
					continue
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				name := event.Name
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, func() {
					mu.Lock()
					defer mu.Unlock()
					if closed {
						return
					}
					slog.Info("Configuration change detected", "file", name)
					select {
					case reloadCh <- name:
					default:
					}
				})
				mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Watcher encountered an error", "error", err)
			}
		}
	}()

	return reloadCh
}

package mcp

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"deskagent/internal/logging"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 300 * time.Millisecond

// ConfigWatcher reloads the server list when its file changes. The parent
// directory is watched because editors usually replace files on save.
type ConfigWatcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	onChange func(ctx context.Context, cfgs []ServerConfig)
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

// NewConfigWatcher creates a watcher for path. onChange receives the newly
// loaded list; files that fail to load are logged and skipped.
func NewConfigWatcher(path string, onChange func(ctx context.Context, cfgs []ServerConfig)) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &ConfigWatcher{
		watcher:  watcher,
		path:     filepath.Clean(path),
		debounce: defaultWatchDebounce,
		onChange: onChange,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// WatchServerConfigs wires a watcher on path to m.Reload.
func WatchServerConfigs(ctx context.Context, path string, m *Manager) (*ConfigWatcher, error) {
	w, err := NewConfigWatcher(path, func(ctx context.Context, cfgs []ServerConfig) {
		if err := m.Reload(ctx, cfgs); err != nil {
			logging.MCPWarn("Reloading server configuration: %v", err)
		}
	})
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		w.watcher.Close()
		return nil, err
	}
	return w, nil
}

// Start begins watching. It is non-blocking.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.running = true
	go w.run(ctx)
	logging.MCPDebug("watching %s for server config changes", w.path)
	return nil
}

// Stop stops the watcher and waits for cleanup.
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		logging.MCPWarn("ConfigWatcher: error closing watcher: %v", err)
	}
}

func (w *ConfigWatcher) run(ctx context.Context) {
	defer close(w.doneCh)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			logging.MCPDebug("server config event: %s", event.Op)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.MCPWarn("ConfigWatcher error: %v", err)

		case <-fire:
			fire = nil
			cfgs, err := LoadServerConfigs(w.path)
			if err != nil {
				logging.MCPWarn("Ignoring server config change: %v", err)
				continue
			}
			w.onChange(ctx, cfgs)
		}
	}
}

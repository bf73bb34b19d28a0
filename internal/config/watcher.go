package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"queuewatch/pkg/logging"
)

// DefaultDebounceInterval is the time to wait before reloading after the
// last change to the config file is detected.
const DefaultDebounceInterval = 500 * time.Millisecond

// WatcherConfig holds configuration for the config file watcher.
type WatcherConfig struct {
	// Path is the config file to watch.
	Path string

	// Debounce collapses bursts of writes. Defaults to DefaultDebounceInterval.
	Debounce time.Duration

	// Lookup is the environment lookup applied on reload. Defaults to os.LookupEnv.
	Lookup LookupEnvFunc

	// OnChange receives every successfully reloaded and validated config.
	OnChange func(Config)
}

// Watcher reloads the config file when it changes on disk. Invalid edits
// are logged and ignored, so the last good configuration stays in effect.
type Watcher struct {
	mu sync.Mutex

	config    WatcherConfig
	fsWatcher *fsnotify.Watcher
	stopCh    chan struct{}
	running   bool

	debounceTimer *time.Timer
	debounceMu    sync.Mutex
}

// NewWatcher creates a new config watcher.
func NewWatcher(config WatcherConfig) (*Watcher, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("config watcher requires a file path")
	}
	if config.Debounce == 0 {
		config.Debounce = DefaultDebounceInterval
	}
	if config.Lookup == nil {
		config.Lookup = os.LookupEnv
	}
	return &Watcher{config: config}, nil
}

// Start begins watching. The parent directory is watched rather than the
// file itself so that editors replacing the file by rename are seen.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.config.Path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.config.Path), err)
	}

	w.fsWatcher = watcher
	w.stopCh = make(chan struct{})
	w.running = true

	// Capture channels before releasing lock to avoid race conditions
	go w.processEvents(watcher.Events, watcher.Errors, w.stopCh)

	logging.Info("ConfigWatcher", "Watching %s for changes", w.config.Path)
	return nil
}

func (w *Watcher) processEvents(eventsCh <-chan fsnotify.Event, errorsCh <-chan error, stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return

		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			logging.Error("ConfigWatcher", err, "fsnotify error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.config.Path) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	logging.Debug("ConfigWatcher", "Config file changed: %s (%s)", event.Name, event.Op)
	w.triggerReloadDebounced()
}

func (w *Watcher) triggerReloadDebounced() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.config.Debounce, w.reload)
}

func (w *Watcher) reload() {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()
	if !running {
		return
	}

	cfg, err := LoadWithEnv(w.config.Path, w.config.Lookup)
	if err != nil {
		logging.Error("ConfigWatcher", err, "Ignoring invalid configuration change in %s", w.config.Path)
		return
	}

	logging.Info("ConfigWatcher", "Reloaded configuration from %s", w.config.Path)
	if w.config.OnChange != nil {
		w.config.OnChange(cfg)
	}
}

// Stop stops the watcher and cancels any pending reload.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.running = false
	close(w.stopCh)

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.debounceMu.Unlock()

	err := w.fsWatcher.Close()
	w.fsWatcher = nil

	logging.Info("ConfigWatcher", "Stopped config watcher")
	return err
}

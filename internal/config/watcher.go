package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher watches the configuration file for changes and hot-reloads it,
// re-validating before ever replacing the active config. Grounded on the
// teacher's internal/config/watcher.go Watcher, generalized to take a
// *zap.Logger directly instead of the teacher's package-level logging
// global, since this gateway's internal/logging exposes both styles and
// the watcher is constructed explicitly by the entrypoint.
type Watcher struct {
	watcher    *fsnotify.Watcher
	loader     *Loader
	configPath string
	log        *zap.Logger
	callbacks  []func(*Config)
	mu         sync.RWMutex
	debounce   time.Duration
	current    *Config
}

// NewWatcher creates a Watcher, performing an initial synchronous load of
// configPath. The returned Watcher's GetConfig is usable immediately; Start
// must be called separately to begin reacting to file changes.
func NewWatcher(configPath string, log *zap.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:    fsWatcher,
		loader:     NewLoader(),
		configPath: configPath,
		log:        log,
		debounce:   500 * time.Millisecond,
	}

	cfg, err := w.loader.Load(configPath)
	if err != nil {
		fsWatcher.Close()
		return nil, err
	}
	w.current = cfg

	return w, nil
}

// OnChange registers a callback invoked with the new config after every
// successful reload. Callbacks run concurrently with each other and must
// not block.
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching the config file's directory for changes. It returns
// once the watch is registered; reload happens on a background goroutine.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	go w.watch()
	return nil
}

func (w *Watcher) watch() {
	var debounceTimer *time.Timer
	var lastEvent time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			now := time.Now()
			if now.Sub(lastEvent) < w.debounce && debounceTimer != nil {
				debounceTimer.Stop()
			}
			lastEvent = now
			debounceTimer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("config watcher error", zap.Error(err))
		}
	}
}

// reload loads and validates the config file, replacing the active config
// and notifying callbacks only when the reload succeeds.
func (w *Watcher) reload() {
	cfg, err := w.loader.Load(w.configPath)
	if err != nil {
		w.log.Error("failed to reload config, keeping previous config active", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = cfg
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.log.Info("configuration reloaded", zap.String("path", w.configPath))

	for _, cb := range callbacks {
		go cb(cfg)
	}
}

// GetConfig returns the currently active configuration.
func (w *Watcher) GetConfig() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Stop stops watching for changes.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// SetDebounce overrides the default debounce window used to coalesce rapid
// successive file-write events into a single reload.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

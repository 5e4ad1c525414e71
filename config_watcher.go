package main

import (
	"path/filepath"
	"sync"
	"time"

	"adbappmgr/pkg/config"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher reloads settings.json when it changes on disk, so a running
// MCP server picks up a new adb path or timeout without a restart.
type ConfigWatcher struct {
	app           *App
	watcher       *fsnotify.Watcher
	stopCh        chan struct{}
	mu            sync.Mutex
	debounceDelay time.Duration
	reloaded      func(error) // test hook
}

// NewConfigWatcher creates a watcher for the app's config directory
func NewConfigWatcher(app *App) *ConfigWatcher {
	return &ConfigWatcher{
		app:           app,
		stopCh:        make(chan struct{}),
		debounceDelay: 300 * time.Millisecond,
	}
}

// Start begins watching the config directory. The directory is watched
// rather than the file because editors replace files on save.
func (w *ConfigWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	configDir := w.app.config.ConfigDir()
	if err := watcher.Add(configDir); err != nil {
		watcher.Close()
		w.watcher = nil
		return err
	}

	LogInfo("config_watcher").Str("path", configDir).Msg("Started watching config directory")

	go w.watch(watcher)
	return nil
}

// Stop stops watching
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		close(w.stopCh)
		w.watcher.Close()
		w.watcher = nil
		LogInfo("config_watcher").Msg("Stopped watching config directory")
	}
}

func (w *ConfigWatcher) watch(watcher *fsnotify.Watcher) {
	var debounceTimer *time.Timer

	reload := func() {
		err := w.app.reloadSettings()
		if err == nil {
			LogDebug("config_watcher").Msg("Settings reloaded")
		}
		if w.reloaded != nil {
			w.reloaded(err)
		}
	}

	for {
		select {
		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != config.SettingsFile {
				continue
			}
			// a removed file reverts to defaults on reload
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounceDelay, reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			LogError("config_watcher").Err(err).Msg("Watcher error")
		}
	}
}

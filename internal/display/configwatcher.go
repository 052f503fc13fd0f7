// Copyright (c) 2025 La Comanda Ops
package display

import (
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Editors replace files on save, so several events arrive per change;
// reloads settle for this long before firing.
const reloadSettleDelay = 250 * time.Millisecond

// ConfigWatcher watches the display config file and invokes onReload
// with the freshly parsed config once changes settle. The display uses
// it to follow tenant switches without a restart.
type ConfigWatcher struct {
	path     string
	onReload func(*Config)
	watcher  *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer

	stopOnce sync.Once
	done     chan struct{}
}

// NewConfigWatcher starts watching the config file's directory (the
// file itself may be replaced on save) and returns the running watcher.
func NewConfigWatcher(path string, onReload func(*Config)) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	cw := &ConfigWatcher{
		path:     path,
		onReload: onReload,
		watcher:  watcher,
		done:     make(chan struct{}),
	}
	go cw.loop()
	log.Printf("Watching config file: %s", path)
	return cw, nil
}

func (cw *ConfigWatcher) loop() {
	for {
		select {
		case <-cw.done:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(cw.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cw.trigger()
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Config watcher error: %v", err)
		}
	}
}

// trigger resets the settle timer for the pending reload.
func (cw *ConfigWatcher) trigger() {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timer = time.AfterFunc(reloadSettleDelay, cw.reload)
}

func (cw *ConfigWatcher) reload() {
	select {
	case <-cw.done:
		return
	default:
	}

	config, err := LoadConfig(cw.path)
	if err != nil {
		log.Printf("Failed to reload config from %s: %v", cw.path, err)
		return
	}
	log.Printf("Config reloaded from %s", cw.path)
	cw.onReload(config)
}

// Stop stops watching and cancels any pending reload.
func (cw *ConfigWatcher) Stop() {
	cw.stopOnce.Do(func() {
		close(cw.done)
		cw.mu.Lock()
		if cw.timer != nil {
			cw.timer.Stop()
			cw.timer = nil
		}
		cw.mu.Unlock()
		if err := cw.watcher.Close(); err != nil {
			log.Printf("Error closing config watcher: %v", err)
		}
	})
}

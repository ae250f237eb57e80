// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/chapterd/chapterd/internal/log"
)

// reloadDebounce coalesces bursts of filesystem events into one reload.
const reloadDebounce = 500 * time.Millisecond

// ReloadListener is notified after a successful configuration reload.
type ReloadListener func(old, new Config)

// Holder keeps the current configuration and supports hot reloading it from
// the config file. Readers get a consistent snapshot via Current; a failed
// reload keeps the previous configuration in place.
type Holder struct {
	loader *Loader
	path   string
	logger zerolog.Logger

	mu      sync.RWMutex
	current Config

	listenerMu sync.Mutex
	listeners  []ReloadListener

	watcher  *fsnotify.Watcher
	watchers sync.WaitGroup
}

// NewHolder loads the initial configuration and returns a holder for it.
func NewHolder(path string) (*Holder, error) {
	loader := NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	return &Holder{
		loader:  loader,
		path:    path,
		logger:  log.WithComponent("config"),
		current: cfg,
	}, nil
}

// Current returns the active configuration snapshot.
func (h *Holder) Current() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// RegisterListener adds a callback invoked after every successful reload.
func (h *Holder) RegisterListener(l ReloadListener) {
	h.listenerMu.Lock()
	defer h.listenerMu.Unlock()
	h.listeners = append(h.listeners, l)
}

// Reload re-resolves the configuration. On error the previous configuration
// stays active and the error is returned.
func (h *Holder) Reload(ctx context.Context) error {
	h.logger.Debug().
		Str("event", "config.reload_start").
		Str("path", h.path).
		Msg("reloading configuration")

	cfg, err := h.loader.Load()
	if err != nil {
		h.logger.Error().
			Str("event", "config.reload_failed").
			Str("path", h.path).
			Err(err).
			Msg("reload failed, keeping previous configuration")
		return err
	}

	h.mu.Lock()
	old := h.current
	h.current = cfg
	h.mu.Unlock()

	h.logger.Info().
		Str("event", "config.reload_success").
		Str("path", h.path).
		Msg("configuration reloaded")

	h.notifyListeners(old, cfg)
	return nil
}

func (h *Holder) notifyListeners(old, new Config) {
	h.listenerMu.Lock()
	listeners := make([]ReloadListener, len(h.listeners))
	copy(listeners, h.listeners)
	h.listenerMu.Unlock()

	for _, l := range listeners {
		l(old, new)
	}
}

// StartWatcher begins watching the config file for changes and reloads on
// write. It returns immediately; the watch loop stops when ctx is done or
// Stop is called. Calling it without a config file path is an error.
func (h *Holder) StartWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory, not the file: editors and renameio-style writers
	// replace the file, which drops a direct file watch.
	dir := filepath.Dir(h.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	h.watcher = watcher
	h.watchers.Add(1)
	go h.watchLoop(ctx)

	h.logger.Info().
		Str("event", "config.watch_start").
		Str("path", h.path).
		Msg("watching configuration file")
	return nil
}

func (h *Holder) watchLoop(ctx context.Context) {
	defer h.watchers.Done()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	target := filepath.Clean(h.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				_ = h.Reload(ctx)
			})
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn().
				Str("event", "config.watch_error").
				Err(err).
				Msg("configuration watcher error")
		}
	}
}

// Stop shuts the file watcher down and waits for the watch loop to exit.
func (h *Holder) Stop() {
	if h.watcher != nil {
		h.watcher.Close()
	}
	h.watchers.Wait()
}

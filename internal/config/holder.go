package config

import (
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Holder provides thread-safe access to a mutable *Config and an immutable
// config file path. The Source State Machine's scheduler reads the config
// through a shared Holder so a file-change reload updates every consumer
// of a given rid in exactly one place; parsing a changed directive into
// new/removed Source descriptors is the scheduler's job, not this
// package's — Holder only swaps the decoded snapshot.
type Holder struct {
	mu sync.RWMutex
	cfg *Config
	path string
}

// NewHolder creates a Holder with the initial config and config file path.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{cfg: cfg, path: path}
}

// Config returns the current config snapshot.
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path returns the config file path.
func (h *Holder) Path() string {
	return h.path
}

// Update replaces the config snapshot.
func (h *Holder) Update(cfg *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cfg = cfg
}

// WatchReload installs an fsnotify watch on the Holder's config file and
// calls onChange after each successful reload. Returns a stop function.
// A failed reload (malformed file) is logged and the previous config is
// kept in place — a typo while editing must never tear down running
// sources.
func (h *Holder) WatchReload(logger *slog.Logger, onChange func(*Config)) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := watcher.Add(h.path); err != nil {
		watcher.Close()

		return nil, err
	}

	done := make(chan struct{})

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}

				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}

				cfg, loadErr := Load(h.path, logger)
				if loadErr != nil {
					logger.Warn("config reload failed, keeping previous config",
						slog.String("path", h.path), slog.String("error", loadErr.Error()))

					continue
				}

				h.Update(cfg)
				logger.Info("config reloaded", slog.String("path", h.path))

				if onChange != nil {
					onChange(cfg)
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}

				logger.Warn("config watcher error", slog.String("error", werr.Error()))
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}

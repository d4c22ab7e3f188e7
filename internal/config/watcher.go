package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher reloads the config file when it changes on disk and hands the new
// config to a callback. Reload failures keep the previous config in effect.
type Watcher struct {
	loader   *Loader
	onChange func(*Config)
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
}

// NewWatcher creates a watcher for the loader's config file.
func NewWatcher(loader *Loader, onChange func(*Config)) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback is required")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		loader:   loader,
		onChange: onChange,
		watcher:  fw,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. The config file's directory is watched so that
// atomic rename-over writes are observed.
func (w *Watcher) Start() error {
	configPath, err := w.loader.Path()
	if err != nil {
		return err
	}

	if err := w.watcher.Add(filepath.Dir(configPath)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.run(configPath)

	log.Info().Str("path", configPath).Msg("Config watcher started")

	return nil
}

func (w *Watcher) run(configPath string) {
	// Editors fire bursts of events for one save; debounce them.
	var pending <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(200 * time.Millisecond)

		case <-pending:
			pending = nil
			cfg, err := w.loader.Load()
			if err != nil {
				log.Warn().Err(err).Msg("Config reload failed, keeping previous config")
				continue
			}
			if err := cfg.Validate(); err != nil {
				log.Warn().Err(err).Msg("Reloaded config invalid, keeping previous config")
				continue
			}
			log.Info().Msg("Config reloaded")
			w.onChange(cfg)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")

		case <-w.stopCh:
			return
		}
	}
}

// Stop stops watching.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.watcher.Close()
}

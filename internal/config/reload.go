package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-reads the config file when it changes and replaces the proxy
// settings in a Store. Server, log and metrics settings need a restart.
type Watcher struct {
	path    string
	cli     *CLI
	store   *Store
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// NewWatcher creates a Watcher for the file cfg was loaded from. It returns
// nil when there is no file or watching is disabled.
func NewWatcher(cfg *Config, cli *CLI, store *Store, logger *slog.Logger) (*Watcher, error) {
	if !cfg.Reload.Watch || cfg.filePath == "" {
		return nil, nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: editors often replace the file by rename, which
	// drops a watch placed on the file itself.
	if err := fw.Add(filepath.Dir(cfg.filePath)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	return &Watcher{
		path:    filepath.Clean(cfg.filePath),
		cli:     cli,
		store:   store,
		logger:  logger.With("component", "config_watcher"),
		watcher: fw,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() {
	w.started = true
	go w.watchLoop()
}

// Reload re-reads the file, applies CLI overrides and replaces the settings.
func (w *Watcher) Reload() error {
	cfg, err := LoadFile(w.path, w.cli)
	if err != nil {
		return err
	}
	return w.store.Replace(cfg.Proxy)
}

func (w *Watcher) watchLoop() {
	defer close(w.doneCh)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := w.Reload(); err != nil {
				w.logger.Error("config reload failed", "path", w.path, "err", err)
				continue
			}
			w.logger.Info("config reloaded", "path", w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "err", err)
		case <-w.stopCh:
			return
		}
	}
}

// Close stops the watcher and waits for the loop to exit.
func (w *Watcher) Close() error {
	close(w.stopCh)
	err := w.watcher.Close()
	if w.started {
		<-w.doneCh
	}
	return err
}

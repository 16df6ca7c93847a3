package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches the configuration file and reloads it on change.
type Watcher struct {
	path     string
	config   *Config
	watcher  *fsnotify.Watcher
	logger   *log.Logger
	debounce time.Duration

	mu       sync.RWMutex
	onReload []func(*Config)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher for the configuration at path, currently
// loaded as cfg.
func NewWatcher(path string, cfg *Config, logger *log.Logger) (*Watcher, error) {
	if logger == nil {
		logger = log.New(os.Stdout, "[config] ", log.LstdFlags|log.Lmsgprefix)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		path:     filepath.Clean(path),
		config:   cfg,
		watcher:  fw,
		logger:   logger,
		debounce: DefaultDebounce,
	}, nil
}

// Start begins watching. The parent directory is watched so that editors
// replacing the file by rename are noticed too.
func (w *Watcher) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch config dir %s: %w", dir, err)
	}
	w.logger.Printf("watching %s for changes", w.path)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.watchLoop()
	}()
	return nil
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

// OnReload registers a callback invoked with every successfully reloaded
// configuration.
func (w *Watcher) OnReload(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = append(w.onReload, callback)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

func (w *Watcher) watchLoop() {
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-w.ctx.Done():
			return

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

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, func() {
				if w.ctx.Err() != nil {
					return
				}
				if err := w.reload(); err != nil {
					w.logger.Printf("warning: keeping previous configuration: %v", err)
				}
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	w.mu.Lock()
	w.config = cfg
	callbacks := make([]func(*Config), len(w.onReload))
	copy(callbacks, w.onReload)
	w.mu.Unlock()

	w.logger.Printf("configuration reloaded from %s", w.path)
	for _, callback := range callbacks {
		callback(cfg)
	}
	return nil
}

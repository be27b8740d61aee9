// Package configwatch reloads the faceshell config file when it changes.
package configwatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/faceshell/internal/cliconfig"
	"github.com/bft-labs/faceshell/pkg/log"
)

// DefaultDebounceDelay is how long the watcher waits after the last change
// before reloading.
const DefaultDebounceDelay = 100 * time.Millisecond

// Config holds configuration options for the watcher.
type Config struct {
	// Path is the config file to watch.
	Path string

	// DebounceDelay is the delay to wait after a file change before reloading.
	// Default: 100 milliseconds
	DebounceDelay time.Duration

	// OnChange receives every successfully parsed reload.
	OnChange func(cliconfig.FileConfig)

	Logger log.Logger
}

// Watcher monitors one config file. The containing directory is watched so
// that editors replacing the file by rename are still seen.
type Watcher struct {
	mu sync.Mutex

	path          string
	debounceDelay time.Duration
	onChange      func(cliconfig.FileConfig)
	logger        log.Logger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce *time.Timer
}

// New creates a watcher; call Start to begin watching.
func New(cfg Config) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, errors.New("configwatch: path is required")
	}
	if cfg.OnChange == nil {
		return nil, errors.New("configwatch: OnChange is required")
	}
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = DefaultDebounceDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNoopLogger()
	}
	return &Watcher{
		path:          filepath.Clean(cfg.Path),
		debounceDelay: cfg.DebounceDelay,
		onChange:      cfg.OnChange,
		logger:        cfg.Logger.With(log.String("component", "configwatch"), log.String("path", cfg.Path)),
	}, nil
}

// Start begins watching. It fails if the directory cannot be watched.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	w.logger.Info("watching config file")

	w.wg.Add(1)
	go w.watchLoop(watchCtx, fw)
	return nil
}

// Stop stops watching and waits for the loop to exit. A pending reload is
// discarded.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()

	w.mu.Lock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.mu.Unlock()
}

func (w *Watcher) watchLoop(ctx context.Context, fw *fsnotify.Watcher) {
	defer w.wg.Done()
	defer fw.Close()

	base := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.debounceReload(ctx)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", log.Err(err))
		}
	}
}

func (w *Watcher) debounceReload(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.debounceDelay, func() {
		if ctx.Err() != nil {
			return
		}
		w.reload()
	})
}

func (w *Watcher) reload() {
	if !cliconfig.FileExists(w.path) {
		w.logger.Debug("config file removed; keeping current settings")
		return
	}
	fc, err := cliconfig.LoadFileConfig(w.path)
	if err != nil {
		w.logger.Warn("config reload failed; keeping current settings", log.Err(err))
		return
	}
	w.logger.Info("config file reloaded")
	w.onChange(fc)
}

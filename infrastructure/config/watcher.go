package config

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher reloads the configuration when a file in the loader's directory
// changes and hands the new value to registered callbacks. A reload that
// fails validation is logged and the previous configuration stays current.
type Watcher struct {
	loader   *Loader
	logger   *zap.Logger
	debounce time.Duration

	mu        sync.RWMutex
	current   *Config
	callbacks []func(*Config)

	fsw      *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher starts watching the loader's directory. Call Run to process
// events and Stop to release the watch.
func NewWatcher(loader *Loader, initial *Config, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Editors often replace files by rename, so the directory is watched
	// rather than the individual files.
	if err := fsw.Add(loader.Dir()); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", loader.Dir(), err)
	}
	return &Watcher{
		loader:   loader,
		logger:   logger.Named("config"),
		debounce: defaultDebounce,
		current:  initial,
		fsw:      fsw,
		done:     make(chan struct{}),
	}, nil
}

// SetDebounce changes how long the watcher waits for writes to settle.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	w.debounce = d
	w.mu.Unlock()
}

// OnChange registers a callback to be called when configuration changes.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, fn)
	w.mu.Unlock()
}

// Current returns the configuration in effect.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run processes file events until ctx is done or Stop is called.
func (w *Watcher) Run(ctx context.Context) {
	w.logger.Info("configuration hot reload enabled", zap.String("dir", w.loader.Dir()))

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !isConfigFile(ev.Name) {
				continue
			}
			w.logger.Debug("configuration file changed", zap.String("file", ev.Name), zap.String("op", ev.Op.String()))
			if timer != nil {
				timer.Stop()
			}
			w.mu.RLock()
			d := w.debounce
			w.mu.RUnlock()
			timer = time.AfterFunc(d, w.Reload)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", zap.Error(err))

		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		}
	}
}

// Reload loads the configuration now and notifies callbacks when it
// differs from the current one.
func (w *Watcher) Reload() {
	next, err := w.loader.Load()
	if err != nil {
		w.logger.Error("invalid configuration after reload, keeping previous", zap.Error(err))
		return
	}

	w.mu.Lock()
	prev := w.current
	if sameSettings(prev, next) {
		w.mu.Unlock()
		w.logger.Debug("configuration unchanged after reload")
		return
	}
	w.current = next
	callbacks := append(([]func(*Config))(nil), w.callbacks...)
	w.mu.Unlock()

	w.logger.Info("configuration reloaded",
		zap.Strings("sources", next.LoadedFrom),
		zap.Int("callbacks", len(callbacks)),
	)
	for i, cb := range callbacks {
		w.notify(i, cb, next)
	}
}

func (w *Watcher) notify(idx int, cb func(*Config), cfg *Config) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("configuration callback panicked", zap.Int("callback", idx), zap.Any("panic", r))
		}
	}()
	cb(cfg.Clone())
}

// Stop ends Run and releases the file watch.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
}

func sameSettings(a, b *Config) bool {
	if a == nil || b == nil {
		return a == b
	}
	x, y := a.Clone(), b.Clone()
	x.LoadedFrom, y.LoadedFrom = nil, nil
	return reflect.DeepEqual(x, y)
}

func isConfigFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yaml" || ext == ".yml"
}

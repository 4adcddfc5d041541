package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file whenever it changes on disk. Only display
// settings take effect in a running debugger, so onChange fires when the
// display section differs from the previous load.
type Watcher struct {
	path      string
	lookupEnv func(string) (string, bool)
	onChange  func(*Config)
	logger    *slog.Logger

	fsw       *fsnotify.Watcher
	mu        sync.RWMutex
	current   *Config
	done      chan struct{}
	closeOnce sync.Once
}

// WatcherOption customizes a Watcher.
type WatcherOption func(*Watcher)

// WithLookupEnv sets the environment consulted on every load. Defaults to os.LookupEnv.
func WithLookupEnv(lookup func(string) (string, bool)) WatcherOption {
	return func(w *Watcher) { w.lookupEnv = lookup }
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

// NewWatcher loads path and starts watching it. The file must exist.
func NewWatcher(path string, onChange func(*Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:      path,
		lookupEnv: os.LookupEnv,
		onChange:  onChange,
		logger:    slog.Default(),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("watch config: %w", err)
	}
	cfg, err := w.load()
	if err != nil {
		return nil, err
	}
	w.current = cfg

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch config: %w", err)
	}
	// Editors often replace the file, which drops a watch on the file itself.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch config: %w", err)
	}
	w.fsw = fsw

	go w.run()
	return w, nil
}

// load reads the file with environment overrides applied on top, so the
// environment keeps precedence across reloads.
func (w *Watcher) load() (*Config, error) {
	cfg, err := Load(w.path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(w.lookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Config returns the last successfully loaded configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) run() {
	name := filepath.Base(w.path)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == name && (ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				w.reload()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.load()
	if err != nil {
		w.logger.Error("config reload failed", slog.String("path", w.path), slog.String("error", err.Error()))
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = cfg
	w.mu.Unlock()

	if prev != nil && prev.Display == cfg.Display {
		w.logger.Debug("config reloaded, display unchanged", slog.String("path", w.path))
		return
	}
	w.logger.Info("config reloaded",
		slog.String("path", w.path),
		slog.Int("context_lines", cfg.Display.ContextLines),
		slog.Bool("colorize", cfg.Display.Colorize),
		slog.String("style", cfg.Display.Style),
	)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}

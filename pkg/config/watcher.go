package config

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Loader produces a fresh Config.
type Loader func() (*Config, error)

// Watcher polls configuration files and reloads when one changes.
type Watcher struct {
	mu        sync.RWMutex
	paths     []string
	load      Loader
	interval  time.Duration
	modTimes  map[string]time.Time
	config    *Config
	listeners []func(*Config)
	logger    *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling interval.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher loads the initial config and records the current modification
// time of every path.
func NewWatcher(paths []string, load Loader, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		paths:    paths,
		load:     load,
		interval: time.Second,
		modTimes: make(map[string]time.Time),
		logger:   slog.Default(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.changed()

	cfg, err := load()
	if err != nil {
		return nil, err
	}
	w.config = cfg
	return w, nil
}

// OnChange registers fn to run after every successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start polls until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		defer close(w.doneCh)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				if w.changed() {
					w.reload()
				}
			}
		}
	}()
}

// Stop ends polling and waits for the loop to exit. Start must have been
// called.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *Watcher) changed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	changed := false
	for _, path := range w.paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if last, ok := w.modTimes[path]; !ok || info.ModTime().After(last) {
			w.modTimes[path] = info.ModTime()
			changed = true
		}
	}
	return changed
}

func (w *Watcher) reload() {
	cfg, err := w.load()
	if err != nil {
		w.logger.Error("config.reload.failed", slog.String("error", err.Error()))
		return
	}

	w.mu.Lock()
	w.config = cfg
	listeners := append([]func(*Config)(nil), w.listeners...)
	w.mu.Unlock()

	w.logger.Info("config.reload", slog.Int("listeners", len(listeners)))
	for _, fn := range listeners {
		fn(cfg)
	}
}

// WatchCLI loads configuration from args like LoadWithCLI and starts a
// watcher on the config file and its profile file.
func WatchCLI(ctx context.Context, args []string, opts ...WatcherOption) (*Watcher, error) {
	cli, _, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	var paths []string
	if cli.path != "" {
		paths = append(paths, cli.path)
		if extra := profileConfigPath(cli.path, cli.profile); extra != "" {
			paths = append(paths, extra)
		}
	}
	w, err := NewWatcher(paths, func() (*Config, error) { return LoadWithCLI(args) }, opts...)
	if err != nil {
		return nil, err
	}
	w.Start(ctx)
	return w, nil
}

package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is the poll interval of a [Watcher].
const DefaultWatchInterval = 5 * time.Second

// Reload describes an accepted configuration change.
type Reload struct {
	Old  *Config
	New  *Config
	Diff ConfigDiff
}

// Watcher reloads the config file while the bot runs. It polls the file and
// can be triggered explicitly (main wires SIGHUP to [Watcher.Trigger]).
//
// A reload is accepted only when the new file validates. The callback runs
// only for changes [Diff] reports, so edits to comments or formatting are
// absorbed silently. Settings listed in [ConfigDiff.RestartRequired] are
// reported but applying them is left to the next start.
type Watcher struct {
	path     string
	interval time.Duration
	onReload func(Reload)
	loadOpts []LoadOption
	trigger  chan struct{}

	mu      sync.Mutex
	current *Config
	stamp   fileStamp
	sum     [sha256.Size]byte
	lastErr error
}

// fileStamp is the cheap change indicator checked before hashing.
type fileStamp struct {
	mod  time.Time
	size int64
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the poll interval. Zero or less disables polling; the
// file is then only read on [Watcher.Trigger].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.interval = d }
}

// WithLoadOptions passes opts to every reload.
func WithLoadOptions(opts ...LoadOption) WatcherOption {
	return func(w *Watcher) { w.loadOpts = append(w.loadOpts, opts...) }
}

// NewWatcher loads path and returns a Watcher for it. onReload may be nil.
// Call [Watcher.Run] to start watching.
func NewWatcher(path string, onReload func(Reload), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onReload: onReload,
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	cfg, stamp, sum, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.stamp, w.sum = cfg, stamp, sum
	return w, nil
}

// Current returns the last accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Err returns why the last reload was rejected, or nil when the file on
// disk is the one in effect.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Trigger asks Run to re-read the file now, even if it looks unchanged.
// It never blocks.
func (w *Watcher) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Run watches the file until ctx is cancelled and returns ctx's error.
func (w *Watcher) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			w.check(false)
		case <-w.trigger:
			w.check(true)
		}
	}
}

// check reloads the file when its stamp changed or force is set.
func (w *Watcher) check(force bool) {
	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			slog.Warn("config: cannot stat config file", "path", w.path, "err", err)
			return
		}
		w.mu.Lock()
		same := w.stamp == fileStamp{mod: info.ModTime(), size: info.Size()}
		w.mu.Unlock()
		if same {
			return
		}
	}

	cfg, stamp, sum, err := w.read()
	if err != nil {
		w.mu.Lock()
		w.lastErr = err
		w.stamp = stamp
		w.mu.Unlock()
		slog.Warn("config: reload rejected, keeping the running config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	w.stamp = stamp
	w.lastErr = nil
	if sum == w.sum {
		w.mu.Unlock()
		return
	}
	w.sum = sum
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	d := Diff(old, cfg)
	if !d.Changed() {
		slog.Debug("config: file changed without effective changes", "path", w.path)
		return
	}
	slog.Info("config: reloaded",
		"path", w.path,
		"log_level", d.LogLevelChanged,
		"playback", d.PlaybackChanged,
		"rate_limit", d.RateLimitChanged,
		"restart_required", d.RestartRequired,
	)
	if w.onReload != nil {
		w.onReload(Reload{Old: old, New: cfg, Diff: d})
	}
}

// read loads and validates the file. The stamp is returned even when the
// content is invalid so a broken file is not re-parsed on every tick.
func (w *Watcher) read() (*Config, fileStamp, [sha256.Size]byte, error) {
	var sum [sha256.Size]byte
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, sum, err
	}
	stamp := fileStamp{mod: info.ModTime(), size: info.Size()}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, stamp, sum, err
	}
	sum = sha256.Sum256(data)
	cfg, err := LoadFromReader(bytes.NewReader(data), w.loadOpts...)
	if err != nil {
		return nil, stamp, sum, err
	}
	return cfg, stamp, sum, nil
}

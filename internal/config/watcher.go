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

// DefaultWatchInterval is how often [Watcher.Run] polls the file.
const DefaultWatchInterval = 5 * time.Second

// revision identifies one version of the config file on disk.
type revision struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// Watcher keeps the last valid configuration read from a file and reports
// what changed each time the file is edited. Edits that fail validation are
// logged and skipped.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(ConfigDiff)

	// reloadMu serialises reloads so diffs are delivered in file order.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	rev     revision
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval used by [Watcher.Run].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher reads path once and fails if it is missing or invalid.
// onChange receives every non-empty [ConfigDiff]; it may be nil.
func NewWatcher(path string, onChange func(ConfigDiff), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, rev, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.rev = cfg, rev
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file until ctx is done. A poll only reads the file when its
// modification time moved.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
				continue
			}
			w.mu.Lock()
			moved := !info.ModTime().Equal(w.rev.mtime)
			w.mu.Unlock()
			if !moved {
				continue
			}
			if _, err := w.Reload(); err != nil {
				slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
				// Warn once per edit, not once per poll.
				w.mu.Lock()
				w.rev.mtime = info.ModTime()
				w.mu.Unlock()
			}
		}
	}
}

// Reload reads the file now, regardless of its modification time, and
// returns what changed. An unchanged or invalid file leaves the current
// config in place.
func (w *Watcher) Reload() (ConfigDiff, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	cfg, rev, err := w.read()
	if err != nil {
		return ConfigDiff{}, err
	}

	w.mu.Lock()
	old := w.current
	same := rev.sum == w.rev.sum
	w.rev = rev
	if !same {
		w.current = cfg
	}
	w.mu.Unlock()
	if same {
		return ConfigDiff{}, nil
	}

	d := Diff(old, cfg)
	if !d.Changed() && len(d.RestartRequired) == 0 {
		slog.Debug("config watcher: file edited without effective changes", "path", w.path)
		return d, nil
	}
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level", d.LogLevelChanged,
		"pipeline", d.PipelineChanged,
		"observer", d.ObserverChanged,
		"restart_required", d.RestartRequired,
	)
	if w.onChange != nil {
		w.onChange(d)
	}
	return d, nil
}

// read loads, validates, and fingerprints the file.
func (w *Watcher) read() (*Config, revision, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, revision{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, revision{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, revision{}, err
	}
	return cfg, revision{mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}

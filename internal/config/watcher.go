package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a config file and the script files it lists, and hands
// every valid new revision to a callback. Polling works on bind mounts and
// network filesystems where inotify events never arrive.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	load     func(io.Reader) (*Config, error)

	// reloadMu orders reloads and their callbacks; mu guards snap only, so
	// onChange may call Current.
	reloadMu sync.Mutex
	mu       sync.Mutex
	snap     snapshot

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// snapshot is one loaded revision. digest covers the config bytes and
// every listed script file; newest is the latest mtime among them.
type snapshot struct {
	cfg    *Config
	digest [sha256.Size]byte
	newest time.Time
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval (default 5s). Non-positive values
// are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLoader replaces [LoadFromReader], e.g. to re-apply the environment
// overlay on every revision.
func WithLoader(load func(io.Reader) (*Config, error)) WatcherOption {
	return func(w *Watcher) {
		if load != nil {
			w.load = load
		}
	}
}

// NewWatcher loads path once and starts polling it. The initial load must
// succeed. onChange may be nil; it also fires when only a script file
// changed, in which case old and new have no [Diff].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		load:     LoadFromReader,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.snap = snap

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Current returns the latest valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap.cfg
}

// Reload re-reads the files now, regardless of their mtimes. It reports
// whether a new revision was applied. On error the current config stays.
func (w *Watcher) Reload() (changed bool, err error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	next, err := w.read()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	prev := w.snap
	if next.digest == prev.digest {
		w.snap.newest = next.newest
		w.mu.Unlock()
		return false, nil
	}
	w.snap = next
	w.mu.Unlock()

	slog.Info("config reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(prev.cfg, next.cfg)
	}
	return true, nil
}

// Stop ends polling and waits for an in-flight reload to finish. Safe to
// call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			if !w.touched() {
				continue
			}
			if _, err := w.Reload(); err != nil {
				slog.Warn("config reload failed, keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// touched reports whether any watched file has an mtime other than the one
// recorded in the current snapshot.
func (w *Watcher) touched() bool {
	w.mu.Lock()
	files := w.files(w.snap.cfg)
	seen := w.snap.newest
	w.mu.Unlock()

	newest, err := newestMtime(files)
	if err != nil {
		slog.Warn("config watcher: stat failed", "path", w.path, "err", err)
		return false
	}
	return !newest.Equal(seen)
}

func (w *Watcher) files(cfg *Config) []string {
	return append([]string{w.path}, cfg.Scripts.Files...)
}

func (w *Watcher) read() (snapshot, error) {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := w.load(bytes.NewReader(raw))
	if err != nil {
		return snapshot{}, err
	}

	sum := sha256.New()
	sum.Write(raw)
	for _, f := range cfg.Scripts.Files {
		body, err := os.ReadFile(f)
		if err != nil {
			return snapshot{}, fmt.Errorf("script file %q: %w", f, err)
		}
		// Name separators keep moving bytes between files from colliding.
		fmt.Fprintf(sum, "\x00%s\x00", f)
		sum.Write(body)
	}

	newest, err := newestMtime(w.files(cfg))
	if err != nil {
		return snapshot{}, err
	}
	s := snapshot{cfg: cfg, newest: newest}
	sum.Sum(s.digest[:0])
	return s, nil
}

func newestMtime(paths []string) (time.Time, error) {
	var newest time.Time
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return time.Time{}, err
		}
		if mt := info.ModTime(); mt.After(newest) {
			newest = mt
		}
	}
	return newest, nil
}

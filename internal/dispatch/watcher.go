package dispatch

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"os"
	"time"
)

// Watcher polls a rule source and reloads the engine when its content
// changes. Local files are stat'ed first so unchanged files are not re-read;
// remote sources are fetched on every tick and compared by hash. A source
// that fails to load leaves the previous table active.
type Watcher struct {
	engine   *Engine
	source   string
	interval time.Duration
	onReload func(rules int)
	log      *slog.Logger

	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithOnReload registers a callback invoked after every successful reload
// with the new table size.
func WithOnReload(fn func(rules int)) WatcherOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// NewWatcher returns a watcher that reloads e from source. It does not load
// anything until [Watcher.Run] is called.
func NewWatcher(e *Engine, source string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		engine:   e,
		source:   source,
		interval: 5 * time.Second,
		log:      e.log.With("component", "rules-watcher"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run loads the source once and then polls it until ctx is cancelled. The
// initial load error, if any, is returned immediately; later failures are
// logged and retried on the next tick.
func (w *Watcher) Run(ctx context.Context) error {
	if _, err := w.check(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.check(ctx); err != nil {
				w.log.Warn("rule reload failed, keeping previous table", "source", w.source, "err", err)
			}
		}
	}
}

// check reloads the engine if the source changed. It reports whether a
// reload happened.
func (w *Watcher) check(ctx context.Context) (bool, error) {
	var mtime time.Time
	if !isRemote(w.source) {
		info, err := os.Stat(w.source)
		if err != nil {
			return false, &LoadError{Source: w.source, Err: err}
		}
		mtime = info.ModTime()
		if !w.lastMtime.IsZero() && mtime.Equal(w.lastMtime) {
			return false, nil
		}
	}

	data, err := fetch(ctx, w.source)
	if err != nil {
		return false, w.engine.loadFailed(ctx, w.source, err)
	}
	hash := sha256.Sum256(data)
	if hash == w.lastHash {
		// Touched but identical.
		w.lastMtime = mtime
		return false, nil
	}
	if err := w.engine.load(ctx, w.source, data); err != nil {
		return false, err
	}
	w.lastHash = hash
	w.lastMtime = mtime

	if w.onReload != nil {
		w.onReload(w.engine.Len())
	}
	return true, nil
}

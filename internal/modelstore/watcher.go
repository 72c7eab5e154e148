// Package modelstore hot-reloads scorer artifacts when they change on disk.
package modelstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/logsentinel/sentinel/internal/ensemble"
)

// DefaultDebounce is how long the directory must be quiet before a reload.
const DefaultDebounce = 500 * time.Millisecond

// Swapper accepts a freshly loaded scorer set.
type Swapper interface {
	Swap(scorers []ensemble.Scorer) error
}

// Watcher reloads a scorer set from dir after artifact writes settle.
type Watcher struct {
	dir      string
	factory  func() []ensemble.Scorer
	target   Swapper
	onSwap   func()
	debounce time.Duration
	logger   *slog.Logger

	fs *fsnotify.Watcher
}

// NewWatcher starts watching dir. factory must return unfitted scorers with
// the names the artifacts were saved under. onSwap, if set, runs after each
// successful swap.
func NewWatcher(dir string, factory func() []ensemble.Scorer, target Swapper, onSwap func(), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{
		dir:      dir,
		factory:  factory,
		target:   target,
		onSwap:   onSwap,
		debounce: DefaultDebounce,
		logger:   logger,
		fs:       fsw,
	}, nil
}

// SetDebounce overrides the quiet period.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Reload loads every artifact into a new scorer set and swaps it in. The
// current set keeps serving if any artifact fails to load.
func (w *Watcher) Reload() error {
	scorers := w.factory()
	if err := ensemble.LoadScorers(w.dir, scorers); err != nil {
		return err
	}
	if err := w.target.Swap(scorers); err != nil {
		return fmt.Errorf("swap scorers: %w", err)
	}
	if w.onSwap != nil {
		w.onSwap()
	}
	w.logger.Info("model artifacts reloaded", slog.String("dir", w.dir))
	return nil
}

func isArtifact(name string) bool {
	return filepath.Ext(name) == ".json"
}

// Run processes file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()

	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !isArtifact(ev.Name) {
				continue
			}
			settle = time.After(w.debounce)

		case <-settle:
			settle = nil
			if err := w.Reload(); err != nil {
				w.logger.Warn("model reload failed", slog.String("dir", w.dir), slog.Any("error", err))
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("model watcher error", slog.Any("error", err))
		}
	}
}

// Package watch re-runs a stitch whenever one of its input images changes.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 500 * time.Millisecond

// RunFunc performs one stitch.
type RunFunc func(ctx context.Context) error

// Watcher monitors the directories holding a fixed set of input files.
type Watcher struct {
	inputs   map[string]bool
	dirs     []string
	debounce time.Duration
	run      RunFunc
	log      *slog.Logger
}

// New creates a Watcher for inputs. debounce <= 0 uses DefaultDebounce.
func New(inputs []string, debounce time.Duration, run RunFunc, log *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = slog.Default()
	}
	w := &Watcher{
		inputs:   make(map[string]bool, len(inputs)),
		debounce: debounce,
		run:      run,
		log:      log,
	}
	seen := make(map[string]bool)
	for _, p := range inputs {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		w.inputs[abs] = true
		if dir := filepath.Dir(abs); !seen[dir] {
			seen[dir] = true
			w.dirs = append(w.dirs, dir)
		}
	}
	return w, nil
}

// Run stitches once, then again after each settled change to an input, until
// ctx is cancelled. Stitch failures are logged and do not stop the watch.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	// Directories are watched rather than files so that editors which save by
	// rename keep triggering events.
	for _, dir := range w.dirs {
		if err := fsw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.log.Info("watching directory", "dir", dir)
	}

	w.runOnce(ctx)
	return w.loop(ctx, fsw.Events, fsw.Errors)
}

func (w *Watcher) loop(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) error {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			w.log.Debug("input changed", "path", ev.Name, "op", ev.Op.String())
			if pending && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.debounce)
			pending = true

		case err, ok := <-errs:
			if !ok {
				return nil
			}
			w.log.Warn("filesystem watcher error", "error", err)

		case <-timer.C:
			pending = false
			w.runOnce(ctx)
		}
	}
}

func (w *Watcher) runOnce(ctx context.Context) {
	if err := w.run(ctx); err != nil {
		w.log.Error("stitch failed", "error", err)
	}
}

// relevant reports whether ev touches an input with a content change.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		return false
	}
	return w.inputs[abs]
}

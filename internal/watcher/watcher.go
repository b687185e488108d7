// Package watcher follows one watch root with fsnotify and hands changed
// files to the transfer engine.
//
// Directories are added recursively, honoring the watch's directory filters,
// and directories created later are added when their Create event arrives.
// Events are processed in batches: after the first event every further ready
// event is drained, the daemon exit flag is checked once, and each changed
// path in the batch is transferred once.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/logging"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/transfer"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/watchspec"
)

// Transferer is the part of the transfer engine the watcher depends on.
type Transferer interface {
	Transfer(ctx context.Context, spec *watchspec.Spec, path string) (transfer.Result, error)
}

// Watcher follows one watch root.
type Watcher struct {
	spec   *watchspec.Spec
	engine Transferer
	exit   *atomic.Bool
	logger *slog.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

// New builds a watcher for spec. exit is the shared daemon exit flag.
func New(spec *watchspec.Spec, engine Transferer, exit *atomic.Bool, logger *slog.Logger) *Watcher {
	if exit == nil {
		exit = new(atomic.Bool)
	}
	return &Watcher{
		spec:   spec,
		engine: engine,
		exit:   exit,
		logger: logging.NewComponentLogger(logger, "watcher").With(logging.Watch(spec.Root)),
		ready:  make(chan struct{}),
	}
}

// Ready is closed once the initial directory tree is being watched.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run watches until the exit flag is observed, ctx is canceled, the event
// feed closes, or a transfer fails to open a file. Only the last case returns
// a non-nil error (a *transfer.OpenError) besides setup failures.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.markReady()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := w.addTree(fsw, w.spec.Root, nil); err != nil {
		return err
	}
	w.markReady()
	w.logger.Info("watching root")

	errs := fsw.Errors
	for {
		var first fsnotify.Event
		select {
		case <-ctx.Done():
			w.logger.Debug("watcher stopped: context canceled")
			return nil
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				logging.WarnWithContext(w.logger, "fsnotify error", "watch_error",
					logging.Error(err),
					logging.String(logging.FieldImpact, "some file changes may be missed until the next write"),
				)
			}
			continue
		case ev, ok := <-fsw.Events:
			if !ok {
				w.logger.Debug("watcher stopped: event feed closed")
				return nil
			}
			first = ev
		}

		batch, open := drain(fsw.Events, first)
		if w.exit.Load() {
			w.logger.Debug("watcher stopped: exit requested")
			return nil
		}
		if err := w.processBatch(ctx, fsw, batch); err != nil {
			return err
		}
		if !open {
			return nil
		}
	}
}

func (w *Watcher) markReady() {
	w.readyOnce.Do(func() { close(w.ready) })
}

// drain collects first plus every event already queued. open is false when
// the feed closed while draining.
func drain(events <-chan fsnotify.Event, first fsnotify.Event) (batch []fsnotify.Event, open bool) {
	batch = append(batch, first)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return batch, false
			}
			batch = append(batch, ev)
		default:
			return batch, true
		}
	}
}

func (w *Watcher) processBatch(ctx context.Context, fsw *fsnotify.Watcher, batch []fsnotify.Event) error {
	var paths []string
	seen := make(map[string]struct{}, len(batch))
	enqueue := func(path string) {
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		paths = append(paths, path)
	}

	for _, ev := range batch {
		if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
			continue
		}
		path := filepath.Clean(ev.Name)
		info, err := os.Stat(path)
		if err != nil {
			// Removed before we got to it.
			continue
		}
		if info.IsDir() {
			if ev.Has(fsnotify.Create) && w.spec.AllowDir(path) {
				if err := w.addTree(fsw, path, enqueue); err != nil {
					logging.WarnWithContext(w.logger, "watch new directory failed", "watch_add_failed",
						logging.String("dir", path),
						logging.Error(err),
						logging.String(logging.FieldImpact, "files in this directory are not shipped"),
					)
				}
			}
			continue
		}
		if w.acceptFile(path, info) {
			enqueue(path)
		}
	}

	for _, path := range paths {
		res, err := w.engine.Transfer(ctx, w.spec, path)
		if err != nil {
			var openErr *transfer.OpenError
			if errors.As(err, &openErr) {
				logging.ErrorWithContext(w.logger, "open tracked file failed; watcher stopping", "watch_open_failed",
					logging.LogFile(path),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check file permissions and restart the daemon"),
				)
				return err
			}
			logging.WarnWithContext(w.logger, "transfer failed", "transfer_failed",
				logging.LogFile(path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "remaining lines are retried on the next change"),
			)
			continue
		}
		if res.Shipped > 0 {
			w.logger.Debug("lines shipped",
				logging.LogFile(path),
				logging.Int("shipped", res.Shipped),
				logging.Int("failed", res.Failed),
			)
		}
	}
	return nil
}

func (w *Watcher) acceptFile(path string, info fs.FileInfo) bool {
	if !info.Mode().IsRegular() {
		return false
	}
	name := filepath.Base(path)
	if name == watchspec.SentinelName {
		return false
	}
	return w.spec.AllowFile(name)
}

// addTree watches dir and every allowed subdirectory. When found is non-nil
// it receives the regular files already present, so files created before the
// watch was in place are not missed.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string, found func(string)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("walk %s: %w", dir, err)
			}
			w.logger.Debug("skipping unreadable path", logging.String("path", path), logging.Error(err))
			return nil
		}
		if d.IsDir() {
			if path != dir && !w.spec.AllowDir(path) {
				return filepath.SkipDir
			}
			if err := fsw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			return nil
		}
		if found != nil {
			if info, err := d.Info(); err == nil && w.acceptFile(path, info) {
				found(path)
			}
		}
		return nil
	})
}

package watcher_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/config"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/handler"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/logging"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/testsupport"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/tracker"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/transfer"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/watcher"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/watchspec"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type harness struct {
	root     string
	spec     *watchspec.Spec
	registry *testsupport.RecorderRegistry
	exit     *atomic.Bool
	done     chan error
	cancel   context.CancelFunc
}

func start(t *testing.T, watch config.Watch, engine watcher.Transferer) *harness {
	t.Helper()
	h := &harness{root: watch.Path, registry: testsupport.NewRecorderRegistry(), exit: new(atomic.Bool), done: make(chan error, 1)}
	spec, err := watchspec.Build(watch, h.registry.Registry, handler.Deps{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	h.spec = spec
	if engine == nil {
		table := tracker.NewTable(0)
		t.Cleanup(func() { table.CloseAll() })
		engine = transfer.New(table, logging.NewNop())
	}

	w := watcher.New(spec, engine, h.exit, logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- w.Run(ctx) }()
	t.Cleanup(cancel)

	select {
	case <-w.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never became ready")
	}
	return h
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
		return nil
	}
}

func TestShipsAppendedLines(t *testing.T) {
	root := t.TempDir()
	h := start(t, config.Watch{Path: root, FileAllow: []string{`\.log$`}, Patterns: []config.Pattern{testsupport.RecordPattern(`\.log$`, "A")}}, nil)
	rec := h.registry.Recorder("A")

	path := filepath.Join(root, "app.log")
	testsupport.AppendLines(t, path, "first")
	waitFor(t, "first line", func() bool { return len(rec.Lines()) == 1 })

	testsupport.AppendLines(t, path, "second", "third")
	waitFor(t, "three lines", func() bool { return len(rec.Lines()) == 3 })

	if got := rec.Texts(); !reflect.DeepEqual(got, []string{"first", "second", "third"}) {
		t.Fatalf("unexpected lines %v", got)
	}

	testsupport.AppendLines(t, filepath.Join(root, "ignored.txt"), "nope")
	testsupport.AppendLines(t, path, "fourth")
	waitFor(t, "fourth line", func() bool { return len(rec.Lines()) == 4 })
	for _, line := range rec.Lines() {
		if line.File != "app.log" {
			t.Fatalf("filtered file shipped: %+v", line)
		}
	}
}

func TestWatchesNewSubdirectories(t *testing.T) {
	root := t.TempDir()
	h := start(t, config.Watch{Path: root, DirDisallow: []string{"skip$"}, Patterns: []config.Pattern{testsupport.RecordPattern(`\.log$`, "A")}}, nil)
	rec := h.registry.Recorder("A")

	sub := filepath.Join(root, "nested")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a chance to add the directory before writing; files
	// written before that are still picked up by the directory scan.
	testsupport.AppendLines(t, filepath.Join(sub, "app.log"), "deep")
	waitFor(t, "line in new directory", func() bool { return len(rec.Lines()) >= 1 })

	testsupport.AppendLines(t, filepath.Join(sub, "app.log"), "deeper")
	waitFor(t, "second line in new directory", func() bool { return len(rec.Lines()) == 2 })

	skipped := filepath.Join(root, "skip")
	if err := os.Mkdir(skipped, 0o755); err != nil {
		t.Fatal(err)
	}
	testsupport.AppendLines(t, filepath.Join(skipped, "app.log"), "hidden")
	testsupport.AppendLines(t, filepath.Join(sub, "app.log"), "marker")
	waitFor(t, "marker", func() bool { return len(rec.Lines()) == 3 })
	for _, line := range rec.Lines() {
		if line.Text == "hidden" {
			t.Fatal("disallowed directory was shipped")
		}
	}
}

func TestExitFlagWithSentinelStopsWatcher(t *testing.T) {
	root := t.TempDir()
	h := start(t, config.Watch{Path: root, Patterns: []config.Pattern{testsupport.RecordPattern(`\.log$`, "A")}}, nil)

	h.exit.Store(true)
	sentinel := h.spec.SentinelPath()
	if err := os.WriteFile(sentinel, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := h.wait(t); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
	os.Remove(sentinel)
}

func TestContextCancelStopsWatcher(t *testing.T) {
	h := start(t, config.Watch{Path: t.TempDir(), Patterns: []config.Pattern{testsupport.RecordPattern(".*", "A")}}, nil)
	h.cancel()
	if err := h.wait(t); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}

type failingEngine struct{}

func (failingEngine) Transfer(_ context.Context, _ *watchspec.Spec, path string) (transfer.Result, error) {
	return transfer.Result{}, &transfer.OpenError{Path: path, Err: os.ErrPermission}
}

func TestOpenErrorEndsWatcher(t *testing.T) {
	root := t.TempDir()
	h := start(t, config.Watch{Path: root, Patterns: []config.Pattern{testsupport.RecordPattern(".*", "A")}}, failingEngine{})

	testsupport.AppendLines(t, filepath.Join(root, "app.log"), "x")
	err := h.wait(t)
	var openErr *transfer.OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected OpenError, got %v", err)
	}
}

func TestMissingRootFails(t *testing.T) {
	registry := testsupport.NewRecorderRegistry()
	spec, err := watchspec.Build(config.Watch{Path: filepath.Join(t.TempDir(), "absent"), Patterns: []config.Pattern{testsupport.RecordPattern(".*", "A")}}, registry.Registry, handler.Deps{})
	if err != nil {
		t.Fatal(err)
	}
	w := watcher.New(spec, failingEngine{}, nil, nil)
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing root")
	}
}

package transfer_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/config"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/handler"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/logging"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/offset"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/testsupport"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/tracker"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/transfer"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/watchspec"
)

type fixture struct {
	root     string
	spec     *watchspec.Spec
	registry *testsupport.RecorderRegistry
}

func newFixture(t *testing.T, patterns ...config.Pattern) *fixture {
	t.Helper()
	root := t.TempDir()
	registry := testsupport.NewRecorderRegistry()
	spec, err := watchspec.Build(config.Watch{Path: root, Patterns: patterns}, registry.Registry, handler.Deps{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return &fixture{root: root, spec: spec, registry: registry}
}

func newEngine(t *testing.T) (*transfer.Engine, *tracker.Table) {
	t.Helper()
	table := tracker.NewTable(0)
	t.Cleanup(func() { table.CloseAll() })
	return transfer.New(table, logging.NewNop()), table
}

func TestResumeIsIdempotentAcrossRestarts(t *testing.T) {
	fx := newFixture(t, testsupport.RecordPattern(`\.log$`, "A"))
	path := filepath.Join(fx.root, "app.log")
	testsupport.AppendLines(t, path, "l1", "l2", "l3")
	ctx := context.Background()

	engine, table := newEngine(t)
	if _, err := engine.Transfer(ctx, fx.spec, path); err != nil {
		t.Fatal(err)
	}
	if err := table.CloseAll(); err != nil {
		t.Fatal(err)
	}

	testsupport.AppendLines(t, path, "l4", "l5")
	restarted, _ := newEngine(t)
	res, err := restarted.Transfer(ctx, fx.spec, path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 3 || res.Shipped != 2 {
		t.Fatalf("unexpected result %+v", res)
	}

	if got := fx.registry.Recorder("A").Texts(); !reflect.DeepEqual(got, []string{"l1", "l2", "l3", "l4", "l5"}) {
		t.Fatalf("each line must be handled exactly once, got %v", got)
	}
	if got := testsupport.ReadLines(t, offset.Path(path)); !reflect.DeepEqual(got, []string{"1", "2", "3", "4", "5"}) {
		t.Fatalf("unexpected offset records %v", got)
	}
	numbers := []int{}
	for _, line := range fx.registry.Recorder("A").Lines() {
		numbers = append(numbers, line.Number)
	}
	if !reflect.DeepEqual(numbers, []int{1, 2, 3, 4, 5}) {
		t.Fatalf("unexpected line numbers %v", numbers)
	}
}

func TestPatternPrecedence(t *testing.T) {
	fx := newFixture(t,
		testsupport.RecordPattern(`\.log$`, "A"),
		testsupport.RecordPattern(`access\.log$`, "B"),
	)
	path := filepath.Join(fx.root, "access.log")
	testsupport.AppendLines(t, path, "GET /")

	engine, _ := newEngine(t)
	if _, err := engine.Transfer(context.Background(), fx.spec, path); err != nil {
		t.Fatal(err)
	}
	if len(fx.registry.Recorder("A").Lines()) != 1 {
		t.Fatal("first pattern should receive the line")
	}
	if len(fx.registry.Recorder("B").Lines()) != 0 {
		t.Fatal("second pattern must not receive the line")
	}
}

func TestPartialFailureIsIsolated(t *testing.T) {
	fx := newFixture(t, testsupport.RecordPattern(`\.log$`, "A", "B"))
	fx.registry.Recorder("A").Fail = func(line handler.Line) error {
		if line.Number == 2 {
			return errors.New("sink unavailable")
		}
		return nil
	}
	path := filepath.Join(fx.root, "app.log")
	testsupport.AppendLines(t, path, "one", "two", "three")

	engine, _ := newEngine(t)
	res, err := engine.Transfer(context.Background(), fx.spec, path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Shipped != 3 || res.Failed != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := fx.registry.Recorder("B").Texts(); !reflect.DeepEqual(got, []string{"one", "two", "three"}) {
		t.Fatalf("B should receive every line, got %v", got)
	}
	if got := testsupport.ReadLines(t, offset.Path(path)); !reflect.DeepEqual(got, []string{"1", "2, [A]", "3"}) {
		t.Fatalf("unexpected offset records %v", got)
	}
}

type panicHandler struct{}

func (panicHandler) Name() string { return "P" }

func (panicHandler) Init(context.Context) error { return nil }

func (panicHandler) Handle(context.Context, handler.Line) error { panic("handler bug") }

func TestPanickingHandlerIsRecordedAsFailure(t *testing.T) {
	fx := newFixture(t, testsupport.RecordPattern(`\.log$`, "B"))
	fx.spec.Routes[0].Handlers = append([]handler.Handler{panicHandler{}}, fx.spec.Routes[0].Handlers...)
	path := filepath.Join(fx.root, "app.log")
	testsupport.AppendLines(t, path, "x")

	engine, _ := newEngine(t)
	if _, err := engine.Transfer(context.Background(), fx.spec, path); err != nil {
		t.Fatal(err)
	}
	if got := testsupport.ReadLines(t, offset.Path(path)); !reflect.DeepEqual(got, []string{"1, [P]"}) {
		t.Fatalf("unexpected offset records %v", got)
	}
	if len(fx.registry.Recorder("B").Lines()) != 1 {
		t.Fatal("handler after the panicking one should still run")
	}
}

func TestUnmatchedPathIsNoOp(t *testing.T) {
	fx := newFixture(t, testsupport.RecordPattern(`\.log$`, "A"))
	path := filepath.Join(fx.root, "notes.txt")
	testsupport.AppendLines(t, path, "x")

	engine, table := newEngine(t)
	res, err := engine.Transfer(context.Background(), fx.spec, path)
	if err != nil || res.Matched {
		t.Fatalf("expected no-op, got %+v err=%v", res, err)
	}
	if table.Len() != 0 {
		t.Fatal("unmatched path must not be tracked")
	}
	if _, err := os.Stat(offset.Dir(path)); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("unmatched path must not create an offset directory")
	}
}

func TestOpenFailureReturnsOpenError(t *testing.T) {
	fx := newFixture(t, testsupport.RecordPattern(`\.log$`, "A"))
	engine, _ := newEngine(t)
	_, err := engine.Transfer(context.Background(), fx.spec, filepath.Join(fx.root, "gone.log"))
	var openErr *transfer.OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected OpenError, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("OpenError should unwrap to the cause, got %v", err)
	}
}

func TestPartialLineWaitsForTerminator(t *testing.T) {
	fx := newFixture(t, testsupport.RecordPattern(`\.log$`, "A"))
	path := filepath.Join(fx.root, "app.log")
	testsupport.AppendRaw(t, path, "complete\nhalf")

	engine, _ := newEngine(t)
	ctx := context.Background()
	if _, err := engine.Transfer(ctx, fx.spec, path); err != nil {
		t.Fatal(err)
	}
	testsupport.AppendRaw(t, path, "-done\n")
	if _, err := engine.Transfer(ctx, fx.spec, path); err != nil {
		t.Fatal(err)
	}
	if got := fx.registry.Recorder("A").Texts(); !reflect.DeepEqual(got, []string{"complete", "half-done"}) {
		t.Fatalf("unexpected lines %v", got)
	}
}

func TestLineCarriesSourceDetails(t *testing.T) {
	fx := newFixture(t, testsupport.RecordPattern(`app\.log$`, "A"))
	path := filepath.Join(fx.root, "sub", "app.log")
	testsupport.AppendLines(t, path, "hello")

	engine, _ := newEngine(t)
	if _, err := engine.Transfer(context.Background(), fx.spec, path); err != nil {
		t.Fatal(err)
	}
	lines := fx.registry.Recorder("A").Lines()
	want := handler.Line{Dir: filepath.Join(fx.root, "sub"), File: "app.log", Text: "hello", Number: 1, Pattern: `app\.log$`}
	if len(lines) != 1 || lines[0] != want {
		t.Fatalf("unexpected line %+v", lines)
	}
}

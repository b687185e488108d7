package tracker

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/offset"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func writeLog(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func acquire(t *testing.T, table *Table, path string) *File {
	t.Helper()
	f, _, err := table.Acquire(path)
	if err != nil {
		t.Fatalf("Acquire(%s): %v", path, err)
	}
	f.Unlock()
	return f
}

func TestReclaimBoundary(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	table := NewTable(0, WithClock(clock.Now))
	defer table.CloseAll()

	start := clock.Now()
	acquire(t, table, writeLog(t, dir, "a.log", "x\n"))

	if n := table.Reclaim(start.Add(86399 * time.Second)); n != 0 || table.Len() != 1 {
		t.Fatalf("entry at 86399s should be retained (closed=%d len=%d)", n, table.Len())
	}
	if n := table.Reclaim(start.Add(86400 * time.Second)); n != 0 || table.Len() != 1 {
		t.Fatalf("entry at exactly 86400s should be retained (closed=%d)", n)
	}
	if n := table.Reclaim(start.Add(86401 * time.Second)); n != 1 || table.Len() != 0 {
		t.Fatalf("entry at 86401s should be evicted (closed=%d len=%d)", n, table.Len())
	}
}

func TestAcquireCreatingEntryReclaimsStaleOnes(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	table := NewTable(0, WithClock(clock.Now))
	defer table.CloseAll()

	stale := acquire(t, table, writeLog(t, dir, "old.log", ""))
	clock.Advance(86401 * time.Second)
	fresh := writeLog(t, dir, "new.log", "")
	acquire(t, table, fresh)

	snapshot := table.Snapshot()
	if len(snapshot) != 1 || snapshot[0].LogPath != fresh {
		t.Fatalf("expected only the new entry, got %+v", snapshot)
	}
	if !stale.closed {
		t.Fatal("stale entry should be closed")
	}
}

func TestReclaimSkipsBusyEntries(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	table := NewTable(time.Hour, WithClock(clock.Now))
	defer table.CloseAll()

	path := writeLog(t, dir, "busy.log", "")
	busy, _, err := table.Acquire(path)
	if err != nil {
		t.Fatal(err)
	}
	if n := table.Reclaim(clock.Now().Add(2 * time.Hour)); n != 0 {
		t.Fatalf("busy entry should not be reclaimed, closed %d", n)
	}
	busy.Unlock()
	if n := table.Reclaim(clock.Now().Add(2 * time.Hour)); n != 1 {
		t.Fatalf("released entry should be reclaimed, closed %d", n)
	}

	clock.Advance(2 * time.Hour)
	again, created, err := table.Acquire(path)
	if err != nil {
		t.Fatal(err)
	}
	defer again.Unlock()
	if !created || again == busy {
		t.Fatal("expected a fresh entry after reclaim")
	}
}

func TestAcquireIsExclusiveUnderConcurrency(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "shared.log", "")

	var opens atomic.Int32
	table := NewTable(0, WithOpener(func(p string, now time.Time) (*File, error) {
		opens.Add(1)
		return OpenFile(p, now)
	}))
	defer table.CloseAll()

	const workers = 32
	var inside atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Go(func() {
			f, _, err := table.Acquire(path)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			if inside.Add(1) != 1 {
				t.Error("two goroutines hold the same entry")
			}
			f.NextLine()
			inside.Add(-1)
			f.Unlock()
		})
	}
	wg.Wait()

	if opens.Load() != 1 {
		t.Fatalf("expected exactly one open, got %d", opens.Load())
	}
	snapshot := table.Snapshot()
	if len(snapshot) != 1 || snapshot[0].Lines != workers {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestReadLineKeepsPartialLines(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "app.log", "one\r\ntw")
	table := NewTable(0)
	defer table.CloseAll()

	f, _, err := table.Acquire(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Unlock()

	line, ok, err := f.ReadLine()
	if err != nil || !ok || string(line) != "one" {
		t.Fatalf("first line = %q ok=%v err=%v", line, ok, err)
	}
	if _, ok, _ := f.ReadLine(); ok {
		t.Fatal("partial line must not be returned")
	}

	appendFile(t, path, "o\nthree\n")
	for _, want := range []string{"two", "three"} {
		line, ok, err := f.ReadLine()
		if err != nil || !ok || string(line) != want {
			t.Fatalf("line = %q ok=%v err=%v, want %q", line, ok, err, want)
		}
	}
}

func TestStatusString(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "app.log", "")
	opened := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	table := NewTable(0, WithClock(func() time.Time { return opened }))
	defer table.CloseAll()

	f, _, err := table.Acquire(path)
	if err != nil {
		t.Fatal(err)
	}
	f.NextLine()
	f.NextLine()
	if err := f.Record(offset.Record{Line: 2}); err != nil {
		t.Fatal(err)
	}
	f.Unlock()

	got := table.Snapshot()[0].String()
	want := "log file: " + path + ", loc file: " + offset.Path(path) + ", open time: 2024-03-01 08:00:00 +0000, lines: 2"
	if got != want {
		t.Fatalf("status = %q\nwant %q", got, want)
	}

	parsed, err := ParseStatus(got)
	if err != nil {
		t.Fatalf("ParseStatus: %v", err)
	}
	if parsed.LogPath != path || parsed.OffsetPath != offset.Path(path) || parsed.Lines != 2 || !parsed.OpenedAt.Equal(opened) {
		t.Fatalf("ParseStatus = %+v", parsed)
	}
	if _, err := ParseStatus("daemon is running."); err == nil {
		t.Fatal("expected error for non-status line")
	}
}

func TestCloseAllEmptiesTable(t *testing.T) {
	dir := t.TempDir()
	table := NewTable(0)
	a := acquire(t, table, writeLog(t, dir, "a.log", ""))
	acquire(t, table, writeLog(t, dir, "b.log", ""))

	if err := table.CloseAll(); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	if table.Len() != 0 || !a.closed {
		t.Fatal("expected all entries closed")
	}
}

func TestAcquireMissingFile(t *testing.T) {
	table := NewTable(0)
	_, _, err := table.Acquire(filepath.Join(t.TempDir(), "missing.log"))
	if err == nil || !strings.Contains(err.Error(), "open log file") {
		t.Fatalf("expected open error, got %v", err)
	}
	if table.Len() != 0 {
		t.Fatal("failed open must not leave an entry")
	}
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
}

package tracker

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/logging"
)

// DefaultIdle is how long an entry may stay open before it is reclaimed.
const DefaultIdle = 86400 * time.Second

// StatusTimeLayout formats open times in status lines.
const StatusTimeLayout = "2006-01-02 15:04:05 -0700"

// Status describes one tracked entry.
type Status struct {
	LogPath    string
	OffsetPath string
	OpenedAt   time.Time
	Lines      int
}

// String renders the status line reported over the control protocol.
func (s Status) String() string {
	return fmt.Sprintf("log file: %s, loc file: %s, open time: %s, lines: %d",
		s.LogPath, s.OffsetPath, s.OpenedAt.Format(StatusTimeLayout), s.Lines)
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(line string) (Status, error) {
	var s Status
	rest, ok := strings.CutPrefix(line, "log file: ")
	if !ok {
		return s, fmt.Errorf("status line %q: missing log file", line)
	}
	var opened, lines string
	var found [3]bool
	s.LogPath, rest, found[0] = strings.Cut(rest, ", loc file: ")
	s.OffsetPath, rest, found[1] = strings.Cut(rest, ", open time: ")
	opened, lines, found[2] = strings.Cut(rest, ", lines: ")
	if !found[0] || !found[1] || !found[2] {
		return s, fmt.Errorf("status line %q: malformed", line)
	}
	at, err := time.Parse(StatusTimeLayout, opened)
	if err != nil {
		return s, fmt.Errorf("status line %q: open time: %w", line, err)
	}
	n, err := strconv.Atoi(lines)
	if err != nil {
		return s, fmt.Errorf("status line %q: lines: %w", line, err)
	}
	s.OpenedAt = at
	s.Lines = n
	return s, nil
}

// Option customizes a Table.
type Option func(*Table)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Table) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger attaches a logger for reclaim diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Table) {
		t.logger = logging.NewComponentLogger(logger, "tracker")
	}
}

// WithOpener replaces the function used to open new entries.
func WithOpener(open func(logPath string, now time.Time) (*File, error)) Option {
	return func(t *Table) {
		if open != nil {
			t.open = open
		}
	}
}

// Table maps log paths to their tracked entries.
type Table struct {
	mu     sync.Mutex
	files  map[string]*File
	idle   time.Duration
	now    func() time.Time
	open   func(string, time.Time) (*File, error)
	logger *slog.Logger
}

// NewTable builds an empty table. A non-positive idle uses DefaultIdle.
func NewTable(idle time.Duration, opts ...Option) *Table {
	if idle <= 0 {
		idle = DefaultIdle
	}
	t := &Table{
		files:  make(map[string]*File),
		idle:   idle,
		now:    time.Now,
		open:   OpenFile,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Acquire returns the locked entry for logPath, opening it when absent.
// Creating an entry triggers a reclaim pass. The caller must Unlock the entry.
// created reports whether this call opened the entry.
func (t *Table) Acquire(logPath string) (file *File, created bool, err error) {
	for {
		t.mu.Lock()
		entry, ok := t.files[logPath]
		if !ok {
			now := t.now()
			entry, err = t.open(logPath, now)
			if err != nil {
				t.mu.Unlock()
				return nil, false, err
			}
			t.files[logPath] = entry
			created = true
			t.reclaimLocked(now)
		}
		t.mu.Unlock()

		entry.mu.Lock()
		if !entry.closedLocked() {
			return entry, created, nil
		}
		// Reclaimed between lookup and lock; the next pass reopens it.
		entry.mu.Unlock()
		created = false
	}
}

// Reclaim closes and evicts entries open strictly longer than the idle
// window as of now. Entries busy with a transfer are left for a later pass.
// It returns the number of entries closed.
func (t *Table) Reclaim(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reclaimLocked(now)
}

// ReclaimNow runs Reclaim with the table clock.
func (t *Table) ReclaimNow() int {
	return t.Reclaim(t.now())
}

func (t *Table) reclaimLocked(now time.Time) int {
	closed := 0
	for path, entry := range t.files {
		if now.Sub(entry.openedAt) <= t.idle {
			continue
		}
		if !entry.mu.TryLock() {
			continue
		}
		if err := entry.closeLocked(); err != nil {
			logging.WarnWithContext(t.logger, "close idle tracked file", "tracker_close_failed",
				logging.LogFile(path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "file handle may leak until restart"),
			)
		}
		entry.mu.Unlock()
		delete(t.files, path)
		closed++
		t.logger.Debug("reclaimed idle file", logging.LogFile(path))
	}
	return closed
}

// Snapshot lists tracked entries sorted by log path.
func (t *Table) Snapshot() []Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Status, 0, len(t.files))
	for _, entry := range t.files {
		out = append(out, entry.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LogPath < out[j].LogPath })
	return out
}

// Len returns the number of tracked entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files)
}

// CloseAll closes every entry, waiting for in-flight transfers to release
// their entries, and empties the table.
func (t *Table) CloseAll() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for path, entry := range t.files {
		entry.mu.Lock()
		if err := entry.closeLocked(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", path, err)
		}
		entry.mu.Unlock()
		delete(t.files, path)
	}
	return firstErr
}

package tracker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/offset"
)

// File is one tracked log file with its companion offset file. Callers hold
// the entry lock (obtained from Table.Acquire) while reading or recording.
type File struct {
	mu sync.Mutex

	logPath  string
	log      *os.File
	reader   *bufio.Reader
	pending  []byte
	offsets  *offset.File
	openedAt time.Time
	lines    atomic.Int64
	closed   bool
}

// OpenFile opens logPath for reading from its start and the companion offset
// file for appending.
func OpenFile(logPath string, now time.Time) (*File, error) {
	log, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	offsets, err := offset.Open(logPath)
	if err != nil {
		log.Close()
		return nil, err
	}
	return &File{
		logPath:  logPath,
		log:      log,
		reader:   bufio.NewReader(log),
		offsets:  offsets,
		openedAt: now,
	}, nil
}

// ReadLine returns the next complete line without its terminator. ok is false
// when no complete line is available yet; a partial trailing line is kept
// and completed by a later call.
func (f *File) ReadLine() (line []byte, ok bool, err error) {
	chunk, err := f.reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			f.pending = append(f.pending, chunk...)
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(f.pending) > 0 {
		chunk = append(f.pending, chunk...)
		f.pending = nil
	}
	chunk = chunk[:len(chunk)-1]
	if n := len(chunk); n > 0 && chunk[n-1] == '\r' {
		chunk = chunk[:n-1]
	}
	return chunk, true, nil
}

// NextLine advances the line counter and returns the new 1-based line number.
func (f *File) NextLine() int {
	return int(f.lines.Add(1))
}

// Resume is the number of lines already recorded in the offset file when the
// entry was opened; lines numbered at or below it are skipped.
func (f *File) Resume() int { return f.offsets.Resume() }

// Record appends one offset record.
func (f *File) Record(record offset.Record) error {
	return f.offsets.Append(record)
}

// Lines returns the number of complete lines read so far.
func (f *File) Lines() int { return int(f.lines.Load()) }

func (f *File) LogPath() string { return f.logPath }

func (f *File) OffsetPath() string { return f.offsets.Path() }

func (f *File) OpenedAt() time.Time { return f.openedAt }

// Unlock releases the entry lock taken by Table.Acquire.
func (f *File) Unlock() { f.mu.Unlock() }

func (f *File) closedLocked() bool { return f.closed }

func (f *File) status() Status {
	return Status{LogPath: f.logPath, OffsetPath: f.offsets.Path(), OpenedAt: f.openedAt, Lines: f.Lines()}
}

func (f *File) closeLocked() error {
	if f.closed {
		return nil
	}
	f.closed = true
	return errors.Join(f.log.Close(), f.offsets.Close())
}

// Package offset manages companion offset files: one append-only text file per
// tracked log file recording, per shipped line, its line number and the
// handlers that failed on it. The number of records is the resume point.
package offset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DirSuffix is appended to a log file's directory to name the sibling
// directory holding its offset files.
const DirSuffix = ".loc"

// Dir returns the offset directory for logPath: <dir>.loc.
func Dir(logPath string) string {
	return filepath.Dir(logPath) + DirSuffix
}

// Path returns the offset file location for logPath: <dir>.loc/<file>.
func Path(logPath string) string {
	return filepath.Join(Dir(logPath), filepath.Base(logPath))
}

// Record is one processed line.
type Record struct {
	Line   int
	Failed []string
}

// String renders the record as written to disk: "N" or "N, [a, b]".
func (r Record) String() string {
	if len(r.Failed) == 0 {
		return strconv.Itoa(r.Line)
	}
	return fmt.Sprintf("%d, [%s]", r.Line, strings.Join(r.Failed, ", "))
}

// ParseRecord parses one line of an offset file.
func ParseRecord(text string) (Record, error) {
	text = strings.TrimSpace(text)
	number, rest, hasFailures := strings.Cut(text, ",")
	line, err := strconv.Atoi(strings.TrimSpace(number))
	if err != nil {
		return Record{}, fmt.Errorf("parse offset record %q: %w", text, err)
	}
	record := Record{Line: line}
	if !hasFailures {
		return record, nil
	}
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, "[") || !strings.HasSuffix(rest, "]") {
		return Record{}, fmt.Errorf("parse offset record %q: malformed failure list", text)
	}
	for _, name := range strings.Split(rest[1:len(rest)-1], ",") {
		if name = strings.Trim(strings.TrimSpace(name), `"`); name != "" {
			record.Failed = append(record.Failed, name)
		}
	}
	return record, nil
}

// File is an open offset file positioned for appending.
type File struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	resume int
}

// Open creates the offset directory if needed, opens (or creates) the offset
// file for logPath, and counts its existing records.
func Open(logPath string) (*File, error) {
	path := Path(logPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create offset directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open offset file: %w", err)
	}
	count, terminated, err := countRecords(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("scan offset file %s: %w", path, err)
	}
	f := &File{path: path, file: file, writer: bufio.NewWriter(file), resume: count}
	if !terminated {
		// A crash mid-write left a record without its newline.
		if _, err := file.WriteString("\n"); err != nil {
			file.Close()
			return nil, fmt.Errorf("repair offset file %s: %w", path, err)
		}
	}
	return f, nil
}

// Path returns the offset file location.
func (f *File) Path() string { return f.path }

// Resume is the number of records present when the file was opened.
func (f *File) Resume() int { return f.resume }

// Append writes one record and flushes it to the file.
func (f *File) Append(record Record) error {
	if _, err := f.writer.WriteString(record.String()); err != nil {
		return err
	}
	if err := f.writer.WriteByte('\n'); err != nil {
		return err
	}
	return f.writer.Flush()
}

// Close flushes and closes the offset file.
func (f *File) Close() error {
	flushErr := f.writer.Flush()
	closeErr := f.file.Close()
	return errors.Join(flushErr, closeErr)
}

// ReadAll parses every record in the offset file at path.
func ReadAll(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		record, err := ParseRecord(scanner.Text())
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, scanner.Err()
}

// countRecords counts non-empty lines and reports whether the content ends
// with a newline (an empty file counts as terminated).
func countRecords(r io.Reader) (int, bool, error) {
	reader := bufio.NewReader(r)
	count := 0
	terminated := true
	for {
		line, err := reader.ReadString('\n')
		if strings.TrimSpace(line) != "" {
			count++
		}
		if len(line) > 0 {
			terminated = strings.HasSuffix(line, "\n")
		}
		if errors.Is(err, io.EOF) {
			return count, terminated, nil
		}
		if err != nil {
			return 0, false, err
		}
	}
}

package testsupport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// AppendLines appends each line plus a newline to path, creating it and its
// parent directories when missing.
func AppendLines(t testing.TB, path string, lines ...string) {
	t.Helper()
	AppendRaw(t, path, strings.Join(lines, "\n")+"\n")
}

// AppendRaw appends content to path verbatim.
func AppendRaw(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// ReadLines returns the non-empty lines of path.
func ReadLines(t testing.TB, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

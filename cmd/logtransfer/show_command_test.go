package main

import (
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer is a thread-safe wrapper around bytes.Buffer for use in tests.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatalf("append %s: %v", path, err)
	}
}

func TestShowLastLines(t *testing.T) {
	env := setupCLITestEnv(t, false)
	if err := env.cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, []string{"show"}, env.configPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "No log entries available")

	for _, line := range []string{"one", "two", "three"} {
		appendLine(t, env.cfg.LogFilePath(), line)
	}
	out, _, err = runCLI(t, []string{"show", "-n", "2"}, env.configPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if out != "two\nthree\n" {
		t.Fatalf("unexpected show output %q", out)
	}
}

func TestShowFollow(t *testing.T) {
	env := setupCLITestEnv(t, false)
	if err := env.cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	logPath := env.cfg.LogFilePath()
	appendLine(t, logPath, "first")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := newRootCommand()
	cmd.SetArgs([]string{"--config", env.configPath, "show", "--follow"})
	cmd.SetContext(ctx)
	stdout := &syncBuffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(&bytes.Buffer{})

	done := make(chan error, 1)
	go func() {
		done <- cmd.Execute()
	}()

	waitFor(t, 2*time.Second, func() bool { return strings.Contains(stdout.String(), "first") })
	appendLine(t, logPath, "second")
	waitFor(t, 5*time.Second, func() bool { return strings.Contains(stdout.String(), "second") })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("show --follow did not exit")
	}
}

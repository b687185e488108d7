package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/config"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/daemon"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/handler"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/logging"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/testsupport"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/watchspec"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	daemon     *daemon.Daemon
	done       chan error
}

// setupCLITestEnv writes a config file and, when withDaemon is set, runs a
// daemon for it in-process.
func setupCLITestEnv(t *testing.T, withDaemon bool) *cliTestEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	path := testsupport.WriteConfig(t, testsupport.NewConfig(t))
	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	env := &cliTestEnv{cfg: cfg, configPath: path}
	if !withDaemon {
		return env
	}

	logger := logging.NewNop()
	specs, err := watchspec.BuildAll(cfg, handler.DefaultRegistry(), handler.Deps{Logger: logger})
	if err != nil {
		t.Fatalf("BuildAll: %v", err)
	}
	d, err := daemon.New(specs, daemon.OptionsFromConfig(cfg), logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	env.daemon = d
	env.done = make(chan error, 1)
	go func() { env.done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-env.done:
		case <-time.After(5 * time.Second):
		}
	})

	select {
	case <-d.Ready():
	case err := <-env.done:
		t.Fatalf("daemon exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon never became ready")
	}
	return env
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

package daemonctl_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/control"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/daemonctl"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/logging"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/testsupport"
)

type fakeTarget struct {
	stops atomic.Int32
}

func (f *fakeTarget) Stop() { f.stops.Add(1) }

func (f *fakeTarget) Status() control.Report {
	return control.Report{Identifier: "config file: test"}
}

func serve(t *testing.T, addr string) *fakeTarget {
	t.Helper()
	target := &fakeTarget{}
	srv, err := control.Listen(addr, target, logging.NewNop())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)
	return target
}

func TestStatusNotRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := daemonctl.Status(context.Background(), cfg.Address()); !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestStatusRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	serve(t, cfg.Address())

	lines, err := daemonctl.Status(context.Background(), cfg.Address())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(lines) != 2 || lines[0] != control.ReplyRunning || lines[1] != "config file: test" {
		t.Fatalf("unexpected status lines %q", lines)
	}
}

func TestEnsureStartedDetectsRunningDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	serve(t, cfg.Address())

	err := daemonctl.EnsureStarted(cfg.Address(), "/nonexistent/logtransfer", daemonctl.LaunchOptions{}, time.Second)
	if !errors.Is(err, daemonctl.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestEnsureStartedLaunchFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	err := daemonctl.EnsureStarted(cfg.Address(), filepath.Join(t.TempDir(), "missing"), daemonctl.LaunchOptions{}, time.Second)
	if err == nil {
		t.Fatal("expected launch failure for missing executable")
	}
}

func TestStopAndTerminate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	target := serve(t, cfg.Address())

	result, err := daemonctl.StopAndTerminate(cfg, 2*time.Second)
	if err != nil {
		t.Fatalf("StopAndTerminate: %v", err)
	}
	if len(result.Reply) != 1 || result.Reply[0] != control.ReplyExiting {
		t.Fatalf("unexpected stop reply %q", result.Reply)
	}
	if result.ForcedKill {
		t.Fatal("did not expect forced kill")
	}
	if target.stops.Load() != 1 {
		t.Fatalf("expected target stopped once, got %d", target.stops.Load())
	}
	if control.Probe(context.Background(), cfg.Address()) {
		t.Fatal("control port still answering after stop")
	}
}

func TestStopAndTerminateNotRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := daemonctl.StopAndTerminate(cfg, 100*time.Millisecond); !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestWaitForShutdownTimesOut(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	serve(t, cfg.Address())
	if err := daemonctl.WaitForShutdown(cfg.Address(), 200*time.Millisecond); err == nil {
		t.Fatal("expected timeout while daemon still answers")
	}
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logtransfer.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(4242)+"\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	pid, err := daemonctl.ReadPID(path)
	if err != nil || pid != 4242 {
		t.Fatalf("ReadPID = %d, %v", pid, err)
	}

	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if _, err := daemonctl.ReadPID(path); err == nil {
		t.Fatal("expected error for invalid pid file")
	}
}

func TestForceKillRefusesSelf(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logtransfer.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if _, err := daemonctl.ForceKillProcess(path, "", 0); err == nil {
		t.Fatal("expected refusal to kill current process")
	}
	if _, err := daemonctl.ForceKillProcess(filepath.Join(dir, "missing.pid"), "", 0); err == nil {
		t.Fatal("expected error without pid")
	}
}

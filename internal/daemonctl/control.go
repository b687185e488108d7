// Package daemonctl orchestrates the daemon from the CLI side: detecting a
// running instance over the control port, launching a detached daemon
// process, and stopping it.
package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/config"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/control"
)

var (
	// ErrDaemonNotRunning indicates no daemon answers on the control port.
	ErrDaemonNotRunning = errors.New("daemon not running")
	// ErrAlreadyRunning indicates a daemon already answers on the control port.
	ErrAlreadyRunning = errors.New("daemon already running")
)

const pollInterval = 100 * time.Millisecond

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	Reply      []string
	ForcedKill bool
	PID        int
}

// Launch starts a detached daemon process in its own session.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"daemon"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForControl waits until a daemon answers status at addr.
func WaitForControl(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		lines, err := control.Status(context.Background(), addr)
		if err == nil && len(lines) > 0 && lines[0] == control.ReplyRunning {
			return nil
		}
		lastErr = err
		time.Sleep(pollInterval)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches a daemon unless one already answers at addr, in
// which case it returns ErrAlreadyRunning.
func EnsureStarted(addr, executablePath string, opts LaunchOptions, waitTimeout time.Duration) error {
	if control.Probe(context.Background(), addr) {
		return ErrAlreadyRunning
	}
	if err := Launch(executablePath, opts); err != nil {
		return err
	}
	return WaitForControl(addr, waitTimeout)
}

// Status returns the daemon's status reply lines.
func Status(ctx context.Context, addr string) ([]string, error) {
	lines, err := control.Status(ctx, addr)
	if err != nil {
		if control.IsUnreachable(err) {
			return nil, ErrDaemonNotRunning
		}
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrDaemonNotRunning
	}
	return lines, nil
}

// WaitForShutdown waits until no daemon answers at addr.
func WaitForShutdown(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !control.Probe(context.Background(), addr) {
			return nil
		}
		time.Sleep(pollInterval)
	}
	return fmt.Errorf("daemon did not stop within %s", timeout)
}

// Stop sends the stop command and waits for the control port to close.
// The stop reply is returned even when the wait times out.
func Stop(addr string, timeout time.Duration) ([]string, error) {
	reply, err := control.Stop(context.Background(), addr)
	if err != nil {
		if control.IsUnreachable(err) {
			return nil, ErrDaemonNotRunning
		}
		return nil, err
	}
	return reply, WaitForShutdown(addr, timeout)
}

// StopAndTerminate requests daemon stop and force-kills the process recorded
// in the pid file if it still answers after gracePeriod.
func StopAndTerminate(cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	reply, err := Stop(cfg.Address(), gracePeriod)
	if errors.Is(err, ErrDaemonNotRunning) {
		return StopResult{}, err
	}
	result := StopResult{Reply: reply}
	if err == nil {
		return result, nil
	}
	if reply == nil {
		return result, err
	}
	pid, killErr := ForceKillProcess(cfg.PIDPath(), cfg.LockPath(), 0)
	if killErr != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", killErr)
	}
	result.ForcedKill = true
	result.PID = pid
	return result, nil
}

// Restart stops the daemon if running, then launches a new one.
func Restart(cfg *config.Config, executablePath string, opts LaunchOptions, stopGrace, startWait time.Duration) (wasRunning bool, err error) {
	_, stopErr := StopAndTerminate(cfg, stopGrace)
	if stopErr != nil && !errors.Is(stopErr, ErrDaemonNotRunning) {
		return false, stopErr
	}
	if err := EnsureStarted(cfg.Address(), executablePath, opts, startWait); err != nil {
		return stopErr == nil, err
	}
	return stopErr == nil, nil
}

// ReadPID returns the pid recorded at pidPath.
func ReadPID(pidPath string) (int, error) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s", pidPath)
	}
	return pid, nil
}

// ForceKillProcess sends SIGKILL to the daemon process and cleans pid/lock files.
func ForceKillProcess(pidPath, lockPath string, fallbackPID int) (int, error) {
	pid := fallbackPID
	if parsed, err := ReadPID(pidPath); err == nil {
		pid = parsed
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("read daemon pid file %q: %w", pidPath, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	if lockPath != "" {
		_ = os.Remove(lockPath)
	}
	return pid, nil
}

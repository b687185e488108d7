// Package daemonrun hosts the foreground daemon runtime used by the hidden
// daemon command: logger setup, pid file, signal handling, and daemon
// construction from configuration.
package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/config"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/daemon"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/handler"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/logging"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/watchspec"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
	// Foreground mirrors the daemon log to stdout.
	Foreground bool
	// Registry overrides the handler registry.
	Registry *handler.Registry
}

// Run starts the daemon and blocks until it stops. SIGINT and SIGTERM
// trigger the same stop sequence as the stop command.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	runID := uuid.NewString()
	baseLogger, closer, err := logging.NewFromConfig(cfg, opts.Foreground)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closer.Close()
	ctx := logging.WithRunID(cmdCtx, runID)
	logger := logging.WithContext(ctx, baseLogger)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	registry := opts.Registry
	if registry == nil {
		registry = handler.DefaultRegistry()
	}
	specs, err := watchspec.BuildAll(cfg, registry, handler.Deps{Logger: logger})
	if err != nil {
		logger.Error("build watch specs", logging.Error(err))
		return err
	}

	d, err := daemon.New(specs, daemon.OptionsFromConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	stopOnSignal := context.AfterFunc(signalCtx, d.Stop)
	defer stopOnSignal()

	logger.Info("daemon runtime",
		logging.String("config", cfg.Source()),
		logging.String("log_file", cfg.LogFilePath()),
		logging.Int("pid", os.Getpid()),
	)
	if err := d.Run(ctx); err != nil {
		logger.Error("daemon exited with error", logging.Error(err))
		return err
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/control"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/daemonctl"
)

const (
	msgStarting   = "daemon is starting."
	msgNotRunning = "daemon no running."

	startWait = 10 * time.Second
	stopWait  = 5 * time.Second
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start [config]",
		Short: "Start the logtransfer daemon",
		Args:  cobra.MaximumNArgs(1),
		// The optional positional config must be applied before loading.
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				ctx.setConfigPath(args[0])
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			err = daemonctl.EnsureStarted(cfg.Address(), exe, daemonctl.LaunchOptions{
				ConfigPath: cfg.Source(),
				LogLevel:   ctx.logLevel(),
			}, startWait)
			if errors.Is(err, daemonctl.ErrAlreadyRunning) {
				fmt.Fprintln(stdout, control.ReplyRunning)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, msgStarting)
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the logtransfer daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(cfg, stopWait)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, msgNotRunning)
				return nil
			}
			for _, line := range result.Reply {
				fmt.Fprintln(stdout, line)
			}
			if err != nil {
				return err
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Killed daemon process (pid %d)\n", result.PID)
			}
			return nil
		},
	}

	var asTable bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's open log files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			lines, err := daemonctl.Status(cmd.Context(), cfg.Address())
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, msgNotRunning)
				return nil
			}
			if err != nil {
				return err
			}
			if !asTable {
				for _, line := range lines {
					fmt.Fprintln(stdout, line)
				}
				return nil
			}
			return renderStatus(stdout, lines, shouldColorize(stdout))
		},
	}
	statusCmd.Flags().BoolVar(&asTable, "table", false, "Render open files as a table")

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the logtransfer daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			wasRunning, err := daemonctl.Restart(cfg, exe, daemonctl.LaunchOptions{
				ConfigPath: cfg.Source(),
				LogLevel:   ctx.logLevel(),
			}, stopWait, startWait)
			if err != nil {
				return err
			}
			if wasRunning {
				fmt.Fprintln(stdout, control.ReplyExiting)
			}
			fmt.Fprintln(stdout, msgStarting)
			return nil
		},
	}

	return []*cobra.Command{startCmd, stopCmd, statusCmd, restartCmd}
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

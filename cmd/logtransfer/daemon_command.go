package main

import (
	"github.com/spf13/cobra"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/daemonrun"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var foreground bool
	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Run the logtransfer daemon (internal)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:   ctx.logLevel(),
				Foreground: foreground,
			})
		},
	}
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Also write daemon logs to stdout")
	return cmd
}

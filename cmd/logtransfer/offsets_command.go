package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/config"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/offset"
)

func newOffsetsCommand() *cobra.Command {
	var failedOnly bool
	cmd := &cobra.Command{
		Use:         "offsets <logfile>",
		Short:       "Show the shipping records kept for a log file",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			logPath, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			logPath, err = filepath.Abs(logPath)
			if err != nil {
				return fmt.Errorf("resolve log path: %w", err)
			}
			records, err := offset.ReadAll(offset.Path(logPath))
			if err != nil {
				return fmt.Errorf("read offsets for %s: %w", logPath, err)
			}

			out := cmd.OutOrStdout()
			failed := 0
			rows := make([][]string, 0, len(records))
			for _, rec := range records {
				if len(rec.Failed) > 0 {
					failed++
				} else if failedOnly {
					continue
				}
				rows = append(rows, []string{strconv.Itoa(rec.Line), strings.Join(rec.Failed, ", ")})
			}

			fmt.Fprintf(out, "Offset file: %s\n", offset.Path(logPath))
			fmt.Fprintf(out, "Lines shipped: %d (with failures: %d)\n", len(records), failed)
			if len(rows) == 0 {
				return nil
			}
			fmt.Fprintln(out, renderTable([]column{{title: "Line", numeric: true}, {title: "Failed handlers"}}, rows))
			return nil
		},
	}
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Only show lines with failed handlers")
	return cmd
}

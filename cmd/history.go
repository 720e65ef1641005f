package main

import (
	"context"

	"github.com/httprunner/fwagent/pkg/cmdlog"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		runID  string
		limit  int
		format string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the commands executed by a previous run",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			reader, err := cmdlog.OpenReader(rootDBPath)
			if err != nil {
				return err
			}
			defer reader.Close()

			if runID == "" {
				if runID, err = reader.LatestRunID(ctx); err != nil {
					return err
				}
				if runID == "" {
					logger().Info().Msg("command log is empty")
					return nil
				}
			}
			entries, err := reader.History(ctx, cmdlog.Query{RunID: runID, Limit: limit})
			if err != nil {
				return err
			}
			return renderHistory(cmd.OutOrStdout(), entries, format)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "Run id to show, defaults to the latest run")
	cmd.Flags().IntVar(&limit, "limit", 0, "Show at most this many of the newest commands")
	cmd.Flags().StringVar(&format, "format", formatText, "Output format: text|yaml|json")
	return cmd
}

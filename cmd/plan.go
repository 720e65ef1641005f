package main

import (
	"context"

	fwagent "github.com/httprunner/fwagent"
	"github.com/spf13/cobra"
)

func newPlanCmd() *cobra.Command {
	var (
		pools  []string
		format string
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show which devices would be updated, in order, without changing anything",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			driver := fwagent.NewDriver(a.inventory, nil, fwagent.DriverConfig{Pools: pools}, a.logger)
			plan, err := driver.Plan(ctx)
			if err != nil {
				return err
			}
			return renderPlan(cmd.OutOrStdout(), plan, format)
		},
	}
	cmd.Flags().StringSliceVar(&pools, "pool", nil, "Only plan these pools (repeatable)")
	cmd.Flags().StringVar(&format, "format", formatText, "Output format: text|yaml|json")
	return cmd
}

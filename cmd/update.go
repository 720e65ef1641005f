package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	fwagent "github.com/httprunner/fwagent"
	"github.com/httprunner/fwagent/internal/env"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type updateOptions struct {
	firmware     string
	pools        []string
	pollInterval time.Duration
}

func newUpdateCmd() *cobra.Command {
	opts := &updateOptions{}
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update disk firmware on every device of every active pool",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd.Context(), opts)
		},
	}
	cmd.Example = `  fwagent update --firmware /var/tmp/fw/ST4000NM-SN06.lod
  fwagent update --firmware ./fw.lod --pool tank --poll-interval 10s`

	flags := cmd.Flags()
	flags.StringVar(&opts.firmware, "firmware", env.String(env.Firmware, ""), "Firmware image to flash ($FWAGENT_FIRMWARE)")
	flags.StringSliceVar(&opts.pools, "pool", nil, "Only update these pools (repeatable)")
	flags.DurationVar(&opts.pollInterval, "poll-interval", env.Duration(env.PollInterval, fwagent.DefaultPollInterval), "Pause between resilver status polls ($FWAGENT_POLL_INTERVAL)")
	return cmd
}

func runUpdate(parent context.Context, opts *updateOptions) error {
	firmware, err := checkFirmware(opts.firmware)
	if err != nil {
		return err
	}
	if opts.pollInterval <= 0 {
		return &fwagent.UsageError{Err: errors.Errorf("poll interval must be positive, got %s", opts.pollInterval)}
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := fwagent.NewOrchestrator(a.runner, a.inventory, fwagent.OrchestratorConfig{
		Commands:     a.commands,
		Firmware:     firmware,
		PollInterval: opts.pollInterval,
		Metrics:      a.metrics,
	}, a.logger)
	if err != nil {
		return err
	}
	driver := fwagent.NewDriver(a.inventory, orch, fwagent.DriverConfig{
		Pools:   opts.pools,
		Metrics: a.metrics,
	}, a.logger)

	a.logger.Info().
		Str("firmware", firmware).
		Strs("pools", opts.pools).
		Dur("poll_interval", opts.pollInterval).
		Msg("starting firmware rollout")
	summary, err := driver.Run(ctx)
	event := a.logger.Info()
	if err != nil {
		event = a.logger.Warn()
	}
	event.
		Int("planned", summary.Planned).
		Int("updated", len(summary.Updated)).
		Strs("devices", summary.Updated).
		Dur("elapsed", summary.Elapsed).
		Msg("firmware rollout finished")
	return err
}

// checkFirmware requires path to name an existing regular file.
func checkFirmware(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", &fwagent.UsageError{Err: errors.New("--firmware is required")}
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", &fwagent.UsageError{Err: errors.Wrap(err, "firmware image")}
	}
	if !info.Mode().IsRegular() {
		return "", &fwagent.UsageError{Err: errors.Errorf("firmware image %s is not a regular file", path)}
	}
	return path, nil
}

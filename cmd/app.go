package main

import (
	"github.com/google/uuid"
	fwagent "github.com/httprunner/fwagent"
	"github.com/httprunner/fwagent/pkg/cmdlog"
	"github.com/httprunner/fwagent/pkg/commands"
	"github.com/httprunner/fwagent/pkg/inventory"
	"github.com/httprunner/fwagent/pkg/runner"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// app bundles the components shared by subcommands that talk to the host.
type app struct {
	runID     string
	logger    zerolog.Logger
	commands  commands.Set
	cmdlog    *cmdlog.Manager
	metrics   *fwagent.Metrics
	runner    *runner.ExecRunner
	inventory *inventory.Inventory
}

func newApp() (*app, error) {
	set := commands.Defaults()
	if rootCommandsFile != "" {
		loaded, err := commands.LoadFile(rootCommandsFile)
		if err != nil {
			return nil, &fwagent.UsageError{Err: err}
		}
		set = loaded
	}

	runID := uuid.NewString()
	logger := logger().With().Str("run_id", runID).Logger()

	manager, err := cmdlog.NewManager(cmdlog.Config{
		DBPath:    rootDBPath,
		JSONLPath: rootJSONLPath,
		RunID:     runID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open command log")
	}
	metrics := fwagent.NewMetrics()
	exec := runner.NewExecRunner(logger,
		runner.WithShell(rootShell),
		runner.WithRecorder(manager),
		runner.WithObserver(metrics.ObserveCommand),
	)
	inv, err := inventory.New(exec, inventory.Config{
		Commands:      set,
		ReservedPools: rootReservedPools,
		DevicePattern: rootDevicePattern,
	}, logger)
	if err != nil {
		manager.Close()
		return nil, &fwagent.UsageError{Err: err}
	}
	logger.Debug().Str("cmdlog", manager.Name()).Msg("command log opened")
	return &app{
		runID:     runID,
		logger:    logger,
		commands:  set,
		cmdlog:    manager,
		metrics:   metrics,
		runner:    exec,
		inventory: inv,
	}, nil
}

// Close flushes the command log and writes the metrics textfile.
func (a *app) Close() {
	if err := a.metrics.WriteTextfile(rootMetricsFile); err != nil {
		a.logger.Warn().Err(err).Msg("write metrics failed")
	}
	if err := a.cmdlog.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("close command log failed")
	}
}

package main

import (
	"errors"
	"os"

	fwagent "github.com/httprunner/fwagent"
	"github.com/httprunner/fwagent/internal/env"
	"github.com/httprunner/fwagent/pkg/runner"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fwagent",
	Short: "Roll disk firmware across storage pools one device at a time",
	Long: `fwagent updates the firmware of every disk in every active storage pool
without taking a pool offline: each device is health-checked, taken offline,
flashed, brought back online and resilvered before the next one is touched.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
}

var (
	rootLogFile       string
	rootVerbosity     string
	rootDBPath        string
	rootJSONLPath     string
	rootMetricsFile   string
	rootCommandsFile  string
	rootReservedPools []string
	rootDevicePattern string
	rootShell         string
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	_ = env.Ensure()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&rootLogFile, "log-file", env.String(env.LogFile, defaultLogFile()), "Persistent JSON log file ($FWAGENT_LOG_FILE)")
	flags.StringVar(&rootVerbosity, "verbosity", env.String(env.Verbosity, "info"), "Console log level: trace|debug|info|warn|error ($FWAGENT_VERBOSITY)")
	flags.StringVar(&rootDBPath, "db-path", env.String(env.DBPath, ""), "Command log SQLite path, default ~/.fwagent/commands.sqlite ($FWAGENT_DB_PATH)")
	flags.StringVar(&rootJSONLPath, "jsonl", env.String(env.JSONLPath, ""), "Also append the command log to this JSON-lines file ($FWAGENT_JSONL_PATH)")
	flags.StringVar(&rootMetricsFile, "metrics-textfile", env.String(env.MetricsTextfile, ""), "Write run metrics to this node-exporter textfile ($FWAGENT_METRICS_TEXTFILE)")
	flags.StringVar(&rootCommandsFile, "commands", env.String(env.CommandsFile, ""), "TOML file overriding command templates and timeouts ($FWAGENT_COMMANDS_FILE)")
	flags.StringSliceVar(&rootReservedPools, "reserved-pools", env.List(env.ReservedPools, []string{"rpool"}), "Pools never touched ($FWAGENT_RESERVED_POOLS)")
	flags.StringVar(&rootDevicePattern, "device-pattern", env.String(env.DevicePattern, ""), "Regexp matching device names in pool status ($FWAGENT_DEVICE_PATTERN)")
	flags.StringVar(&rootShell, "shell", env.String(env.Shell, runner.DefaultShell), "Shell used to run commands ($FWAGENT_SHELL)")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &fwagent.UsageError{Err: err}
	})
	rootCmd.AddCommand(
		newUpdateCmd(),
		newPlanCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)
}

func main() {
	err := usageOrErr(rootCmd.Execute())
	code := fwagent.ExitCode(err)
	if err != nil {
		reportFailure(err, code)
	}
	closeLogging()
	os.Exit(code)
}

// reportFailure writes the final log line with everything needed to
// diagnose the failing command remotely.
func reportFailure(err error, code int) {
	event := logger().Error().Err(err).Int("exit_code", code)
	var failure *runner.CommandFailure
	var timeout *runner.TimeoutError
	switch {
	case errors.As(err, &failure):
		event = event.
			Str("command", failure.Command.Line).
			Int("exit_status", failure.ExitStatus).
			Str("output", failure.Output)
	case errors.As(err, &timeout):
		event = event.
			Str("command", timeout.Command.Line).
			Dur("timeout", timeout.Timeout)
	}
	event.Msg("fwagent failed")
}

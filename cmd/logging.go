package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	fwagent "github.com/httprunner/fwagent"
	"github.com/httprunner/fwagent/internal/env"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	rootLogger  *zerolog.Logger
	rootLogSink io.Closer
)

func defaultLogFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".fwagent", "fwagent.log")
}

func setupLogging(cmd *cobra.Command, args []string) error {
	// settings from an unreadable env file must not silently fall back to defaults
	if err := env.Ensure(); err != nil {
		return &fwagent.UsageError{Err: errors.Wrap(err, "load env files")}
	}
	logger, sink, err := newLogger(rootLogFile, rootVerbosity, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	rootLogger = &logger
	rootLogSink = sink
	log.Logger = logger
	logger.Debug().Strs("env_files", env.LoadedPaths()).Str("command", cmd.CommandPath()).Msg("logging ready")
	return nil
}

// newLogger writes every event to logFile as JSON and the events at or above
// verbosity to the console.
func newLogger(logFile, verbosity string, console io.Writer) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(firstNonEmpty(verbosity, "info")))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.Logger{}, nil, &fwagent.UsageError{Err: errors.Errorf("invalid verbosity %q", verbosity)}
	}

	consoleWriter := zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}
	writers := []io.Writer{
		&zerolog.FilteredLevelWriter{
			Writer: zerolog.LevelWriterAdapter{Writer: consoleWriter},
			Level:  level,
		},
	}

	var sink io.Closer
	if path := strings.TrimSpace(logFile); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return zerolog.Logger{}, nil, errors.Wrapf(err, "create log dir for %s", path)
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Logger{}, nil, errors.Wrapf(err, "open log file %s", path)
		}
		writers = append(writers, file)
		sink = file
	}

	minLevel := level
	if sink != nil && zerolog.DebugLevel < minLevel {
		minLevel = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(minLevel).
		With().
		Timestamp().
		Logger()
	return logger, sink, nil
}

func logger() *zerolog.Logger {
	if rootLogger != nil {
		return rootLogger
	}
	return &log.Logger
}

func closeLogging() {
	if rootLogSink == nil {
		return
	}
	if f, ok := rootLogSink.(*os.File); ok {
		_ = f.Sync()
	}
	_ = rootLogSink.Close()
	rootLogSink = nil
}

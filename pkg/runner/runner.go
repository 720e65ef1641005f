package runner

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	// DefaultShell interprets command lines.
	DefaultShell = "/bin/sh"
	// exitStatusNotRun mirrors the shell convention for "command not found".
	exitStatusNotRun = 127
	// pipeDrainDelay bounds how long output is still read after the shell
	// exited while a background descendant holds the pipe open.
	pipeDrainDelay = 5 * time.Second
)

// Command is one external invocation. Timeout <= 0 means wait forever.
type Command struct {
	Line    string
	Timeout time.Duration
	// Kind labels the command for logs and metrics (e.g. "offline").
	Kind string
}

// Result is produced exactly once per executed Command.
type Result struct {
	Command    Command
	ExitStatus int
	Output     string
	StartedAt  time.Time
	Duration   time.Duration
}

// Runner executes commands one at a time.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Recorder receives every executed command together with its outcome.
type Recorder interface {
	Record(ctx context.Context, result Result, runErr error) error
}

// Observer is notified after every execution, used for metrics.
type Observer func(result Result, runErr error)

// ExecRunner runs command lines through a local shell.
type ExecRunner struct {
	shell      string
	logger     zerolog.Logger
	recorder   Recorder
	observer   Observer
	drainDelay time.Duration
}

// Option customizes an ExecRunner.
type Option func(*ExecRunner)

// WithShell overrides the interpreter used for command lines.
func WithShell(shell string) Option {
	return func(r *ExecRunner) {
		if trimmed := strings.TrimSpace(shell); trimmed != "" {
			r.shell = trimmed
		}
	}
}

// WithRecorder persists every command and its outcome.
func WithRecorder(rec Recorder) Option {
	return func(r *ExecRunner) { r.recorder = rec }
}

// WithObserver registers a post-execution callback.
func WithObserver(obs Observer) Option {
	return func(r *ExecRunner) { r.observer = obs }
}

// NewExecRunner builds a runner that logs through logger.
func NewExecRunner(logger zerolog.Logger, opts ...Option) *ExecRunner {
	r := &ExecRunner{shell: DefaultShell, logger: logger, drainDelay: pipeDrainDelay}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run executes cmd and blocks until it exits or its timeout elapses.
//
// Cancelling ctx does not interrupt a running command: once issued, a command
// either completes or is killed by its own timeout. ctx is only handed to the
// recorder.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	result, err := r.run(cmd)
	r.finish(ctx, result, err)
	return result, err
}

func (r *ExecRunner) run(c Command) (Result, error) {
	result := Result{Command: c, StartedAt: time.Now()}
	if strings.TrimSpace(c.Line) == "" {
		return result, errors.New("runner: empty command line")
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return result, errors.Wrap(err, "runner: create output pipe")
	}
	defer pr.Close()

	proc := exec.Command(r.shell, "-c", c.Line)
	// Both streams share one pipe so their writes interleave as emitted. A
	// plain *os.File keeps Wait from blocking on descendants holding it open.
	proc.Stdout = pw
	proc.Stderr = pw
	setProcessGroup(proc)

	r.logger.Debug().
		Str("kind", c.Kind).
		Str("command", c.Line).
		Dur("timeout", c.Timeout).
		Msg("run command")

	if err := proc.Start(); err != nil {
		pw.Close()
		result.ExitStatus = exitStatusNotRun
		result.Duration = time.Since(result.StartedAt)
		return result, &CommandFailure{
			Command:    c,
			ExitStatus: exitStatusNotRun,
			Output:     err.Error(),
			Err:        err,
		}
	}
	pw.Close()

	var output bytes.Buffer
	drained := make(chan struct{})
	go func() {
		_, _ = io.Copy(&output, pr)
		close(drained)
	}()

	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()

	var deadline <-chan time.Time
	if c.Timeout > 0 {
		timer := time.NewTimer(c.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var waitErr error
	select {
	case waitErr = <-done:
	case <-deadline:
		killProcessGroup(proc)
		// reap the child so nothing is left behind
		<-done
		pr.Close()
		<-drained
		result.ExitStatus = -1
		result.Duration = time.Since(result.StartedAt)
		return result, &TimeoutError{Command: c, Timeout: c.Timeout}
	}

	// The shell has exited, so its status decides the outcome. Descendants
	// still holding the pipe get drainDelay before the group is killed.
	drainTimer := time.NewTimer(r.drainDelay)
	select {
	case <-drained:
	case <-drainTimer.C:
		r.logger.Warn().
			Str("kind", c.Kind).
			Str("command", c.Line).
			Msg("background processes still hold output, killing process group")
		killProcessGroup(proc)
		pr.Close()
		<-drained
	}
	drainTimer.Stop()

	result.Duration = time.Since(result.StartedAt)
	result.Output = output.String()
	if waitErr == nil {
		return result, nil
	}

	exitStatus := 1
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		exitStatus = exitErr.ExitCode()
	}
	result.ExitStatus = exitStatus
	return result, &CommandFailure{
		Command:    c,
		ExitStatus: exitStatus,
		Output:     result.Output,
		Err:        waitErr,
	}
}

func (r *ExecRunner) finish(ctx context.Context, result Result, runErr error) {
	event := r.logger.Info()
	if runErr != nil {
		event = r.logger.Error().Err(runErr).Str("output", result.Output)
	}
	event.
		Str("kind", result.Command.Kind).
		Str("command", result.Command.Line).
		Int("exit_status", result.ExitStatus).
		Dur("elapsed", result.Duration).
		Msg("command finished")

	if r.observer != nil {
		r.observer(result, runErr)
	}
	if r.recorder == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	// the audit trail must survive an operator interrupt
	if err := r.recorder.Record(context.WithoutCancel(ctx), result, runErr); err != nil {
		r.logger.Warn().Err(err).Str("command", result.Command.Line).Msg("record command failed")
	}
}

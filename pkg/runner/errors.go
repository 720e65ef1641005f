package runner

import (
	"fmt"
	"time"
)

// TimeoutError reports a command killed after exceeding its time budget.
// No output is retained for timed-out commands.
type TimeoutError struct {
	Command Command
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command timed out after %s: %s", e.Timeout, e.Command.Line)
}

// CommandFailure reports a command that exited non-zero or could not start.
type CommandFailure struct {
	Command    Command
	ExitStatus int
	Output     string
	Err        error
}

func (e *CommandFailure) Error() string {
	return fmt.Sprintf("command exited with status %d: %s", e.ExitStatus, e.Command.Line)
}

func (e *CommandFailure) Unwrap() error {
	return e.Err
}

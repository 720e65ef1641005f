package fwagent

import (
	"context"
	"sync"
	"time"

	"github.com/httprunner/fwagent/pkg/runner"
)

// scriptedRunner replays canned output per command line. When a line has a
// sequence of outputs, the last one repeats once the sequence is used up.
type scriptedRunner struct {
	mu      sync.Mutex
	outputs map[string][]string
	fail    map[string]error
	served  map[string]int
	calls   []string
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{
		outputs: make(map[string][]string),
		fail:    make(map[string]error),
		served:  make(map[string]int),
	}
}

func (r *scriptedRunner) on(line string, outputs ...string) *scriptedRunner {
	r.outputs[line] = outputs
	return r
}

func (r *scriptedRunner) failOn(line string, exitStatus int) *scriptedRunner {
	r.fail[line] = &runner.CommandFailure{
		Command:    runner.Command{Line: line},
		ExitStatus: exitStatus,
		Output:     "simulated failure",
	}
	return r
}

func (r *scriptedRunner) Run(ctx context.Context, cmd runner.Command) (runner.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, cmd.Line)
	if err, ok := r.fail[cmd.Line]; ok {
		return runner.Result{Command: cmd, ExitStatus: 1}, err
	}
	seq := r.outputs[cmd.Line]
	out := ""
	if len(seq) > 0 {
		idx := r.served[cmd.Line]
		if idx >= len(seq) {
			idx = len(seq) - 1
		}
		out = seq[idx]
		r.served[cmd.Line]++
	}
	return runner.Result{Command: cmd, Output: out}, nil
}

func (r *scriptedRunner) count(line string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, call := range r.calls {
		if call == line {
			n++
		}
	}
	return n
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

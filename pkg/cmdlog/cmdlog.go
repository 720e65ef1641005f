// Package cmdlog keeps the audit trail of every external command issued
// during an update run. Entries fan out to a SQLite database and, optionally,
// a JSON-lines file.
package cmdlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/httprunner/fwagent/pkg/runner"
	pkgerrors "github.com/pkg/errors"
)

const (
	defaultDBDirName  = ".fwagent"
	defaultDBFileName = "commands.sqlite"
	tableName         = "command_log"
)

// Outcome classifies how a command ended.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

// Entry is one persisted command execution.
type Entry struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	Host       string    `json:"host" yaml:"host"`
	Kind       string    `json:"kind" yaml:"kind"`
	Command    string    `json:"command" yaml:"command"`
	TimeoutMS  int64     `json:"timeout_ms" yaml:"timeout_ms"`
	ExitStatus int       `json:"exit_status" yaml:"exit_status"`
	Outcome    string    `json:"outcome" yaml:"outcome"`
	Output     string    `json:"output,omitempty" yaml:"output,omitempty"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	DurationMS int64     `json:"duration_ms" yaml:"duration_ms"`
}

// Config selects the enabled sinks.
type Config struct {
	// DBPath defaults to ~/.fwagent/commands.sqlite.
	DBPath    string
	JSONLPath string
	RunID     string
	Host      string
}

// Sink defines the contract for each storage implementation.
type Sink interface {
	Write(ctx context.Context, entry Entry) error
	Close() error
	Name() string
}

// Manager fans entries out to every sink. It satisfies runner.Recorder.
type Manager struct {
	sinks []Sink
	runID string
	host  string
	name  string
}

// NewManager opens the configured sinks.
func NewManager(cfg Config) (*Manager, error) {
	dbPath, err := ResolveDatabasePath(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	sinks := make([]Sink, 0, 2)
	sqliteSink, err := newSQLiteWriter(dbPath)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, sqliteSink)
	if strings.TrimSpace(cfg.JSONLPath) != "" {
		jsonl, err := newJSONLWriter(cfg.JSONLPath)
		if err != nil {
			sqliteSink.Close()
			return nil, err
		}
		sinks = append(sinks, jsonl)
	}
	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = HostID()
	}
	return &Manager{sinks: sinks, runID: cfg.RunID, host: host, name: strings.Join(names, ",")}, nil
}

// Record converts an execution into an Entry and writes it to every sink.
func (m *Manager) Record(ctx context.Context, result runner.Result, runErr error) error {
	return m.Write(ctx, m.entry(result, runErr))
}

func (m *Manager) entry(result runner.Result, runErr error) Entry {
	e := Entry{
		RunID:      m.runID,
		Host:       m.host,
		Kind:       result.Command.Kind,
		Command:    result.Command.Line,
		TimeoutMS:  result.Command.Timeout.Milliseconds(),
		ExitStatus: result.ExitStatus,
		Outcome:    OutcomeOK,
		Output:     result.Output,
		StartedAt:  result.StartedAt.UTC(),
		DurationMS: result.Duration.Milliseconds(),
	}
	if runErr == nil {
		return e
	}
	e.Error = runErr.Error()
	var timeout *runner.TimeoutError
	var failure *runner.CommandFailure
	switch {
	case errors.As(runErr, &timeout):
		e.Outcome = OutcomeTimeout
	case errors.As(runErr, &failure):
		e.Outcome = OutcomeFailed
	default:
		e.Outcome = OutcomeError
	}
	return e
}

// Write stores entry in every sink, collecting all failures.
func (m *Manager) Write(ctx context.Context, entry Entry) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Write(ctx, entry); err != nil {
			errs = append(errs, pkgerrors.Wrap(err, fmt.Sprintf("%s write failed", sink.Name())))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) Close() error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, pkgerrors.Wrap(err, fmt.Sprintf("%s close failed", sink.Name())))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) Name() string {
	if m == nil || m.name == "" {
		return "cmdlog"
	}
	return m.name
}

// ResolveDatabasePath returns custom when set, otherwise the default
// location under the user's home. The parent directory is created.
func ResolveDatabasePath(custom string) (string, error) {
	if custom = strings.TrimSpace(custom); custom != "" {
		if err := ensureDir(filepath.Dir(custom)); err != nil {
			return "", err
		}
		return custom, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", pkgerrors.Wrap(err, "cmdlog: locate user home failed")
	}
	dir := filepath.Join(home, defaultDBDirName)
	if err := ensureDir(dir); err != nil {
		return "", err
	}
	return filepath.Join(dir, defaultDBFileName), nil
}

func ensureDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return pkgerrors.Wrapf(err, "cmdlog: create dir %s failed", dir)
	}
	return nil
}

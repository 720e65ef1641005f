package cmdlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

var entryColumns = []string{
	"run_id",
	"host",
	"kind",
	"command",
	"timeout_ms",
	"exit_status",
	"outcome",
	"output",
	"error",
	"started_at",
	"duration_ms",
}

type sqliteWriter struct {
	db   *sql.DB
	stmt *sql.Stmt
	path string
}

func newSQLiteWriter(dbPath string) (*sqliteWriter, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "cmdlog: open sqlite database failed")
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	stmt, err := db.Prepare(buildInsertStatement())
	if err != nil {
		db.Close()
		return nil, pkgerrors.Wrap(err, "cmdlog: prepare sqlite insert failed")
	}
	return &sqliteWriter{db: db, stmt: stmt, path: dbPath}, nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=10000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return pkgerrors.Wrapf(err, "cmdlog: execute %s failed", pragma)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

func prepareSchema(db *sql.DB) error {
	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			host TEXT NOT NULL,
			kind TEXT,
			command TEXT NOT NULL,
			timeout_ms INTEGER,
			exit_status INTEGER,
			outcome TEXT NOT NULL,
			output TEXT,
			error TEXT,
			started_at TEXT NOT NULL,
			duration_ms INTEGER
		);`, quoteIdent(tableName))
	if _, err := db.Exec(createTable); err != nil {
		return pkgerrors.Wrap(err, "cmdlog: create table failed")
	}
	createIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (run_id, id);`,
		quoteIdent(tableName+"_run_idx"), quoteIdent(tableName))
	if _, err := db.Exec(createIndex); err != nil {
		return pkgerrors.Wrap(err, "cmdlog: create index failed")
	}
	return nil
}

func buildInsertStatement() string {
	quoted := make([]string, len(entryColumns))
	placeholders := make([]string, len(entryColumns))
	for i, col := range entryColumns {
		quoted[i] = quoteIdent(col)
		placeholders[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(tableName), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *sqliteWriter) Write(ctx context.Context, entry Entry) error {
	if s == nil || s.db == nil || s.stmt == nil {
		return pkgerrors.New("cmdlog: sqlite storage nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := s.stmt.ExecContext(ctx,
		entry.RunID,
		entry.Host,
		entry.Kind,
		entry.Command,
		entry.TimeoutMS,
		entry.ExitStatus,
		entry.Outcome,
		entry.Output,
		entry.Error,
		entry.StartedAt.UTC().Format(time.RFC3339Nano),
		entry.DurationMS,
	)
	if err != nil {
		return pkgerrors.Wrap(err, "cmdlog: sqlite insert failed")
	}
	return nil
}

func (s *sqliteWriter) Close() error {
	if s == nil {
		return nil
	}
	if s.stmt != nil {
		s.stmt.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *sqliteWriter) Name() string {
	if s == nil || s.path == "" {
		return "sqlite"
	}
	return s.path
}

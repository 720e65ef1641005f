package cmdlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// Query filters history reads. Limit <= 0 returns every matching entry.
type Query struct {
	RunID string
	Limit int
}

// Reader reads entries back from the SQLite command log.
type Reader struct {
	db *sql.DB
}

// OpenReader opens the command log at dbPath (default location when empty).
func OpenReader(dbPath string) (*Reader, error) {
	path, err := ResolveDatabasePath(dbPath)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "cmdlog: open sqlite reader failed")
	}
	if _, err := db.Exec("PRAGMA busy_timeout=10000;"); err != nil {
		db.Close()
		return nil, pkgerrors.Wrap(err, "cmdlog: configure sqlite reader failed")
	}
	if err := prepareSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// LatestRunID returns the run id of the most recent entry, or "" if the log is empty.
func (r *Reader) LatestRunID(ctx context.Context) (string, error) {
	query := fmt.Sprintf("SELECT run_id FROM %s ORDER BY id DESC LIMIT 1", quoteIdent(tableName))
	var runID string
	err := r.db.QueryRowContext(ctx, query).Scan(&runID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", pkgerrors.Wrap(err, "cmdlog: query latest run failed")
	}
	return runID, nil
}

// History returns matching entries oldest first. With a limit, the newest
// Limit entries are kept.
func (r *Reader) History(ctx context.Context, q Query) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if runID := strings.TrimSpace(q.RunID); runID != "" {
		where = append(where, "run_id = ?")
		args = append(args, runID)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(entryColumns, ", "), quoteIdent(tableName))
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "cmdlog: query history failed")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			kind       sql.NullString
			output     sql.NullString
			errText    sql.NullString
			startedAt  string
			timeoutMS  sql.NullInt64
			durationMS sql.NullInt64
		)
		if err := rows.Scan(&e.RunID, &e.Host, &kind, &e.Command, &timeoutMS, &e.ExitStatus,
			&e.Outcome, &output, &errText, &startedAt, &durationMS); err != nil {
			return nil, pkgerrors.Wrap(err, "cmdlog: scan history row failed")
		}
		e.Kind = kind.String
		e.Output = output.String
		e.Error = errText.String
		e.TimeoutMS = timeoutMS.Int64
		e.DurationMS = durationMS.Int64
		if ts, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			e.StartedAt = ts
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "cmdlog: iterate history failed")
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Package history keeps an append-only journal of unit runs in SQLite. The
// journal is diagnostic: the archive snapshot remains the source of truth for
// what is completed.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/dreamworks2050/dvd-archiver/internal/ledger"
)

// Outcome is the terminal status of one unit run.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeFailed    Outcome = "failed"
)

// Run is one journal row.
type Run struct {
	ID             int64
	SessionID      string
	Identifier     string
	Title          string
	Pipeline       string
	Outcome        Outcome
	Detail         string
	RecoveredBytes int64
	Steps          []ledger.Step
	StartedAt      time.Time
	FinishedAt     time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    identifier TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    pipeline TEXT NOT NULL,
    outcome TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    recovered_bytes INTEGER NOT NULL DEFAULT 0,
    steps_json TEXT NOT NULL DEFAULT '[]',
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_identifier ON runs(identifier);
`

// Store manages journal persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the journal database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// NewSessionID returns a fresh id correlating one engine run across the
// journal and the logs.
func NewSessionID() string {
	return uuid.NewString()
}

// Append records one finished run.
func (s *Store) Append(ctx context.Context, run Run) (int64, error) {
	if strings.TrimSpace(run.Identifier) == "" {
		return 0, errors.New("run identifier required")
	}
	if run.SessionID == "" {
		run.SessionID = NewSessionID()
	}

	stepsJSON, err := json.Marshal(run.Steps)
	if err != nil {
		return 0, fmt.Errorf("marshal steps: %w", err)
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs (
            session_id, identifier, title, pipeline, outcome, detail,
            recovered_bytes, steps_json, started_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.SessionID,
		run.Identifier,
		run.Title,
		run.Pipeline,
		string(run.Outcome),
		run.Detail,
		run.RecoveredBytes,
		string(stepsJSON),
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, session_id, identifier, title, pipeline, outcome, detail,
                recovered_bytes, steps_json, started_at, finished_at
         FROM runs ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ForIdentifier returns every recorded run for one unit, newest first.
func (s *Store) ForIdentifier(ctx context.Context, identifier string) ([]Run, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, session_id, identifier, title, pipeline, outcome, detail,
                recovered_bytes, steps_json, started_at, finished_at
         FROM runs WHERE identifier = ? ORDER BY id DESC`,
		identifier,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs for %s: %w", identifier, err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(rows *sql.Rows) (Run, error) {
	var run Run
	var outcome, stepsJSON, startedAt, finishedAt string
	if err := rows.Scan(
		&run.ID,
		&run.SessionID,
		&run.Identifier,
		&run.Title,
		&run.Pipeline,
		&outcome,
		&run.Detail,
		&run.RecoveredBytes,
		&stepsJSON,
		&startedAt,
		&finishedAt,
	); err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.Outcome = Outcome(outcome)
	if err := json.Unmarshal([]byte(stepsJSON), &run.Steps); err != nil {
		return Run{}, fmt.Errorf("decode steps: %w", err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		run.StartedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, finishedAt); err == nil {
		run.FinishedAt = ts
	}
	return run, nil
}

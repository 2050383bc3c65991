// Package journal records harvest runs and per-source outcomes in SQLite.
// It is an audit trail only; resumption is derived from the dataset file.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pevans/finharvest/dataset"
)

// Run statuses.
const (
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusInterrupted = "interrupted"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// Journal stores run history using SQLite.
type Journal struct {
	db *sql.DB
}

// Run is one invocation of the harvester.
type Run struct {
	RunID      uuid.UUID
	StartDate  time.Time
	EndDate    time.Time
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
	Error      *string
}

// Outcome is the result of one source on one date.
type Outcome struct {
	Source  string
	Kind    string
	URL     string
	Records int
	Loads   int
	Error   string
}

// Entry is a recorded outcome.
type Entry struct {
	RunID      uuid.UUID
	Date       time.Time
	RecordedAt time.Time
	Outcome
}

// Open opens the journal at path, creating the file and schema if needed.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer keeps SQLite from reporting "database is locked"
	db.SetMaxOpenConns(1)

	j := &Journal{db: db}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return j, nil
}

// initSchema creates the journal tables if they don't exist.
func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		status TEXT NOT NULL,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS source_outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(run_id),
		date TEXT NOT NULL,
		source TEXT NOT NULL,
		kind TEXT NOT NULL,
		url TEXT NOT NULL,
		records INTEGER NOT NULL DEFAULT 0,
		loads INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_source_outcomes_failed
		ON source_outcomes(id) WHERE error IS NOT NULL;
	`

	_, err := j.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// StartRun records a new running run covering start..end and returns its
// ID.
func (j *Journal) StartRun(start, end time.Time) (uuid.UUID, error) {
	runID := uuid.New()
	now := time.Now()

	_, err := j.db.Exec(`
		INSERT INTO runs (run_id, start_date, end_date, started_at, status)
		VALUES (?, ?, ?, ?, ?)
	`,
		runID.String(),
		dataset.FormatDate(start),
		dataset.FormatDate(end),
		formatTime(&now),
		StatusRunning,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert run: %w", err)
	}

	return runID, nil
}

// RecordOutcomes stores the outcomes of every source for date in one
// transaction.
func (j *Journal) RecordOutcomes(runID uuid.UUID, date time.Time, outcomes []Outcome) error {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO source_outcomes (
			run_id, date, source, kind, url, records, loads, error, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, o := range outcomes {
		_, err := stmt.Exec(
			runID.String(),
			dataset.FormatDate(date),
			o.Source,
			o.Kind,
			o.URL,
			o.Records,
			o.Loads,
			nullString(o.Error),
			formatTime(&now),
		)
		if err != nil {
			return fmt.Errorf("failed to insert outcome for %s: %w", o.Source, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit outcomes: %w", err)
	}
	return nil
}

// FinishRun marks a run as finished with the given status. runErr may be
// nil.
func (j *Journal) FinishRun(runID uuid.UUID, status string, runErr error) error {
	now := time.Now()
	var errText any
	if runErr != nil {
		errText = runErr.Error()
	}

	result, err := j.db.Exec(`
		UPDATE runs SET finished_at = ?, status = ?, error = ?
		WHERE run_id = ?
	`, formatTime(&now), status, errText, runID.String())
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun retrieves a run by ID.
func (j *Journal) GetRun(runID uuid.UUID) (*Run, error) {
	var runIDStr, startDate, endDate, startedAt, status string
	var finishedAt, runErr sql.NullString

	err := j.db.QueryRow(`
		SELECT run_id, start_date, end_date, started_at, finished_at, status, error
		FROM runs
		WHERE run_id = ?
	`, runID.String()).Scan(&runIDStr, &startDate, &endDate, &startedAt, &finishedAt, &status, &runErr)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	run := &Run{
		RunID:     runID,
		StartedAt: parseTime(startedAt),
		Status:    status,
	}
	if run.StartDate, err = dataset.ParseDate(startDate); err != nil {
		return nil, fmt.Errorf("failed to parse start_date: %w", err)
	}
	if run.EndDate, err = dataset.ParseDate(endDate); err != nil {
		return nil, fmt.Errorf("failed to parse end_date: %w", err)
	}
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		run.FinishedAt = &t
	}
	if runErr.Valid {
		run.Error = &runErr.String
	}

	return run, nil
}

// Outcomes returns every outcome recorded for a run, in insertion order.
func (j *Journal) Outcomes(runID uuid.UUID) ([]Entry, error) {
	return j.queryOutcomes(`
		SELECT run_id, date, source, kind, url, records, loads, error, recorded_at
		FROM source_outcomes
		WHERE run_id = ?
		ORDER BY id
	`, runID.String())
}

// Failures returns the most recent failed outcomes across all runs, newest
// first. A non-positive limit returns all of them.
func (j *Journal) Failures(limit int) ([]Entry, error) {
	query := `
		SELECT run_id, date, source, kind, url, records, loads, error, recorded_at
		FROM source_outcomes
		WHERE error IS NOT NULL
		ORDER BY id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return j.queryOutcomes(query, args...)
}

func (j *Journal) queryOutcomes(query string, args ...any) ([]Entry, error) {
	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var runIDStr, date, recordedAt string
		var f Entry
		var errText sql.NullString
		if err := rows.Scan(
			&runIDStr, &date, &f.Source, &f.Kind, &f.URL,
			&f.Records, &f.Loads, &errText, &recordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}

		if f.RunID, err = uuid.Parse(runIDStr); err != nil {
			return nil, fmt.Errorf("invalid run_id: %w", err)
		}
		if f.Date, err = dataset.ParseDate(date); err != nil {
			return nil, fmt.Errorf("failed to parse date: %w", err)
		}
		f.Error = errText.String
		f.RecordedAt = parseTime(recordedAt)
		entries = append(entries, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outcomes: %w", err)
	}

	return entries, nil
}

// Helper functions for time formatting
func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	// Strip monotonic clock for consistent storage and comparisons
	return t.Truncate(0).Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t.Truncate(0)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

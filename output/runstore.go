package output

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pevans/plugcrawl"
)

// Custom errors for run store operations
var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunFinished = errors.New("run already finished")
)

// RunStore records extraction runs and their records in SQLite.
type RunStore struct {
	db *sql.DB
}

// Run describes one invocation of the manager.
type Run struct {
	RunID      uuid.UUID  `json:"run_id"`
	Scenarios  []string   `json:"scenarios"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Records    int        `json:"records"`
	Errors     int        `json:"errors"`
}

// IsFinished returns true once FinishRun has been called.
func (r Run) IsFinished() bool {
	return r.FinishedAt != nil
}

// StoredRecord is a record persisted for a run.
type StoredRecord struct {
	RecordID  uuid.UUID        `json:"record_id"`
	RunID     uuid.UUID        `json:"run_id"`
	URL       string           `json:"url"`
	CreatedAt time.Time        `json:"created_at"`
	Payload   plugcrawl.Record `json:"payload"`
}

// NewRunStore opens (or creates) the database at dbPath.
func NewRunStore(dbPath string) (*RunStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Callbacks write from several workers; sqlite serializes writers anyway.
	db.SetMaxOpenConns(1)

	store := &RunStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *RunStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		scenarios TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		records INTEGER DEFAULT 0,
		errors INTEGER DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS records (
		record_id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		created_at TEXT NOT NULL,
		payload TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS records_run_id ON records(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *RunStore) Close() error {
	return s.db.Close()
}

// CreateRun starts a new run for the named scenarios.
func (s *RunStore) CreateRun(scenarios []string) (*Run, error) {
	if scenarios == nil {
		scenarios = []string{}
	}
	run := &Run{
		RunID:     uuid.New(),
		Scenarios: scenarios,
		StartedAt: time.Now(),
	}

	names, err := json.Marshal(scenarios)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scenarios: %w", err)
	}

	_, err = s.db.Exec(
		"INSERT INTO runs (run_id, scenarios, started_at) VALUES (?, ?, ?)",
		run.RunID.String(), string(names), formatTime(&run.StartedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	run.StartedAt = run.StartedAt.Truncate(0)
	return run, nil
}

// AddRecord stores rec under runID and bumps the run's record count.
func (s *RunStore) AddRecord(runID uuid.UUID, rec plugcrawl.Record) (*StoredRecord, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	stored := &StoredRecord{
		RecordID:  uuid.New(),
		RunID:     runID,
		CreatedAt: time.Now().Truncate(0),
		Payload:   rec,
	}
	stored.URL, _ = rec["url"].(string)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.bump(tx, runID, "records"); err != nil {
		return nil, err
	}

	_, err = tx.Exec(
		"INSERT INTO records (record_id, run_id, url, created_at, payload) VALUES (?, ?, ?, ?, ?)",
		stored.RecordID.String(), runID.String(), stored.URL,
		formatTime(&stored.CreatedAt), string(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit record: %w", err)
	}
	return stored, nil
}

// AddError counts a failed URL against runID.
func (s *RunStore) AddError(runID uuid.UUID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.bump(tx, runID, "errors"); err != nil {
		return err
	}
	return tx.Commit()
}

// bump increments a counter column of an unfinished run.
func (s *RunStore) bump(tx *sql.Tx, runID uuid.UUID, column string) error {
	result, err := tx.Exec(
		fmt.Sprintf("UPDATE runs SET %[1]s = %[1]s + 1 WHERE run_id = ? AND finished_at IS NULL", column),
		runID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return s.missing(tx, runID)
	}
	return nil
}

// missing explains why an update of runID touched no row.
func (s *RunStore) missing(tx *sql.Tx, runID uuid.UUID) error {
	var finished sql.NullString
	err := tx.QueryRow("SELECT finished_at FROM runs WHERE run_id = ?", runID.String()).Scan(&finished)
	if err == sql.ErrNoRows {
		return ErrRunNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to query run: %w", err)
	}
	return ErrRunFinished
}

// FinishRun marks a run as finished.
func (s *RunStore) FinishRun(runID uuid.UUID) (*Run, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now()
	result, err := tx.Exec(
		"UPDATE runs SET finished_at = ? WHERE run_id = ? AND finished_at IS NULL",
		formatTime(&now), runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to finish run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, s.missing(tx, runID)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit run: %w", err)
	}

	return s.GetRun(runID)
}

// GetRun retrieves a run by ID.
func (s *RunStore) GetRun(runID uuid.UUID) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, scenarios, started_at, finished_at, records, errors
		FROM runs
		WHERE run_id = ?
	`, runID.String())

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns lists runs, most recent first. A limit of zero lists all of them.
func (s *RunStore) ListRuns(limit int) ([]Run, error) {
	query := `
		SELECT run_id, scenarios, started_at, finished_at, records, errors
		FROM runs
		ORDER BY started_at DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ListRecords lists the records of a run in insertion order.
func (s *RunStore) ListRecords(runID uuid.UUID) ([]StoredRecord, error) {
	if _, err := s.GetRun(runID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT record_id, run_id, url, created_at, payload
		FROM records
		WHERE run_id = ?
		ORDER BY rowid
	`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []StoredRecord
	for rows.Next() {
		var recordIDStr, runIDStr, url, createdAtStr, payload string
		if err := rows.Scan(&recordIDStr, &runIDStr, &url, &createdAtStr, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		recordID, err := uuid.Parse(recordIDStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse record ID: %w", err)
		}
		rec := StoredRecord{
			RecordID:  recordID,
			RunID:     runID,
			URL:       url,
			CreatedAt: parseTime(createdAtStr),
		}
		if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record payload: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var runIDStr, scenarios, startedAtStr string
	var finishedAtStr sql.NullString
	var records, errs int

	if err := row.Scan(&runIDStr, &scenarios, &startedAtStr, &finishedAtStr, &records, &errs); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	runID, err := uuid.Parse(runIDStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse run ID: %w", err)
	}

	run := &Run{
		RunID:     runID,
		StartedAt: parseTime(startedAtStr),
		Records:   records,
		Errors:    errs,
	}
	if finishedAtStr.Valid {
		t := parseTime(finishedAtStr.String)
		run.FinishedAt = &t
	}
	if err := json.Unmarshal([]byte(scenarios), &run.Scenarios); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scenarios: %w", err)
	}
	return run, nil
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Helper functions for time formatting
func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	// Fixed width in UTC so that text ordering matches time ordering
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t.Truncate(0)
}

package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite history store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS evaluation_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		patient_id TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		result TEXT NOT NULL,
		recoverable INTEGER NOT NULL DEFAULT 0,
		evaluation TEXT NOT NULL,
		rules_version INTEGER NOT NULL DEFAULT 0,
		evaluated_at DATETIME NOT NULL,
		UNIQUE(run_id, rule_id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_patient_rule ON evaluation_runs(patient_id, rule_id, evaluated_at);
	CREATE INDEX IF NOT EXISTS idx_runs_evaluated_at ON evaluation_runs(evaluated_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Save stores a run and fills in its ID.
func (s *SQLiteStore) Save(ctx context.Context, run *Run) error {
	if err := validateRun(run); err != nil {
		return err
	}
	evaluation, err := json.Marshal(run.Evaluation)
	if err != nil {
		return fmt.Errorf("failed to encode evaluation: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO evaluation_runs (
			run_id, patient_id, rule_id, result, recoverable,
			evaluation, rules_version, evaluated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.RunID,
		run.PatientID,
		string(run.RuleID),
		string(run.Result),
		run.Recoverable,
		string(evaluation),
		run.RulesVersion,
		run.EvaluatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	run.ID = id
	return nil
}

// Get returns the run for runID and ruleID, or nil if there is none.
func (s *SQLiteStore) Get(ctx context.Context, runID string, ruleID domain.RuleID) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM evaluation_runs
		WHERE run_id = ? AND rule_id = ?
	`, runID, string(ruleID))

	return s.one(row)
}

// Latest returns the most recent run of ruleID for the patient, or nil if there is none.
func (s *SQLiteStore) Latest(ctx context.Context, patientID string, ruleID domain.RuleID) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM evaluation_runs
		WHERE patient_id = ? AND rule_id = ?
		ORDER BY evaluated_at DESC, id DESC
		LIMIT 1
	`, patientID, string(ruleID))

	return s.one(row)
}

// ListByPatient returns the patient's runs, newest first.
func (s *SQLiteStore) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM evaluation_runs
		WHERE patient_id = ?
		ORDER BY evaluated_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	return collect(rows)
}

// List returns all runs, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM evaluation_runs
		ORDER BY evaluated_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	return collect(rows)
}

// Count returns the total number of stored runs.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM evaluation_runs").Scan(&count)
	return count, err
}

// Delete removes a run by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM evaluation_runs WHERE id = ?", id)
	return err
}

// ExportJSON exports all runs to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, s, writer)
}

// ImportJSON imports runs from a JSON reader.
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	return importJSON(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) one(row *sql.Row) (*Run, error) {
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return run, nil
}

func collect(rows *sql.Rows) ([]*Run, error) {
	defer rows.Close()

	var result []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

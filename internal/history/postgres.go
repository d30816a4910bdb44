package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL history store.
// It expects the evaluation_runs table to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL history store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Save stores a run and fills in its ID.
func (s *PostgresStore) Save(ctx context.Context, run *Run) error {
	if err := validateRun(run); err != nil {
		return err
	}
	evaluation, err := json.Marshal(run.Evaluation)
	if err != nil {
		return fmt.Errorf("failed to encode evaluation: %w", err)
	}

	query := `
		INSERT INTO evaluation_runs (
			run_id, patient_id, rule_id, result, recoverable,
			evaluation, rules_version, evaluated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	err = s.db.QueryRowContext(ctx, query,
		run.RunID,
		run.PatientID,
		string(run.RuleID),
		string(run.Result),
		run.Recoverable,
		evaluation,
		run.RulesVersion,
		run.EvaluatedAt.UTC(),
	).Scan(&run.ID)

	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// Get returns the run for runID and ruleID, or nil if there is none.
func (s *PostgresStore) Get(ctx context.Context, runID string, ruleID domain.RuleID) (*Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM evaluation_runs
		WHERE run_id = $1 AND rule_id = $2
	`
	return s.one(s.db.QueryRowContext(ctx, query, runID, string(ruleID)))
}

// Latest returns the most recent run of ruleID for the patient, or nil if there is none.
func (s *PostgresStore) Latest(ctx context.Context, patientID string, ruleID domain.RuleID) (*Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM evaluation_runs
		WHERE patient_id = $1 AND rule_id = $2
		ORDER BY evaluated_at DESC, id DESC
		LIMIT 1
	`
	return s.one(s.db.QueryRowContext(ctx, query, patientID, string(ruleID)))
}

// ListByPatient returns the patient's runs, newest first.
func (s *PostgresStore) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM evaluation_runs
		WHERE patient_id = $1
		ORDER BY evaluated_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.db.QueryContext(ctx, query, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return collect(rows)
}

// List returns all runs, newest first.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM evaluation_runs
		ORDER BY evaluated_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return collect(rows)
}

// Count returns the total number of stored runs.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM evaluation_runs").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

// Delete removes a run by ID.
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM evaluation_runs WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// ExportJSON exports all runs to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, s, writer)
}

// ImportJSON imports runs from a JSON reader.
func (s *PostgresStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	return importJSON(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) one(row *sql.Row) (*Run, error) {
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

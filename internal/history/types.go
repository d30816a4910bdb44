// Package history persists evaluation runs so past eligibility verdicts for a patient can
// be listed, compared and exported.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// Run is the stored outcome of evaluating one rule for one patient. Rules evaluated together
// share a RunID.
type Run struct {
	ID           int64                   `json:"id,omitempty"`
	RunID        string                  `json:"run_id"`
	PatientID    string                  `json:"patient_id"`
	RuleID       domain.RuleID           `json:"rule_id"`
	Result       domain.EvaluationResult `json:"result"`
	Recoverable  bool                    `json:"recoverable"`
	Evaluation   domain.Evaluation       `json:"evaluation"`
	RulesVersion int64                   `json:"rules_version,omitempty"`
	EvaluatedAt  time.Time               `json:"evaluated_at"`
}

// NewRun builds a run record from an evaluation.
func NewRun(runID, patientID string, ruleID domain.RuleID, eval domain.Evaluation, rulesVersion int64, at time.Time) *Run {
	return &Run{
		RunID:        runID,
		PatientID:    patientID,
		RuleID:       ruleID,
		Result:       eval.Result,
		Recoverable:  eval.Recoverable,
		Evaluation:   eval,
		RulesVersion: rulesVersion,
		EvaluatedAt:  at.UTC(),
	}
}

// Store defines the interface for evaluation history storage.
type Store interface {
	// Save stores a run and fills in its ID.
	Save(ctx context.Context, run *Run) error

	// Get returns the run for runID and ruleID, or nil if there is none.
	Get(ctx context.Context, runID string, ruleID domain.RuleID) (*Run, error)

	// Latest returns the most recent run of ruleID for the patient, or nil if there is none.
	Latest(ctx context.Context, patientID string, ruleID domain.RuleID) (*Run, error)

	// ListByPatient returns the patient's runs, newest first.
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Run, error)

	// List returns all runs, newest first.
	List(ctx context.Context, limit, offset int) ([]*Run, error)

	// Count returns the total number of stored runs.
	Count(ctx context.Context) (int64, error)

	// Delete removes a run by ID.
	Delete(ctx context.Context, id int64) error

	// ExportJSON exports all runs to a JSON writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON imports runs from a JSON reader, skipping runs already present.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close closes the store and releases resources.
	Close() error
}

// Export represents the JSON export format.
type Export struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
	Runs       []*Run    `json:"runs"`
}

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

func exportJSON(ctx context.Context, s Store, writer io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	export := &Export{
		Version:    "1.0",
		ExportedAt: time.Now().UTC(),
		Count:      len(all),
		Runs:       all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

func importJSON(ctx context.Context, s Store, reader io.Reader) (imported int, skipped int, err error) {
	var export Export
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, run := range export.Runs {
		existing, err := s.Get(ctx, run.RunID, run.RuleID)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}
		if existing != nil {
			skipped++
			continue
		}

		run.ID = 0
		if err := s.Save(ctx, run); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}

	return imported, skipped, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

const runColumns = `id, run_id, patient_id, rule_id, result, recoverable, evaluation, rules_version, evaluated_at`

func scanRun(s scanner) (*Run, error) {
	run := &Run{}
	var result string
	var evaluation []byte

	err := s.Scan(
		&run.ID, &run.RunID, &run.PatientID, &run.RuleID,
		&result, &run.Recoverable, &evaluation, &run.RulesVersion, &run.EvaluatedAt,
	)
	if err != nil {
		return nil, err
	}

	if run.Result, err = domain.ParseEvaluationResult(result); err != nil {
		return nil, fmt.Errorf("run %d: %w", run.ID, err)
	}
	if err := json.Unmarshal(evaluation, &run.Evaluation); err != nil {
		return nil, fmt.Errorf("failed to decode evaluation: %w", err)
	}
	run.EvaluatedAt = run.EvaluatedAt.UTC()
	return run, nil
}

func validateRun(run *Run) error {
	if run == nil {
		return domain.NewValidationError("run", "run is required", nil)
	}
	if run.RunID == "" || run.PatientID == "" || run.RuleID == "" {
		return domain.NewValidationError("run", "run_id, patient_id and rule_id are required", nil)
	}
	if !run.Result.IsValid() {
		return domain.NewValidationError("result", "invalid evaluation result", run.Result)
	}
	return nil
}

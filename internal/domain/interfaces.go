package domain

import (
	"context"
)

// EvaluationFunction answers one eligibility question for one patient. Implementations are
// pure: they never mutate the record and hold no per-call state.
type EvaluationFunction interface {
	Evaluate(record *PatientRecord) Evaluation
}

// EvaluationFunc adapts a plain function to EvaluationFunction.
type EvaluationFunc func(record *PatientRecord) Evaluation

// Evaluate calls f(record).
func (f EvaluationFunc) Evaluate(record *PatientRecord) Evaluation {
	return f(record)
}

// OutcomeDeclarer is implemented by evaluators that can state which results they are able to
// produce. The composer uses it to decide whether a NOT over the evaluator is safe.
type OutcomeDeclarer interface {
	PossibleResults() []EvaluationResult
}

// OntologyService is the read-only disease ontology lookup some evaluators need.
type OntologyService interface {
	ResolveCode(title string) (string, bool)
	AncestorsOf(code string) []string
}

// PatientRecordRepository persists curated patient records.
type PatientRecordRepository interface {
	Save(ctx context.Context, record *PatientRecord) error
	Get(ctx context.Context, patientID string) (*PatientRecord, error)
	List(ctx context.Context, limit, offset int) ([]string, error)
}


package evaluator

import (
	"fmt"
	"strings"
	"time"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// TreatmentCategory checks for any prior treatment in Category.
type TreatmentCategory struct {
	Category string
}

// Evaluate implements domain.EvaluationFunction.
func (e TreatmentCategory) Evaluate(record *domain.PatientRecord) domain.Evaluation {
	var matches []string
	for _, t := range record.Treatments {
		if t.HasCategory(e.Category) {
			matches = append(matches, t.Name)
		}
	}
	if len(matches) == 0 {
		return domain.Fail(fmt.Sprintf("No prior %s treatment", e.Category))
	}
	return domain.Pass(fmt.Sprintf("Has had %s treatment (%s)", e.Category, strings.Join(matches, ", ")))
}

// PossibleResults implements domain.OutcomeDeclarer.
func (e TreatmentCategory) PossibleResults() []domain.EvaluationResult {
	return presenceResults
}

// SystemicLines checks that the patient received at most MaxLines systemic treatment lines.
type SystemicLines struct {
	MaxLines int
}

// Evaluate implements domain.EvaluationFunction.
func (e SystemicLines) Evaluate(record *domain.PatientRecord) domain.Evaluation {
	lines := 0
	for _, t := range record.Treatments {
		if t.IsSystemic {
			lines++
		}
	}
	if lines <= e.MaxLines {
		return domain.Pass(fmt.Sprintf("Has had %d systemic treatment lines, at most %d allowed", lines, e.MaxLines))
	}
	return domain.Fail(fmt.Sprintf("Has had %d systemic treatment lines, more than %d allowed", lines, e.MaxLines))
}

// PossibleResults implements domain.OutcomeDeclarer.
func (e SystemicLines) PossibleResults() []domain.EvaluationResult {
	return presenceResults
}

// RecentSystemicTherapy checks whether a systemic treatment was given within Weeks before
// the reference date. Ongoing treatments (started, not stopped) count as recent; a systemic
// treatment without any dates leaves the answer UNDETERMINED. Treatments planned to start after
// the reference date are not counted.
type RecentSystemicTherapy struct {
	Weeks    int
	Defaults Defaults
}

// Evaluate implements domain.EvaluationFunction.
func (e RecentSystemicTherapy) Evaluate(record *domain.PatientRecord) domain.Evaluation {
	reference := e.Defaults.Reference()
	cutoff := reference.Add(-time.Duration(e.Weeks) * 7 * 24 * time.Hour)

	var undated []string
	for _, t := range record.Treatments {
		if !t.IsSystemic {
			continue
		}
		switch {
		case t.StopDate != nil && !t.StopDate.Before(cutoff):
			return domain.Pass(fmt.Sprintf("Received systemic therapy %s within %d weeks", t.Name, e.Weeks))
		case t.StopDate == nil && t.StartDate != nil && t.StartDate.After(reference):
			continue
		case t.StopDate == nil && t.StartDate != nil:
			return domain.Pass(fmt.Sprintf("Systemic therapy %s is ongoing", t.Name))
		case t.StopDate == nil:
			undated = append(undated, t.Name)
		}
	}

	if len(undated) > 0 {
		return domain.Undetermined(fmt.Sprintf("Unknown stop date for systemic therapy (%s)", strings.Join(undated, ", ")))
	}
	return domain.Fail(fmt.Sprintf("No systemic therapy within %d weeks", e.Weeks))
}

// PossibleResults implements domain.OutcomeDeclarer.
func (e RecentSystemicTherapy) PossibleResults() []domain.EvaluationResult {
	return uncertainPresence
}

package evaluator

import (
	"fmt"
	"strings"

	"github.com/trial-eligibility-mcp-server/internal/domain"
	"github.com/trial-eligibility-mcp-server/internal/selector"
)

// DefaultQuestionnaireGrade is assumed for questionnaire toxicities that carry no grade:
// a patient-reported toxicity is taken to be at least moderate.
const DefaultQuestionnaireGrade = 2

// Toxicity checks whether the patient has a relevant toxicity of at least MinGrade, optionally
// restricted to toxicities whose name contains Name.
type Toxicity struct {
	MinGrade     int
	Name         string
	IgnoreTitles []string
	Policy       selector.LowTrustPolicy
	Ontology     domain.OntologyService
}

// Evaluate implements domain.EvaluationFunction.
func (e Toxicity) Evaluate(record *domain.PatientRecord) domain.Evaluation {
	relevant := selector.ToxicityFilter{
		Ontology:     e.Ontology,
		IgnoreTitles: e.IgnoreTitles,
		Policy:       e.Policy,
	}.Apply(record)

	var trusted, lowTrust, unknownGrade []string
	for _, t := range relevant {
		if e.Name != "" && !strings.Contains(strings.ToLower(t.Name), strings.ToLower(e.Name)) {
			continue
		}
		grade, known := gradeOf(t)
		switch {
		case !known:
			unknownGrade = append(unknownGrade, t.Name)
		case grade < e.MinGrade:
			continue
		case t.Source.IsLowTrust():
			lowTrust = append(lowTrust, t.Name)
		default:
			trusted = append(trusted, t.Name)
		}
	}

	subject := "toxicity"
	if e.Name != "" {
		subject = e.Name + " toxicity"
	}

	switch {
	case len(trusted) > 0:
		return domain.Pass(fmt.Sprintf("Has %s of at least grade %d (%s)", subject, e.MinGrade, strings.Join(trusted, ", ")))
	case len(lowTrust) > 0:
		pass := domain.Pass(fmt.Sprintf("Has %s of at least grade %d (%s) recorded in EHR", subject, e.MinGrade, strings.Join(lowTrust, ", ")))
		return selector.TrustDowngrade(pass, true, e.Policy != selector.LowTrustIgnore)
	case len(unknownGrade) > 0:
		return domain.Undetermined(fmt.Sprintf("Has %s with unknown grade (%s)", subject, strings.Join(unknownGrade, ", ")))
	default:
		return domain.Fail(fmt.Sprintf("No %s of at least grade %d", subject, e.MinGrade))
	}
}

// PossibleResults implements domain.OutcomeDeclarer.
func (e Toxicity) PossibleResults() []domain.EvaluationResult {
	if e.Policy == selector.LowTrustIgnore {
		return uncertainPresence
	}
	return allResults
}

func gradeOf(t domain.Toxicity) (int, bool) {
	if t.Grade != nil {
		return *t.Grade, true
	}
	if t.Source == domain.QUESTIONNAIRE {
		return DefaultQuestionnaireGrade, true
	}
	return 0, false
}

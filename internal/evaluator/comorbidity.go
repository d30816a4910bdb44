package evaluator

import (
	"fmt"
	"strings"

	"github.com/trial-eligibility-mcp-server/internal/domain"
	"github.com/trial-eligibility-mcp-server/internal/selector"
)

// Intolerance checks for a recorded intolerance whose name contains Name.
type Intolerance struct {
	Name string
}

// Evaluate implements domain.EvaluationFunction.
func (e Intolerance) Evaluate(record *domain.PatientRecord) domain.Evaluation {
	for _, i := range record.Intolerances {
		if containsFold(i.Name, e.Name) {
			return domain.Pass(fmt.Sprintf("Has intolerance %s", i.Name))
		}
	}
	return domain.Fail(fmt.Sprintf("No intolerance matching %s", e.Name))
}

// PossibleResults implements domain.OutcomeDeclarer.
func (e Intolerance) PossibleResults() []domain.EvaluationResult {
	return presenceResults
}

// Complication checks for a recorded complication whose name contains Name; an empty Name
// matches any complication. An unknown complication status is UNDETERMINED.
type Complication struct {
	Name string
}

// Evaluate implements domain.EvaluationFunction.
func (e Complication) Evaluate(record *domain.PatientRecord) domain.Evaluation {
	if record.Complications == nil {
		return domain.Undetermined("Complication status unknown")
	}
	for _, c := range record.Complications {
		if e.Name == "" || containsFold(c.Name, e.Name) {
			return domain.Pass(fmt.Sprintf("Has complication %s", c.Name))
		}
	}
	if e.Name == "" {
		return domain.Fail("No complications recorded")
	}
	return domain.Fail(fmt.Sprintf("No complication matching %s", e.Name))
}

// PossibleResults implements domain.OutcomeDeclarer.
func (e Complication) PossibleResults() []domain.EvaluationResult {
	return uncertainPresence
}

// ConditionHistory checks whether any prior condition, complication or toxicity is coded
// under the ontology term Title.
type ConditionHistory struct {
	Title    string
	Ontology domain.OntologyService
}

// Evaluate implements domain.EvaluationFunction.
func (e ConditionHistory) Evaluate(record *domain.PatientRecord) domain.Evaluation {
	if e.Ontology == nil {
		return domain.Undetermined(fmt.Sprintf("Cannot resolve %s: no ontology available", e.Title))
	}
	code, ok := e.Ontology.ResolveCode(e.Title)
	if !ok {
		return domain.Undetermined(fmt.Sprintf("Unknown ontology term %s", e.Title))
	}
	target := map[string]struct{}{code: {}}

	type coded struct {
		name  string
		codes []string
	}
	var candidates []coded
	for _, c := range record.OtherConditions {
		candidates = append(candidates, coded{c.Name, c.Codes})
	}
	for _, c := range record.Complications {
		candidates = append(candidates, coded{c.Name, c.Codes})
	}
	for _, t := range record.Toxicities {
		candidates = append(candidates, coded{t.Name, t.Codes})
	}

	for _, c := range candidates {
		for _, cc := range c.codes {
			if selector.IsCodeUnder(e.Ontology, cc, target) {
				return domain.Pass(fmt.Sprintf("Has history of %s (%s)", e.Title, c.name))
			}
		}
	}
	return domain.Fail(fmt.Sprintf("No history of %s", e.Title))
}

// PossibleResults implements domain.OutcomeDeclarer.
func (e ConditionHistory) PossibleResults() []domain.EvaluationResult {
	return uncertainPresence
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

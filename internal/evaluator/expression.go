package evaluator

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// expressionCostLimit bounds the work a single expression may do.
const expressionCostLimit = 100000

// Expression is a criterion written as a boolean CEL expression over the `patient` facts:
//
//	age, gender, who_status, systemic_lines, toxicity_count
//
// Facts the record does not carry are absent from the map; an expression touching one
// evaluates to UNDETERMINED.
type Expression struct {
	Source      string
	PassMessage string
	FailMessage string
	Defaults    Defaults

	program cel.Program
}

// NewExpression compiles source. Compilation problems are rule definition errors.
func NewExpression(source, passMessage, failMessage string, defaults Defaults) (*Expression, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("%w: empty expression", domain.ErrInvalidRuleDefinition)
	}

	env, err := cel.NewEnv(cel.Variable("patient", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, fmt.Errorf("creating expression environment: %w", err)
	}

	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: compile error: %v", domain.ErrInvalidRuleDefinition, issues.Err())
	}
	switch ast.OutputType().String() {
	case "bool", "dyn":
	default:
		return nil, fmt.Errorf("%w: expression must be boolean, got %s", domain.ErrInvalidRuleDefinition, ast.OutputType())
	}

	prog, err := env.Program(ast, cel.CostLimit(expressionCostLimit))
	if err != nil {
		return nil, fmt.Errorf("%w: program creation error: %v", domain.ErrInvalidRuleDefinition, err)
	}

	if passMessage == "" {
		passMessage = "Expression holds: " + source
	}
	if failMessage == "" {
		failMessage = "Expression does not hold: " + source
	}
	return &Expression{
		Source:      source,
		PassMessage: passMessage,
		FailMessage: failMessage,
		Defaults:    defaults,
		program:     prog,
	}, nil
}

// Evaluate implements domain.EvaluationFunction.
func (e *Expression) Evaluate(record *domain.PatientRecord) domain.Evaluation {
	out, _, err := e.program.Eval(map[string]any{"patient": e.facts(record)})
	if err != nil {
		return domain.Undetermined(fmt.Sprintf("Insufficient data to evaluate %s: %v", e.Source, err))
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return domain.Undetermined(fmt.Sprintf("Expression %s did not produce a boolean", e.Source))
	}
	if matched {
		return domain.Pass(e.PassMessage)
	}
	return domain.Fail(e.FailMessage)
}

// PossibleResults implements domain.OutcomeDeclarer.
func (e *Expression) PossibleResults() []domain.EvaluationResult {
	return uncertainPresence
}

func (e *Expression) facts(record *domain.PatientRecord) map[string]any {
	facts := map[string]any{}
	if record.BirthYear > 0 {
		facts["age"] = int64(e.Defaults.Reference().Year() - record.BirthYear)
	}
	if record.Gender != "" {
		facts["gender"] = strings.ToLower(record.Gender)
	}
	if record.WHOStatus != nil {
		facts["who_status"] = int64(*record.WHOStatus)
	}
	if record.Treatments != nil {
		lines := int64(0)
		for _, t := range record.Treatments {
			if t.IsSystemic {
				lines++
			}
		}
		facts["systemic_lines"] = lines
	}
	if record.Toxicities != nil {
		facts["toxicity_count"] = int64(len(record.Toxicities))
	}
	return facts
}

// Package domain contains the core entities for clinical trial eligibility evaluation:
// the four-valued evaluation outcome, the patient record read model and the rule identifiers
// the composer resolves.
//
// Everything in this package is a value type. Evaluations are created fresh per call and are
// never mutated after construction, so one PatientRecord snapshot can be evaluated against many
// criteria concurrently.
package domain

import (
	"fmt"
)

// EvaluationResult is the graded verdict of a single criterion.
type EvaluationResult string

const (
	PASS         EvaluationResult = "PASS"
	WARN         EvaluationResult = "WARN"
	UNDETERMINED EvaluationResult = "UNDETERMINED"
	FAIL         EvaluationResult = "FAIL"
)

// AllResults lists every result from least to most restrictive.
var AllResults = []EvaluationResult{PASS, UNDETERMINED, WARN, FAIL}

// IsValid reports whether the result is one of the four known verdicts.
func (r EvaluationResult) IsValid() bool {
	switch r {
	case PASS, WARN, UNDETERMINED, FAIL:
		return true
	default:
		return false
	}
}

// String returns the string representation of the result.
func (r EvaluationResult) String() string {
	return string(r)
}

// restrictiveness ranks results for AND composition: FAIL dominates WARN, which dominates
// UNDETERMINED, which dominates PASS.
func (r EvaluationResult) restrictiveness() int {
	switch r {
	case FAIL:
		return 3
	case WARN:
		return 2
	case UNDETERMINED:
		return 1
	case PASS:
		return 0
	default:
		panic(fmt.Sprintf("unknown evaluation result %q", string(r)))
	}
}

// IsWorseThan reports whether r is strictly more restrictive than other.
func (r EvaluationResult) IsWorseThan(other EvaluationResult) bool {
	return r.restrictiveness() > other.restrictiveness()
}

// permissiveness ranks results for OR composition. PASS beats WARN, WARN beats UNDETERMINED,
// and FAIL only wins when every input failed.
func (r EvaluationResult) permissiveness() int {
	switch r {
	case PASS:
		return 3
	case WARN:
		return 2
	case UNDETERMINED:
		return 1
	case FAIL:
		return 0
	default:
		panic(fmt.Sprintf("unknown evaluation result %q", string(r)))
	}
}

// IsBetterThan reports whether r is strictly more permissive than other.
func (r EvaluationResult) IsBetterThan(other EvaluationResult) bool {
	return r.permissiveness() > other.permissiveness()
}

// WorstOf returns the most restrictive of the given results (AND semantics).
// It panics when called without results; combinators guarantee at least one input.
func WorstOf(results ...EvaluationResult) EvaluationResult {
	if len(results) == 0 {
		panic("WorstOf requires at least one result")
	}
	worst := results[0]
	for _, r := range results[1:] {
		if r.IsWorseThan(worst) {
			worst = r
		}
	}
	return worst
}

// BestOf returns the most permissive of the given results (OR semantics).
// It panics when called without results; combinators guarantee at least one input.
func BestOf(results ...EvaluationResult) EvaluationResult {
	if len(results) == 0 {
		panic("BestOf requires at least one result")
	}
	best := results[0]
	for _, r := range results[1:] {
		if r.IsBetterThan(best) {
			best = r
		}
	}
	return best
}

// ParseEvaluationResult converts a string into an EvaluationResult.
func ParseEvaluationResult(s string) (EvaluationResult, error) {
	r := EvaluationResult(s)
	if !r.IsValid() {
		return "", fmt.Errorf("parsing evaluation result: %w", ErrInvalidEvaluationResult)
	}
	return r, nil
}

// RuleID identifies an eligibility rule, atomic or composite.
type RuleID string

// String returns the string representation of the rule id.
func (id RuleID) String() string {
	return string(id)
}

// Combinator is the logical operator of a composite rule.
type Combinator string

const (
	AND     Combinator = "AND"
	OR      Combinator = "OR"
	NOT     Combinator = "NOT"
	WARN_IF Combinator = "WARN_IF"
)

// IsValid reports whether the combinator is supported.
func (c Combinator) IsValid() bool {
	switch c {
	case AND, OR, NOT, WARN_IF:
		return true
	default:
		return false
	}
}

// IsUnary reports whether the combinator takes exactly one input.
func (c Combinator) IsUnary() bool {
	return c == NOT || c == WARN_IF
}

// ThresholdDirection tells whether a numeric threshold is a lower or an upper bound.
type ThresholdDirection string

const (
	MINIMUM ThresholdDirection = "MIN"
	MAXIMUM ThresholdDirection = "MAX"
)

// IsValid reports whether the direction is supported.
func (d ThresholdDirection) IsValid() bool {
	return d == MINIMUM || d == MAXIMUM
}

package composer

import (
	"fmt"
	"sort"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// Registry maps atomic rule ids to their evaluators.
type Registry map[domain.RuleID]domain.EvaluationFunction

// Composer evaluates atomic and composite rules against a patient record. It is immutable
// and safe for concurrent use.
type Composer struct {
	table    *Table
	registry Registry
	outcomes map[domain.RuleID]resultSet
}

// New checks that table and registry form a complete rule graph: every referenced id
// resolves, no id is both atomic and composite, and every NOT over an input that can produce
// WARN or UNDETERMINED is marked invertible.
func New(table *Table, registry Registry) (*Composer, error) {
	if table == nil {
		table = &Table{rules: map[domain.RuleID]CompositeRule{}}
	}
	reg := make(Registry, len(registry))
	for id, eval := range registry {
		if eval == nil {
			return nil, fmt.Errorf("%w: %s has no evaluator", domain.ErrInvalidRuleDefinition, id)
		}
		if _, composite := table.rules[id]; composite {
			return nil, fmt.Errorf("%w: %s is defined both as criterion and as composite", domain.ErrInvalidRuleDefinition, id)
		}
		reg[id] = eval
	}

	c := &Composer{table: table, registry: reg, outcomes: make(map[domain.RuleID]resultSet)}

	for _, id := range table.ids {
		for _, in := range table.rules[id].Inputs {
			if !c.Has(in) {
				return nil, fmt.Errorf("%w: %s referenced by %s", domain.ErrUnknownRule, in, id)
			}
		}
	}

	for _, id := range table.ids {
		rule := table.rules[id]
		if rule.Combinator != domain.NOT || rule.Invertible {
			continue
		}
		in := rule.Inputs[0]
		possible := c.possible(in)
		if possible.has(domain.WARN) || possible.has(domain.UNDETERMINED) {
			return nil, fmt.Errorf("%w: %s negates %s which may be %s", domain.ErrNonInvertibleNot, id, in, possible)
		}
	}

	// Fill the outcome cache completely so it is read-only once the composer is shared.
	for id := range reg {
		c.possible(id)
	}
	for _, id := range table.ids {
		c.possible(id)
	}
	return c, nil
}

// Has reports whether id names an atomic or composite rule.
func (c *Composer) Has(id domain.RuleID) bool {
	if _, ok := c.registry[id]; ok {
		return true
	}
	_, ok := c.table.rules[id]
	return ok
}

// IsComposite reports whether id names a composite rule.
func (c *Composer) IsComposite(id domain.RuleID) bool {
	_, ok := c.table.rules[id]
	return ok
}

// Table returns the composite rule table.
func (c *Composer) Table() *Table {
	return c.table
}

// AtomicIDs returns the atomic rule ids in sorted order.
func (c *Composer) AtomicIDs() []domain.RuleID {
	ids := make([]domain.RuleID, 0, len(c.registry))
	for id := range c.registry {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// PossibleResults returns the results rule id can produce.
func (c *Composer) PossibleResults(id domain.RuleID) ([]domain.EvaluationResult, error) {
	set, ok := c.outcomes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownRule, id)
	}
	return set.list(), nil
}

// Evaluate evaluates rule id for the record. An unknown id, a cycle, or a panicking evaluator
// is an error; insufficient clinical data is never an error.
func (c *Composer) Evaluate(record *domain.PatientRecord, id domain.RuleID) (domain.Evaluation, error) {
	if record == nil {
		return domain.Evaluation{}, domain.NewValidationError("record", "patient record is required", nil)
	}
	return c.evaluate(record, id, nil)
}

func (c *Composer) evaluate(record *domain.PatientRecord, id domain.RuleID, stack []domain.RuleID) (domain.Evaluation, error) {
	for _, seen := range stack {
		if seen == id {
			return domain.Evaluation{}, fmt.Errorf("%w: %s", domain.ErrRuleCycle, formatPath(append(stack, id)))
		}
	}

	if eval, ok := c.registry[id]; ok {
		return c.evaluateAtomic(record, id, eval)
	}

	rule, ok := c.table.rules[id]
	if !ok {
		return domain.Evaluation{}, fmt.Errorf("%w: %s", domain.ErrUnknownRule, id)
	}

	stack = append(stack, id)
	inputs := make([]domain.Evaluation, 0, len(rule.Inputs))
	for _, in := range rule.Inputs {
		e, err := c.evaluate(record, in, stack)
		if err != nil {
			return domain.Evaluation{}, err
		}
		inputs = append(inputs, e)
	}

	var out domain.Evaluation
	switch rule.Combinator {
	case domain.AND:
		out = CombineAnd(inputs...)
	case domain.OR:
		out = CombineOr(inputs...)
	case domain.NOT:
		out = Negate(inputs[0])
	case domain.WARN_IF:
		out = WarnIf(inputs[0])
	default:
		return domain.Evaluation{}, fmt.Errorf("%w: %s: unknown combinator %q", domain.ErrInvalidRuleDefinition, id, rule.Combinator)
	}

	if !out.IsConsistent() {
		msg := domain.Message{Text: fmt.Sprintf("%s evaluated to %s", id, out.Result), Origin: id}
		switch out.Result {
		case domain.WARN:
			out.WarnMessages = append(out.WarnMessages, msg)
		case domain.UNDETERMINED:
			out.UndeterminedMessages = append(out.UndeterminedMessages, msg)
		case domain.FAIL:
			out.FailMessages = append(out.FailMessages, msg)
		}
	}
	return out, nil
}

func (c *Composer) evaluateAtomic(record *domain.PatientRecord, id domain.RuleID, eval domain.EvaluationFunction) (out domain.Evaluation, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = domain.Evaluation{}
			err = fmt.Errorf("%w: %s: %v", domain.ErrEvaluatorFault, id, r)
		}
	}()

	result := eval.Evaluate(record)
	if !result.Result.IsValid() {
		return domain.Evaluation{}, fmt.Errorf("%w: %s returned result %q", domain.ErrEvaluatorFault, id, result.Result)
	}
	return result.WithOrigin(id), nil
}

func (c *Composer) possible(id domain.RuleID) resultSet {
	if set, ok := c.outcomes[id]; ok {
		return set
	}

	var set resultSet
	if eval, ok := c.registry[id]; ok {
		if declarer, ok := eval.(domain.OutcomeDeclarer); ok {
			set = newResultSet(declarer.PossibleResults()...)
		} else {
			set = newResultSet(domain.AllResults...)
		}
	} else if rule, ok := c.table.rules[id]; ok {
		var inputs resultSet
		for _, in := range rule.Inputs {
			inputs |= c.possible(in)
		}
		switch rule.Combinator {
		case domain.AND, domain.OR:
			set = inputs
		case domain.NOT:
			set = inputs &^ newResultSet(domain.PASS, domain.FAIL)
			if inputs.has(domain.PASS) {
				set |= newResultSet(domain.FAIL)
			}
			if inputs.has(domain.FAIL) {
				set |= newResultSet(domain.PASS)
			}
		case domain.WARN_IF:
			if inputs.has(domain.PASS) || inputs.has(domain.WARN) {
				set |= newResultSet(domain.WARN)
			}
			if inputs.has(domain.FAIL) || inputs.has(domain.UNDETERMINED) {
				set |= newResultSet(domain.PASS)
			}
		}
	}

	c.outcomes[id] = set
	return set
}

// resultSet is a bit set of evaluation results.
type resultSet uint8

func resultBit(r domain.EvaluationResult) resultSet {
	switch r {
	case domain.PASS:
		return 1
	case domain.UNDETERMINED:
		return 2
	case domain.WARN:
		return 4
	case domain.FAIL:
		return 8
	default:
		return 0
	}
}

func newResultSet(results ...domain.EvaluationResult) resultSet {
	var s resultSet
	for _, r := range results {
		s |= resultBit(r)
	}
	return s
}

func (s resultSet) has(r domain.EvaluationResult) bool {
	return s&resultBit(r) != 0
}

func (s resultSet) list() []domain.EvaluationResult {
	var out []domain.EvaluationResult
	for _, r := range domain.AllResults {
		if s.has(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s resultSet) String() string {
	return fmt.Sprint(s.list())
}

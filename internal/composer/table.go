// Package composer evaluates eligibility rules that combine other rules with logical
// combinators. The composite rule table is an immutable value; reloading rules builds a new
// table and swaps it in whole.
package composer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// CompositeRule combines the evaluations of its inputs with a combinator.
//
// Invertible marks a NOT whose input may legitimately produce WARN or UNDETERMINED; those
// results then pass through the negation unchanged.
type CompositeRule struct {
	ID          domain.RuleID     `yaml:"id" json:"id"`
	Combinator  domain.Combinator `yaml:"combinator" json:"combinator"`
	Inputs      []domain.RuleID   `yaml:"inputs" json:"inputs"`
	Invertible  bool              `yaml:"invertible,omitempty" json:"invertible,omitempty"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
}

// Table is the immutable mapping from composite rule id to its definition. Any id not in the
// table is atomic.
type Table struct {
	rules map[domain.RuleID]CompositeRule
	ids   []domain.RuleID
}

// NewTable validates rules and builds a table. It rejects duplicate ids, unknown combinators,
// wrong arity and cycles.
func NewTable(rules []CompositeRule) (*Table, error) {
	t := &Table{rules: make(map[domain.RuleID]CompositeRule, len(rules))}

	for _, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("%w: composite rule without id", domain.ErrInvalidRuleDefinition)
		}
		if _, dup := t.rules[r.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate composite rule %s", domain.ErrInvalidRuleDefinition, r.ID)
		}

		r.Combinator = domain.Combinator(strings.ToUpper(string(r.Combinator)))
		if !r.Combinator.IsValid() {
			return nil, fmt.Errorf("%w: %s: unknown combinator %q", domain.ErrInvalidRuleDefinition, r.ID, r.Combinator)
		}
		switch {
		case r.Combinator.IsUnary() && len(r.Inputs) != 1:
			return nil, fmt.Errorf("%w: %s: %s takes exactly one input, got %d", domain.ErrInvalidRuleDefinition, r.ID, r.Combinator, len(r.Inputs))
		case len(r.Inputs) == 0:
			return nil, fmt.Errorf("%w: %s: %s needs at least one input", domain.ErrInvalidRuleDefinition, r.ID, r.Combinator)
		}
		for _, in := range r.Inputs {
			if in == "" {
				return nil, fmt.Errorf("%w: %s: empty input id", domain.ErrInvalidRuleDefinition, r.ID)
			}
		}

		r.Inputs = append([]domain.RuleID(nil), r.Inputs...)
		t.rules[r.ID] = r
		t.ids = append(t.ids, r.ID)
	}
	sort.Slice(t.ids, func(i, j int) bool { return t.ids[i] < t.ids[j] })

	if err := t.checkAcyclic(); err != nil {
		return nil, err
	}
	return t, nil
}

// Lookup returns the composite rule for id, if id is composite.
func (t *Table) Lookup(id domain.RuleID) (CompositeRule, bool) {
	if t == nil {
		return CompositeRule{}, false
	}
	r, ok := t.rules[id]
	if !ok {
		return CompositeRule{}, false
	}
	r.Inputs = append([]domain.RuleID(nil), r.Inputs...)
	return r, true
}

// IDs returns the composite rule ids in sorted order.
func (t *Table) IDs() []domain.RuleID {
	if t == nil {
		return nil
	}
	return append([]domain.RuleID(nil), t.ids...)
}

// Len returns the number of composite rules.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rules)
}

func (t *Table) checkAcyclic() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[domain.RuleID]int, len(t.rules))

	var visit func(id domain.RuleID, path []domain.RuleID) error
	visit = func(id domain.RuleID, path []domain.RuleID) error {
		r, composite := t.rules[id]
		if !composite {
			return nil
		}
		switch state[id] {
		case visiting:
			return fmt.Errorf("%w: %s", domain.ErrRuleCycle, formatPath(append(path, id)))
		case done:
			return nil
		}
		state[id] = visiting
		for _, in := range r.Inputs {
			if err := visit(in, append(path, id)); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	for _, id := range t.ids {
		if err := visit(id, nil); err != nil {
			return err
		}
	}
	return nil
}

func formatPath(path []domain.RuleID) string {
	parts := make([]string, len(path))
	for i, id := range path {
		parts[i] = string(id)
	}
	return strings.Join(parts, " -> ")
}

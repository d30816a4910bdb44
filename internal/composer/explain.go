package composer

import (
	"fmt"
	"strings"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// KindCriterion marks an atomic rule in an explanation tree.
const KindCriterion = "CRITERION"

// RuleNode is one node of a rule's structure.
type RuleNode struct {
	ID              domain.RuleID             `json:"id"`
	Kind            string                    `json:"kind"`
	Invertible      bool                      `json:"invertible,omitempty"`
	PossibleResults []domain.EvaluationResult `json:"possible_results"`
	Inputs          []*RuleNode               `json:"inputs,omitempty"`
}

// Explain returns the structure of rule id down to its criteria.
func (c *Composer) Explain(id domain.RuleID) (*RuleNode, error) {
	if !c.Has(id) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownRule, id)
	}
	return c.explain(id), nil
}

func (c *Composer) explain(id domain.RuleID) *RuleNode {
	node := &RuleNode{ID: id, Kind: KindCriterion, PossibleResults: c.outcomes[id].list()}
	rule, ok := c.table.rules[id]
	if !ok {
		return node
	}
	node.Kind = string(rule.Combinator)
	node.Invertible = rule.Invertible
	for _, in := range rule.Inputs {
		node.Inputs = append(node.Inputs, c.explain(in))
	}
	return node
}

// Render draws the tree as indented text.
func (n *RuleNode) Render() string {
	var b strings.Builder
	n.render(&b, 0)
	return b.String()
}

func (n *RuleNode) render(b *strings.Builder, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	if n.Kind == KindCriterion {
		fmt.Fprintf(b, "%s %v\n", n.ID, n.PossibleResults)
	} else {
		fmt.Fprintf(b, "%s (%s)\n", n.ID, n.Kind)
	}
	for _, in := range n.Inputs {
		in.render(b, depth+1)
	}
}

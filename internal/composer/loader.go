package composer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/trial-eligibility-mcp-server/internal/domain"
	"github.com/trial-eligibility-mcp-server/internal/evaluator"
)

// RuleSet is the content of a rule definitions file.
type RuleSet struct {
	Criteria   []evaluator.Definition `yaml:"criteria" json:"criteria"`
	Composites []CompositeRule        `yaml:"composites" json:"composites"`
}

// LoadDefinitions reads a rule definitions file.
func LoadDefinitions(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule definitions %s: %w", path, err)
	}
	rs, err := ParseDefinitions(data)
	if err != nil {
		return nil, fmt.Errorf("parsing rule definitions %s: %w", path, err)
	}
	return rs, nil
}

// ParseDefinitions decodes rule definitions from YAML. Unknown keys are rejected.
func ParseDefinitions(data []byte) (*RuleSet, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	rs := &RuleSet{}
	if err := dec.Decode(rs); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRuleDefinition, err)
	}
	return rs, nil
}

// Build turns a rule set into a composer.
func Build(rs *RuleSet, factory *evaluator.Factory) (*Composer, error) {
	registry, err := factory.BuildAll(rs.Criteria)
	if err != nil {
		return nil, err
	}
	table, err := NewTable(rs.Composites)
	if err != nil {
		return nil, err
	}
	return New(table, registry)
}

// Definition returns the criterion definition with the given id.
func (rs *RuleSet) Definition(id domain.RuleID) (evaluator.Definition, bool) {
	for _, d := range rs.Criteria {
		if d.ID == id {
			return d, true
		}
	}
	return evaluator.Definition{}, false
}

package composer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trial-eligibility-mcp-server/internal/domain"
	"github.com/trial-eligibility-mcp-server/internal/evaluator"
)

// Snapshot is one loaded generation of rules.
type Snapshot struct {
	Composer *Composer
	Rules    *RuleSet
	Source   string
	Version  int64
	LoadedAt time.Time
}

// RuleInfo summarises a rule for listings.
type RuleInfo struct {
	ID          domain.RuleID             `json:"id"`
	Kind        string                    `json:"kind"`
	Type        string                    `json:"type,omitempty"`
	Description string                    `json:"description,omitempty"`
	Inputs      []domain.RuleID           `json:"inputs,omitempty"`
	Results     []domain.EvaluationResult `json:"possible_results"`
}

// Engine serves evaluations from the current rule snapshot. Reads are lock-free; a reload
// builds a complete new snapshot and swaps it in atomically, so a broken rule file never
// replaces a working one.
type Engine struct {
	logger  *logrus.Logger
	factory *evaluator.Factory

	current atomic.Pointer[Snapshot]
	version atomic.Int64
	loadMu  sync.Mutex
}

// NewEngine creates an engine without rules.
func NewEngine(factory *evaluator.Factory, logger *logrus.Logger) *Engine {
	return &Engine{logger: logger, factory: factory}
}

// Load builds rs and makes it the active rule set.
func (e *Engine) Load(rs *RuleSet, source string) error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	start := time.Now()
	c, err := Build(rs, e.factory)
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"source": source,
			"error":  err.Error(),
		}).Error("Rejected rule definitions")
		return fmt.Errorf("building rules from %s: %w", source, err)
	}

	snap := &Snapshot{
		Composer: c,
		Rules:    rs,
		Source:   source,
		Version:  e.version.Add(1),
		LoadedAt: time.Now().UTC(),
	}
	e.current.Store(snap)

	e.logger.WithFields(logrus.Fields{
		"source":     source,
		"version":    snap.Version,
		"criteria":   len(rs.Criteria),
		"composites": len(rs.Composites),
		"duration":   time.Since(start).String(),
	}).Info("Loaded rule definitions")
	return nil
}

// LoadFile reads and loads a rule definitions file.
func (e *Engine) LoadFile(path string) error {
	rs, err := LoadDefinitions(path)
	if err != nil {
		return err
	}
	return e.Load(rs, path)
}

// Reload re-reads the file the active rules came from.
func (e *Engine) Reload() error {
	snap := e.current.Load()
	if snap == nil || snap.Source == "" {
		return fmt.Errorf("no rule file loaded")
	}
	return e.LoadFile(snap.Source)
}

// Snapshot returns the active rules, or nil before the first load.
func (e *Engine) Snapshot() *Snapshot {
	return e.current.Load()
}

// Evaluate evaluates rule id with the active rules.
func (e *Engine) Evaluate(record *domain.PatientRecord, id domain.RuleID) (domain.Evaluation, error) {
	snap := e.current.Load()
	if snap == nil {
		return domain.Evaluation{}, fmt.Errorf("%w: %s (no rules loaded)", domain.ErrUnknownRule, id)
	}
	return snap.Composer.Evaluate(record, id)
}

// Explain returns the structure of rule id.
func (e *Engine) Explain(id domain.RuleID) (*RuleNode, error) {
	snap := e.current.Load()
	if snap == nil {
		return nil, fmt.Errorf("%w: %s (no rules loaded)", domain.ErrUnknownRule, id)
	}
	return snap.Composer.Explain(id)
}

// Rules lists every rule of the active rule set, composites first.
func (e *Engine) Rules() []RuleInfo {
	snap := e.current.Load()
	if snap == nil {
		return nil
	}

	c := snap.Composer
	out := make([]RuleInfo, 0, c.table.Len()+len(c.registry))
	for _, id := range c.table.IDs() {
		rule, _ := c.table.Lookup(id)
		out = append(out, RuleInfo{
			ID:          id,
			Kind:        string(rule.Combinator),
			Description: rule.Description,
			Inputs:      rule.Inputs,
			Results:     c.outcomes[id].list(),
		})
	}
	for _, id := range c.AtomicIDs() {
		info := RuleInfo{ID: id, Kind: KindCriterion, Results: c.outcomes[id].list()}
		if def, ok := snap.Rules.Definition(id); ok {
			info.Type = def.Type
			info.Description = def.Description
		}
		out = append(out, info)
	}
	return out
}

package service

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/trial-eligibility-mcp-server/internal/composer"
	"github.com/trial-eligibility-mcp-server/internal/config"
	"github.com/trial-eligibility-mcp-server/internal/domain"
	"github.com/trial-eligibility-mcp-server/internal/evaluator"
)

// NewFactory builds an evaluator factory from engine settings. Zero settings keep the
// evaluator defaults.
func NewFactory(cfg domain.EngineConfig, ontology domain.OntologyService) (*evaluator.Factory, error) {
	reference, err := config.ParseReferenceDate(cfg.ReferenceDate)
	if err != nil {
		return nil, err
	}

	factory := evaluator.NewFactory(ontology)
	factory.ReferenceDate = reference
	if cfg.VitalLookback > 0 {
		factory.Defaults.VitalLookback = cfg.VitalLookback
	}
	if cfg.MaxVitalMeasurements > 0 {
		factory.Defaults.MaxVitalMeasurements = cfg.MaxVitalMeasurements
	}
	if cfg.DefaultMargin > 0 {
		factory.Defaults.Margin = cfg.DefaultMargin
	}
	return factory, nil
}

// BuildEngine creates the rule engine and loads cfg.RulesFile into it.
func BuildEngine(cfg domain.EngineConfig, ontology domain.OntologyService, logger *logrus.Logger) (*composer.Engine, error) {
	factory, err := NewFactory(cfg, ontology)
	if err != nil {
		return nil, err
	}

	engine := composer.NewEngine(factory, logger)
	if err := engine.LoadFile(cfg.RulesFile); err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	return engine, nil
}

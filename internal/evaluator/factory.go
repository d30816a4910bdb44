package evaluator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/trial-eligibility-mcp-server/internal/domain"
	"github.com/trial-eligibility-mcp-server/internal/selector"
)

// Evaluator type names as they appear in rule definition files.
const (
	TypeSufficientBloodPressure = "HAS_SUFFICIENT_BLOOD_PRESSURE"
	TypeLimitedBloodPressure    = "HAS_LIMITED_BLOOD_PRESSURE"
	TypePulseOximetry           = "HAS_SUFFICIENT_PULSE_OXIMETRY"
	TypeHeartRate               = "HAS_RESTING_HEART_RATE_WITHIN_BOUNDS"
	TypeBodyWeight              = "HAS_BODY_WEIGHT_OF_AT_LEAST"
	TypeBodyMassIndex           = "HAS_BMI_OF_AT_MOST"
	TypeToxicity                = "HAS_TOXICITY_OF_AT_LEAST_GRADE"
	TypeIntolerance             = "HAS_INTOLERANCE_WITH_NAME"
	TypeComplication            = "HAS_COMPLICATION_WITH_NAME"
	TypeConditionHistory        = "HAS_HISTORY_OF_CONDITION"
	TypeTreatmentCategory       = "HAS_HAD_TREATMENT_WITH_CATEGORY"
	TypeSystemicLines           = "HAS_HAD_AT_MOST_SYSTEMIC_LINES"
	TypeRecentSystemicTherapy   = "HAS_HAD_SYSTEMIC_THERAPY_WITHIN_WEEKS"
	TypeExpression              = "EXPRESSION"
)

// Definition declares one atomic criterion.
type Definition struct {
	ID          domain.RuleID  `yaml:"id" json:"id"`
	Type        string         `yaml:"type" json:"type"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Params      map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// Factory turns definitions into evaluators.
type Factory struct {
	Ontology      domain.OntologyService
	ReferenceDate time.Time
	Defaults      Defaults
}

// NewFactory creates a factory with DefaultSettings.
func NewFactory(ontology domain.OntologyService) *Factory {
	return &Factory{Ontology: ontology, Defaults: DefaultSettings()}
}

// Types lists the evaluator types the factory can build.
func Types() []string {
	types := make([]string, 0, len(builders))
	for t := range builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

type builder func(f *Factory, params map[string]any) (domain.EvaluationFunction, error)

var builders = map[string]builder{
	TypeSufficientBloodPressure: buildBloodPressure(domain.MINIMUM),
	TypeLimitedBloodPressure:    buildBloodPressure(domain.MAXIMUM),
	TypePulseOximetry:           buildPulseOximetry,
	TypeHeartRate:               buildHeartRate,
	TypeBodyWeight:              buildBodyWeight,
	TypeBodyMassIndex:           buildBodyMassIndex,
	TypeToxicity:                buildToxicity,
	TypeIntolerance:             buildIntolerance,
	TypeComplication:            buildComplication,
	TypeConditionHistory:        buildConditionHistory,
	TypeTreatmentCategory:       buildTreatmentCategory,
	TypeSystemicLines:           buildSystemicLines,
	TypeRecentSystemicTherapy:   buildRecentSystemicTherapy,
	TypeExpression:              buildExpression,
}

// Build creates the evaluator for def. Unknown types and bad parameters are reported as
// domain.ErrInvalidRuleDefinition.
func (f *Factory) Build(def Definition) (domain.EvaluationFunction, error) {
	if def.ID == "" {
		return nil, fmt.Errorf("%w: criterion without id", domain.ErrInvalidRuleDefinition)
	}
	build, ok := builders[strings.ToUpper(def.Type)]
	if !ok {
		return nil, fmt.Errorf("%w: %s: unknown evaluator type %q", domain.ErrInvalidRuleDefinition, def.ID, def.Type)
	}
	eval, err := build(f, def.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidRuleDefinition, def.ID, err)
	}
	return eval, nil
}

// BuildAll creates an evaluator per definition, keyed by rule id.
func (f *Factory) BuildAll(defs []Definition) (map[domain.RuleID]domain.EvaluationFunction, error) {
	out := make(map[domain.RuleID]domain.EvaluationFunction, len(defs))
	for _, def := range defs {
		if _, dup := out[def.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate criterion %s", domain.ErrInvalidRuleDefinition, def.ID)
		}
		eval, err := f.Build(def)
		if err != nil {
			return nil, err
		}
		out[def.ID] = eval
	}
	return out, nil
}

func (f *Factory) defaults() Defaults {
	d := f.Defaults
	if !f.ReferenceDate.IsZero() {
		d.ReferenceDate = f.ReferenceDate
	}
	return d
}

func decode(params map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(params)
}

type bloodPressureParams struct {
	Subcategory string   `mapstructure:"subcategory"`
	Threshold   float64  `mapstructure:"threshold"`
	Margin      *float64 `mapstructure:"margin"`
}

func buildBloodPressure(direction domain.ThresholdDirection) builder {
	return func(f *Factory, params map[string]any) (domain.EvaluationFunction, error) {
		var p bloodPressureParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		switch strings.ToLower(p.Subcategory) {
		case domain.SubcategorySystolic, domain.SubcategoryDiastolic, domain.SubcategoryMean:
		default:
			return nil, fmt.Errorf("subcategory must be systolic, diastolic or mean, got %q", p.Subcategory)
		}
		if p.Threshold <= 0 {
			return nil, fmt.Errorf("threshold must be positive")
		}
		return BloodPressure{
			Subcategory: strings.ToLower(p.Subcategory),
			Threshold:   p.Threshold,
			Direction:   direction,
			Margin:      p.Margin,
			Defaults:    f.defaults(),
		}, nil
	}
}

type minimumParams struct {
	Minimum float64  `mapstructure:"minimum"`
	Margin  *float64 `mapstructure:"margin"`
}

func buildPulseOximetry(f *Factory, params map[string]any) (domain.EvaluationFunction, error) {
	var p minimumParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Minimum <= 0 || p.Minimum > 100 {
		return nil, fmt.Errorf("minimum SpO2 must be within (0, 100]")
	}
	return PulseOximetry{Minimum: p.Minimum, Margin: p.Margin, Defaults: f.defaults()}, nil
}

func buildBodyWeight(f *Factory, params map[string]any) (domain.EvaluationFunction, error) {
	var p minimumParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Minimum <= 0 {
		return nil, fmt.Errorf("minimum weight must be positive")
	}
	return BodyWeight{Minimum: p.Minimum, Margin: p.Margin, Defaults: f.defaults()}, nil
}

func buildHeartRate(f *Factory, params map[string]any) (domain.EvaluationFunction, error) {
	var p struct {
		Minimum float64  `mapstructure:"minimum"`
		Maximum float64  `mapstructure:"maximum"`
		Margin  *float64 `mapstructure:"margin"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Minimum <= 0 || p.Maximum < p.Minimum {
		return nil, fmt.Errorf("heart rate bounds must satisfy 0 < minimum <= maximum")
	}
	return HeartRate{Minimum: p.Minimum, Maximum: p.Maximum, Margin: p.Margin, Defaults: f.defaults()}, nil
}

func buildBodyMassIndex(f *Factory, params map[string]any) (domain.EvaluationFunction, error) {
	var p struct {
		Maximum          float64  `mapstructure:"maximum"`
		Margin           *float64 `mapstructure:"margin"`
		DowngradeDerived bool     `mapstructure:"downgrade_derived"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Maximum <= 0 {
		return nil, fmt.Errorf("maximum BMI must be positive")
	}
	return BodyMassIndex{Maximum: p.Maximum, Margin: p.Margin, DowngradeDerived: p.DowngradeDerived, Defaults: f.defaults()}, nil
}

func buildToxicity(f *Factory, params map[string]any) (domain.EvaluationFunction, error) {
	var p struct {
		MinGrade     int      `mapstructure:"min_grade"`
		Name         string   `mapstructure:"name"`
		IgnoreTitles []string `mapstructure:"ignore_titles"`
		Policy       string   `mapstructure:"low_trust_policy"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.MinGrade < 0 || p.MinGrade > 5 {
		return nil, fmt.Errorf("min_grade must be between 0 and 5")
	}
	policy := selector.LowTrustWarn
	if p.Policy != "" {
		policy = selector.LowTrustPolicy(strings.ToUpper(p.Policy))
	}
	if !policy.IsValid() {
		return nil, fmt.Errorf("low_trust_policy must be WARN or IGNORE, got %q", p.Policy)
	}
	if len(p.IgnoreTitles) > 0 && f.Ontology == nil {
		return nil, fmt.Errorf("ignore_titles requires an ontology service")
	}
	return Toxicity{
		MinGrade:     p.MinGrade,
		Name:         p.Name,
		IgnoreTitles: p.IgnoreTitles,
		Policy:       policy,
		Ontology:     f.Ontology,
	}, nil
}

type nameParams struct {
	Name string `mapstructure:"name"`
}

func buildIntolerance(_ *Factory, params map[string]any) (domain.EvaluationFunction, error) {
	var p nameParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("name is required")
	}
	return Intolerance{Name: p.Name}, nil
}

func buildComplication(_ *Factory, params map[string]any) (domain.EvaluationFunction, error) {
	var p nameParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return Complication{Name: strings.TrimSpace(p.Name)}, nil
}

func buildConditionHistory(f *Factory, params map[string]any) (domain.EvaluationFunction, error) {
	var p struct {
		Title string `mapstructure:"title"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Title) == "" {
		return nil, fmt.Errorf("title is required")
	}
	if f.Ontology == nil {
		return nil, fmt.Errorf("an ontology service is required")
	}
	return ConditionHistory{Title: p.Title, Ontology: f.Ontology}, nil
}

func buildTreatmentCategory(_ *Factory, params map[string]any) (domain.EvaluationFunction, error) {
	var p struct {
		Category string `mapstructure:"category"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Category) == "" {
		return nil, fmt.Errorf("category is required")
	}
	return TreatmentCategory{Category: p.Category}, nil
}

func buildSystemicLines(_ *Factory, params map[string]any) (domain.EvaluationFunction, error) {
	var p struct {
		MaxLines int `mapstructure:"max_lines"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.MaxLines < 0 {
		return nil, fmt.Errorf("max_lines must not be negative")
	}
	return SystemicLines{MaxLines: p.MaxLines}, nil
}

func buildRecentSystemicTherapy(f *Factory, params map[string]any) (domain.EvaluationFunction, error) {
	var p struct {
		Weeks int `mapstructure:"weeks"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Weeks <= 0 {
		return nil, fmt.Errorf("weeks must be positive")
	}
	return RecentSystemicTherapy{Weeks: p.Weeks, Defaults: f.defaults()}, nil
}

func buildExpression(f *Factory, params map[string]any) (domain.EvaluationFunction, error) {
	var p struct {
		Expression  string `mapstructure:"expression"`
		PassMessage string `mapstructure:"pass_message"`
		FailMessage string `mapstructure:"fail_message"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return NewExpression(p.Expression, p.PassMessage, p.FailMessage, f.defaults())
}

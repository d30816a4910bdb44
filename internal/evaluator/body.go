package evaluator

import (
	"math"
	"time"

	"github.com/trial-eligibility-mcp-server/internal/domain"
	"github.com/trial-eligibility-mcp-server/internal/selector"
)

// bodyMeasurementLookback is wider than the vital lookback; weight and height change slowly.
const bodyMeasurementLookback = 365 * 24 * time.Hour

// BodyWeight checks the median of recent body weights against a minimum in kg. A borderline
// weight is reported as WARN, since a slightly light patient is usually still accepted.
type BodyWeight struct {
	Minimum  float64
	Margin   *float64
	Defaults Defaults
}

// Evaluate implements domain.EvaluationFunction.
func (e BodyWeight) Evaluate(record *domain.PatientRecord) domain.Evaluation {
	value, missing := e.Defaults.representativeValue(record.BodyMeasurements, measurementQuery{
		categories: []domain.MeasurementCategory{domain.BODY_WEIGHT},
		unit:       "kg",
		label:      "body weight",
		lookback:   bodyMeasurementLookback,
	})
	if missing != nil {
		return *missing
	}
	return selector.EvaluateThreshold(selector.ThresholdParams{
		Value:            &value,
		Threshold:        e.Minimum,
		Direction:        domain.MINIMUM,
		Margin:           margin(e.Margin, e.Defaults),
		Label:            "Median body weight",
		Unit:             "kg",
		BorderlineResult: domain.WARN,
	})
}

// PossibleResults implements domain.OutcomeDeclarer.
func (e BodyWeight) PossibleResults() []domain.EvaluationResult {
	return allResults
}

// BodyMassIndex checks the most recent BMI against a maximum. When no BMI was recorded it is
// derived from weight and height; a derived value is lower-trust evidence and, with
// DowngradeDerived set, the verdict is downgraded accordingly.
type BodyMassIndex struct {
	Maximum          float64
	Margin           *float64
	DowngradeDerived bool
	Defaults         Defaults
}

// Evaluate implements domain.EvaluationFunction.
func (e BodyMassIndex) Evaluate(record *domain.PatientRecord) domain.Evaluation {
	params := selector.ThresholdParams{
		Threshold: e.Maximum,
		Direction: domain.MAXIMUM,
		Margin:    margin(e.Margin, e.Defaults),
		Label:     "BMI",
		Unit:      "kg/m2",
	}

	value, missing := e.Defaults.representativeValue(record.BodyMeasurements, measurementQuery{
		categories: []domain.MeasurementCategory{domain.BMI},
		unit:       "kg/m2",
		label:      "BMI",
		lookback:   bodyMeasurementLookback,
		maxCount:   1,
	})
	if missing == nil {
		params.Value = &value
		return selector.EvaluateThreshold(params)
	}

	derived, ok := e.deriveBMI(record)
	if !ok {
		return *missing
	}
	params.Value = &derived
	params.Label = "BMI derived from weight and height"
	return selector.TrustDowngrade(selector.EvaluateThreshold(params), true, e.DowngradeDerived)
}

func (e BodyMassIndex) deriveBMI(record *domain.PatientRecord) (float64, bool) {
	weight, missing := e.Defaults.representativeValue(record.BodyMeasurements, measurementQuery{
		categories: []domain.MeasurementCategory{domain.BODY_WEIGHT},
		unit:       "kg",
		label:      "body weight",
		lookback:   bodyMeasurementLookback,
		maxCount:   1,
	})
	if missing != nil {
		return 0, false
	}
	height, missing := e.Defaults.representativeValue(record.BodyMeasurements, measurementQuery{
		categories: []domain.MeasurementCategory{domain.BODY_HEIGHT},
		unit:       "cm",
		label:      "body height",
		lookback:   -1,
		maxCount:   1,
	})
	if missing != nil || height <= 0 {
		return 0, false
	}
	meters := height / 100
	return math.Round(weight/(meters*meters)*10) / 10, true
}

// PossibleResults implements domain.OutcomeDeclarer.
func (e BodyMassIndex) PossibleResults() []domain.EvaluationResult {
	if e.DowngradeDerived {
		return allResults
	}
	return thresholdResults
}

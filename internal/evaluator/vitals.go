package evaluator

import (
	"fmt"

	"github.com/trial-eligibility-mcp-server/internal/domain"
	"github.com/trial-eligibility-mcp-server/internal/selector"
)

var bloodPressureCategories = []domain.MeasurementCategory{
	domain.NON_INVASIVE_BLOOD_PRESSURE,
	domain.ARTERIAL_BLOOD_PRESSURE,
}

// BloodPressure checks the median of recent blood pressure readings of one subcategory
// against a minimum (sufficient) or maximum (limited) in mmHg.
type BloodPressure struct {
	Subcategory string
	Threshold   float64
	Direction   domain.ThresholdDirection
	Margin      *float64
	Defaults    Defaults
}

// Evaluate implements domain.EvaluationFunction.
func (e BloodPressure) Evaluate(record *domain.PatientRecord) domain.Evaluation {
	label := e.Subcategory + " blood pressure"
	value, missing := e.Defaults.representativeValue(record.VitalFunctions, measurementQuery{
		categories:  bloodPressureCategories,
		subcategory: e.Subcategory,
		unit:        "mmHg",
		label:       label,
	})
	if missing != nil {
		return *missing
	}
	return selector.EvaluateThreshold(selector.ThresholdParams{
		Value:     &value,
		Threshold: e.Threshold,
		Direction: e.Direction,
		Margin:    margin(e.Margin, e.Defaults),
		Label:     "Median " + label,
		Unit:      "mmHg",
	})
}

// PossibleResults implements domain.OutcomeDeclarer.
func (e BloodPressure) PossibleResults() []domain.EvaluationResult {
	return thresholdResults
}

// PulseOximetry checks the median of recent SpO2 readings against a minimum percentage.
type PulseOximetry struct {
	Minimum  float64
	Margin   *float64
	Defaults Defaults
}

// Evaluate implements domain.EvaluationFunction.
func (e PulseOximetry) Evaluate(record *domain.PatientRecord) domain.Evaluation {
	value, missing := e.Defaults.representativeValue(record.VitalFunctions, measurementQuery{
		categories: []domain.MeasurementCategory{domain.SPO2},
		unit:       "%",
		label:      "SpO2",
	})
	if missing != nil {
		return *missing
	}
	return selector.EvaluateThreshold(selector.ThresholdParams{
		Value:     &value,
		Threshold: e.Minimum,
		Direction: domain.MINIMUM,
		Margin:    margin(e.Margin, e.Defaults),
		Label:     "Median SpO2",
		Unit:      "%",
	})
}

// PossibleResults implements domain.OutcomeDeclarer.
func (e PulseOximetry) PossibleResults() []domain.EvaluationResult {
	return thresholdResults
}

// HeartRate checks that the median resting heart rate lies within [Minimum, Maximum] bpm.
// Readings of one day are collapsed to their median first.
type HeartRate struct {
	Minimum  float64
	Maximum  float64
	Margin   *float64
	Defaults Defaults
}

// Evaluate implements domain.EvaluationFunction.
func (e HeartRate) Evaluate(record *domain.PatientRecord) domain.Evaluation {
	value, missing := e.Defaults.representativeValue(record.VitalFunctions, measurementQuery{
		categories: []domain.MeasurementCategory{domain.HEART_RATE},
		unit:       "bpm",
		label:      "heart rate",
		perDay:     true,
	})
	if missing != nil {
		return *missing
	}

	m := margin(e.Margin, e.Defaults)
	lower := selector.EvaluateThreshold(selector.ThresholdParams{
		Value: &value, Threshold: e.Minimum, Direction: domain.MINIMUM, Margin: m, Label: "Median heart rate", Unit: "bpm",
	})
	upper := selector.EvaluateThreshold(selector.ThresholdParams{
		Value: &value, Threshold: e.Maximum, Direction: domain.MAXIMUM, Margin: m, Label: "Median heart rate", Unit: "bpm",
	})

	switch {
	case lower.Result.IsWorseThan(upper.Result):
		return lower
	case upper.Result.IsWorseThan(lower.Result):
		return upper
	case lower.Result == domain.PASS:
		return domain.Pass(fmt.Sprintf("Median heart rate of %v bpm is between %v and %v bpm", value, e.Minimum, e.Maximum))
	default:
		return lower
	}
}

// PossibleResults implements domain.OutcomeDeclarer.
func (e HeartRate) PossibleResults() []domain.EvaluationResult {
	return thresholdResults
}

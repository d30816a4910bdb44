package evaluator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

var referenceDate = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func testDefaults() Defaults {
	d := DefaultSettings()
	d.ReferenceDate = referenceDate
	return d
}

func vital(category domain.MeasurementCategory, subcategory string, daysAgo int, value float64, unit string) domain.Measurement {
	return domain.Measurement{
		Date:        referenceDate.AddDate(0, 0, -daysAgo),
		Category:    category,
		Subcategory: subcategory,
		Value:       value,
		Unit:        unit,
		Valid:       true,
	}
}

func systolic(daysAgo int, value float64) domain.Measurement {
	return vital(domain.NON_INVASIVE_BLOOD_PRESSURE, domain.SubcategorySystolic, daysAgo, value, "mmHg")
}

func TestBloodPressure_Scenarios(t *testing.T) {
	evaluator := BloodPressure{
		Subcategory: domain.SubcategorySystolic,
		Threshold:   100,
		Direction:   domain.MINIMUM,
		Defaults:    testDefaults(),
	}

	tests := []struct {
		name        string
		vitals      []domain.Measurement
		result      domain.EvaluationResult
		recoverable bool
	}{
		{"median 80 fails outside margin", []domain.Measurement{systolic(1, 75), systolic(2, 85)}, domain.FAIL, false},
		{"median 95 is borderline", []domain.Measurement{systolic(1, 90), systolic(2, 100)}, domain.UNDETERMINED, true},
		{"median equal to threshold passes", []domain.Measurement{systolic(1, 100)}, domain.PASS, false},
		{"no measurements", nil, domain.UNDETERMINED, false},
		{"only stale measurements", []domain.Measurement{systolic(90, 120)}, domain.UNDETERMINED, false},
		{"arterial readings count too", []domain.Measurement{
			vital(domain.ARTERIAL_BLOOD_PRESSURE, domain.SubcategorySystolic, 1, 130, "mm[Hg]"),
		}, domain.PASS, false},
		{"diastolic ignored", []domain.Measurement{
			vital(domain.NON_INVASIVE_BLOOD_PRESSURE, domain.SubcategoryDiastolic, 1, 130, "mmHg"),
		}, domain.UNDETERMINED, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Act
			got := evaluator.Evaluate(&domain.PatientRecord{PatientID: "p1", VitalFunctions: tt.vitals})

			// Assert
			assert.Equal(t, tt.result, got.Result)
			assert.Equal(t, tt.recoverable, got.Recoverable)
			assert.True(t, got.IsConsistent())
		})
	}
}

func TestBloodPressure_OnlyRecentReadingsCount(t *testing.T) {
	evaluator := BloodPressure{Subcategory: domain.SubcategorySystolic, Threshold: 100, Direction: domain.MINIMUM, Defaults: testDefaults()}
	evaluator.Defaults.MaxVitalMeasurements = 2

	got := evaluator.Evaluate(&domain.PatientRecord{VitalFunctions: []domain.Measurement{
		systolic(1, 120), systolic(2, 110), systolic(3, 50), systolic(4, 50), systolic(5, 50),
	}})

	assert.Equal(t, domain.PASS, got.Result)
}

func TestBloodPressure_WrongUnitOnly(t *testing.T) {
	evaluator := BloodPressure{Subcategory: domain.SubcategorySystolic, Threshold: 100, Direction: domain.MINIMUM, Defaults: testDefaults()}

	got := evaluator.Evaluate(&domain.PatientRecord{VitalFunctions: []domain.Measurement{
		vital(domain.NON_INVASIVE_BLOOD_PRESSURE, domain.SubcategorySystolic, 1, 16, "kPa"),
	}})

	assert.Equal(t, domain.UNDETERMINED, got.Result)
	assert.Contains(t, got.UndeterminedMessages[0].Text, "expected unit")
}

func TestLimitedBloodPressure(t *testing.T) {
	evaluator := BloodPressure{Subcategory: domain.SubcategorySystolic, Threshold: 140, Direction: domain.MAXIMUM, Defaults: testDefaults()}

	assert.Equal(t, domain.PASS, evaluator.Evaluate(&domain.PatientRecord{VitalFunctions: []domain.Measurement{systolic(1, 130)}}).Result)
	assert.Equal(t, domain.UNDETERMINED, evaluator.Evaluate(&domain.PatientRecord{VitalFunctions: []domain.Measurement{systolic(1, 150)}}).Result)
	assert.Equal(t, domain.FAIL, evaluator.Evaluate(&domain.PatientRecord{VitalFunctions: []domain.Measurement{systolic(1, 170)}}).Result)
}

func TestPulseOximetry(t *testing.T) {
	evaluator := PulseOximetry{Minimum: 90, Defaults: testDefaults()}
	spo2 := func(v float64) []domain.Measurement {
		return []domain.Measurement{vital(domain.SPO2, "", 1, v, "percent")}
	}

	assert.Equal(t, domain.PASS, evaluator.Evaluate(&domain.PatientRecord{VitalFunctions: spo2(97)}).Result)
	assert.Equal(t, domain.UNDETERMINED, evaluator.Evaluate(&domain.PatientRecord{VitalFunctions: spo2(85)}).Result)
	assert.Equal(t, domain.FAIL, evaluator.Evaluate(&domain.PatientRecord{VitalFunctions: spo2(70)}).Result)
	assert.Equal(t, domain.UNDETERMINED, evaluator.Evaluate(&domain.PatientRecord{}).Result)
}

func TestHeartRate(t *testing.T) {
	noMargin := 0.0
	evaluator := HeartRate{Minimum: 50, Maximum: 100, Margin: &noMargin, Defaults: testDefaults()}
	hr := func(values ...float64) []domain.Measurement {
		out := make([]domain.Measurement, 0, len(values))
		for _, v := range values {
			out = append(out, vital(domain.HEART_RATE, "", 1, v, "bpm"))
		}
		return out
	}

	tests := []struct {
		name   string
		vitals []domain.Measurement
		result domain.EvaluationResult
	}{
		{"within bounds", hr(70), domain.PASS},
		{"too slow", hr(40), domain.FAIL},
		{"too fast", hr(120), domain.FAIL},
		{"same-day readings collapse to median", hr(40, 70, 160), domain.PASS},
		{"no data", nil, domain.UNDETERMINED},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evaluator.Evaluate(&domain.PatientRecord{VitalFunctions: tt.vitals})

			assert.Equal(t, tt.result, got.Result)
			assert.True(t, got.IsConsistent())
		})
	}
}

func TestThresholdEvaluators_EmptyInputIsUndetermined(t *testing.T) {
	evaluators := map[string]domain.EvaluationFunction{
		"blood pressure": BloodPressure{Subcategory: domain.SubcategorySystolic, Threshold: 100, Direction: domain.MINIMUM, Defaults: testDefaults()},
		"pulse oximetry": PulseOximetry{Minimum: 90, Defaults: testDefaults()},
		"heart rate":     HeartRate{Minimum: 50, Maximum: 100, Defaults: testDefaults()},
		"body weight":    BodyWeight{Minimum: 40, Defaults: testDefaults()},
		"bmi":            BodyMassIndex{Maximum: 35, Defaults: testDefaults()},
	}

	for name, e := range evaluators {
		t.Run(name, func(t *testing.T) {
			got := e.Evaluate(&domain.PatientRecord{PatientID: "empty"})

			assert.Equal(t, domain.UNDETERMINED, got.Result)
			assert.False(t, got.Recoverable)
		})
	}
}

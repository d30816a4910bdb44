package domain

import (
	"strings"
	"time"
)

// MeasurementCategory groups measurements that answer the same clinical question.
type MeasurementCategory string

const (
	NON_INVASIVE_BLOOD_PRESSURE MeasurementCategory = "NON_INVASIVE_BLOOD_PRESSURE"
	ARTERIAL_BLOOD_PRESSURE     MeasurementCategory = "ARTERIAL_BLOOD_PRESSURE"
	HEART_RATE                  MeasurementCategory = "HEART_RATE"
	SPO2                        MeasurementCategory = "SPO2"
	BODY_WEIGHT                 MeasurementCategory = "BODY_WEIGHT"
	BODY_HEIGHT                 MeasurementCategory = "BODY_HEIGHT"
	BMI                         MeasurementCategory = "BMI"
)

// Blood pressure subcategories.
const (
	SubcategorySystolic  = "systolic"
	SubcategoryDiastolic = "diastolic"
	SubcategoryMean      = "mean"
)

// IsValid reports whether the category is known.
func (c MeasurementCategory) IsValid() bool {
	switch c {
	case NON_INVASIVE_BLOOD_PRESSURE, ARTERIAL_BLOOD_PRESSURE, HEART_RATE, SPO2, BODY_WEIGHT, BODY_HEIGHT, BMI:
		return true
	default:
		return false
	}
}

// Measurement is a dated, unit-tagged numeric observation produced by upstream curation.
// Valid is false when curation could not recognise the unit.
type Measurement struct {
	Date        time.Time           `json:"date"`
	Category    MeasurementCategory `json:"category"`
	Subcategory string              `json:"subcategory,omitempty"`
	Value       float64             `json:"value"`
	Unit        string              `json:"unit"`
	Valid       bool                `json:"valid"`
}

// DataSource tells how trustworthy a piece of clinical evidence is.
type DataSource string

const (
	// QUESTIONNAIRE data is structured and curated.
	QUESTIONNAIRE DataSource = "QUESTIONNAIRE"
	// EHR data comes from the non-curated hospital feed.
	EHR DataSource = "EHR"
)

// IsLowTrust reports whether evidence from this source should be flagged to reviewers.
func (s DataSource) IsLowTrust() bool {
	return s == EHR
}

// Toxicity is a recorded adverse event. Grade is nil when the source did not state one.
type Toxicity struct {
	Name          string     `json:"name"`
	Codes         []string   `json:"codes,omitempty"`
	EvaluatedDate time.Time  `json:"evaluated_date"`
	Source        DataSource `json:"source"`
	Grade         *int       `json:"grade,omitempty"`
}

// GroupKey returns the logical identity used to collapse repeated reports of the same event:
// the first ontology code, falling back to the lower-cased name.
func (t Toxicity) GroupKey() string {
	if len(t.Codes) > 0 && t.Codes[0] != "" {
		return t.Codes[0]
	}
	return strings.ToLower(strings.TrimSpace(t.Name))
}

// Intolerance is a recorded drug or substance intolerance.
type Intolerance struct {
	Name  string   `json:"name"`
	Codes []string `json:"codes,omitempty"`
}

// Complication is a recorded cancer-related complication.
type Complication struct {
	Name  string     `json:"name"`
	Codes []string   `json:"codes,omitempty"`
	Date  *time.Time `json:"date,omitempty"`
}

// Condition is a prior or current comorbidity.
type Condition struct {
	Name  string     `json:"name"`
	Codes []string   `json:"codes,omitempty"`
	Date  *time.Time `json:"date,omitempty"`
}

// TreatmentEntry is one line of prior treatment.
type TreatmentEntry struct {
	Name       string     `json:"name"`
	Categories []string   `json:"categories,omitempty"`
	StartDate  *time.Time `json:"start_date,omitempty"`
	StopDate   *time.Time `json:"stop_date,omitempty"`
	IsSystemic bool       `json:"is_systemic"`
}

// HasCategory reports whether the treatment belongs to the given category (case-insensitive).
func (t TreatmentEntry) HasCategory(category string) bool {
	for _, c := range t.Categories {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}

// PatientRecord is the curated, read-only snapshot every evaluator works on.
//
// Complications is nil when the complication status is unknown, and an empty slice when the
// patient is known to have none.
type PatientRecord struct {
	PatientID        string           `json:"patient_id"`
	BirthYear        int              `json:"birth_year,omitempty"`
	Gender           string           `json:"gender,omitempty"`
	WHOStatus        *int             `json:"who_status,omitempty"`
	VitalFunctions   []Measurement    `json:"vital_functions,omitempty"`
	BodyMeasurements []Measurement    `json:"body_measurements,omitempty"`
	Toxicities       []Toxicity       `json:"toxicities,omitempty"`
	Intolerances     []Intolerance    `json:"intolerances,omitempty"`
	Complications    []Complication   `json:"complications"`
	OtherConditions  []Condition      `json:"other_conditions,omitempty"`
	Treatments       []TreatmentEntry `json:"treatments,omitempty"`
}

// Validate performs the structural checks the evaluators rely on.
func (p *PatientRecord) Validate() error {
	if p == nil {
		return NewValidationError("record", "patient record is required", nil)
	}
	if strings.TrimSpace(p.PatientID) == "" {
		return NewValidationError("patient_id", "patient id is required", p.PatientID)
	}
	if p.WHOStatus != nil && (*p.WHOStatus < 0 || *p.WHOStatus > 5) {
		return NewValidationError("who_status", "WHO status must be between 0 and 5", *p.WHOStatus)
	}
	for i, m := range append(append([]Measurement{}, p.VitalFunctions...), p.BodyMeasurements...) {
		if !m.Category.IsValid() {
			return NewValidationError("measurements", "unknown measurement category", map[string]any{"index": i, "category": m.Category})
		}
	}
	for _, t := range p.Toxicities {
		if t.Grade != nil && (*t.Grade < 0 || *t.Grade > 5) {
			return NewValidationError("toxicities", "toxicity grade must be between 0 and 5", *t.Grade)
		}
	}
	return nil
}

// LogFields returns structured logging fields for audit trails. Clinical content is omitted.
func (p *PatientRecord) LogFields() map[string]any {
	return map[string]any{
		"patient_id":        p.PatientID,
		"vital_functions":   len(p.VitalFunctions),
		"body_measurements": len(p.BodyMeasurements),
		"toxicities":        len(p.Toxicities),
		"treatments":        len(p.Treatments),
	}
}

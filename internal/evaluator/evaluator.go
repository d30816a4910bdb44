// Package evaluator holds the concrete criterion evaluators. Each one answers a single
// eligibility question, is built from an explicit parameter struct and is a pure function of
// the patient record it is handed.
package evaluator

import (
	"fmt"
	"time"

	"github.com/trial-eligibility-mcp-server/internal/domain"
	"github.com/trial-eligibility-mcp-server/internal/selector"
)

// Defaults carries the settings shared by every evaluator built from one rule set.
type Defaults struct {
	// ReferenceDate anchors lookback windows. Zero means "now" according to Clock.
	ReferenceDate time.Time
	Clock         func() time.Time
	// VitalLookback bounds how old a vital function measurement may be.
	VitalLookback time.Duration
	// MaxVitalMeasurements bounds how many recent measurements feed the median.
	MaxVitalMeasurements int
	Margin               float64
	Units                *selector.UnitMatcher
}

// DefaultSettings returns the settings used when configuration leaves them unset.
func DefaultSettings() Defaults {
	return Defaults{
		Clock:                time.Now,
		VitalLookback:        30 * 24 * time.Hour,
		MaxVitalMeasurements: 5,
		Margin:               selector.DefaultMargin,
		Units:                selector.DefaultUnits,
	}
}

// Reference returns the date evaluations are anchored to.
func (d Defaults) Reference() time.Time {
	if !d.ReferenceDate.IsZero() {
		return d.ReferenceDate
	}
	if d.Clock != nil {
		return d.Clock().UTC()
	}
	return time.Now().UTC()
}

func (d Defaults) units() *selector.UnitMatcher {
	if d.Units == nil {
		return selector.DefaultUnits
	}
	return d.Units
}

// measurementQuery names the measurements a threshold evaluator works on.
type measurementQuery struct {
	categories  []domain.MeasurementCategory
	subcategory string
	unit        string
	label       string
	lookback    time.Duration
	maxCount    int
	perDay      bool
}

// representativeValue selects the recent qualifying measurements and returns their median.
// When nothing qualifies it returns the UNDETERMINED evaluation to report instead.
func (d Defaults) representativeValue(ms []domain.Measurement, q measurementQuery) (float64, *domain.Evaluation) {
	var usable, excluded []domain.Measurement
	for _, category := range q.categories {
		u, e := d.units().Partition(ms, category, q.subcategory, q.unit)
		usable = append(usable, u...)
		excluded = append(excluded, e...)
	}

	lookback := q.lookback
	if lookback == 0 {
		lookback = d.VitalLookback
	}
	if lookback > 0 {
		cutoff := d.Reference().Add(-lookback)
		usable = selector.SelectByDateCutoff(usable, cutoff)
		excluded = selector.SelectByDateCutoff(excluded, cutoff)
	}

	if len(usable) == 0 {
		var eval domain.Evaluation
		if len(excluded) > 0 {
			eval = domain.Undetermined(fmt.Sprintf("%s measurements found but not in expected unit %s", q.label, q.unit))
		} else {
			eval = domain.Undetermined(fmt.Sprintf("No recent %s measurement found", q.label))
		}
		return 0, &eval
	}

	if q.perDay {
		usable = selector.MedianPerDay(usable)
	}
	maxCount := q.maxCount
	if maxCount == 0 {
		maxCount = d.MaxVitalMeasurements
	}
	recent := mostRecent(d.units(), usable, q.categories[0], maxCount)

	median, err := selector.Median(recent)
	if err != nil {
		panic(fmt.Errorf("%w: %s: %v", domain.ErrEvaluatorFault, q.label, err))
	}
	return median, nil
}

// mostRecent orders measurements of possibly several categories together. They are re-tagged
// with one category so a single SelectRecent call sees all of them.
func mostRecent(units *selector.UnitMatcher, usable []domain.Measurement, category domain.MeasurementCategory, maxCount int) []domain.Measurement {
	merged := make([]domain.Measurement, len(usable))
	for i, m := range usable {
		m.Category = category
		merged[i] = m
	}
	return units.SelectRecent(merged, category, "", "", maxCount)
}

func margin(override *float64, d Defaults) float64 {
	if override != nil {
		return *override
	}
	return d.Margin
}

var (
	allResults        = []domain.EvaluationResult{domain.PASS, domain.WARN, domain.UNDETERMINED, domain.FAIL}
	thresholdResults  = []domain.EvaluationResult{domain.PASS, domain.UNDETERMINED, domain.FAIL}
	presenceResults   = []domain.EvaluationResult{domain.PASS, domain.FAIL}
	uncertainPresence = []domain.EvaluationResult{domain.PASS, domain.UNDETERMINED, domain.FAIL}
)

// Package selector collapses noisy, irregularly timestamped clinical series into the small
// decision-relevant subset or single value an eligibility criterion is judged on.
//
// Selection never fails on empty or malformed input: absence of qualifying data is an empty
// result, and callers map that to UNDETERMINED.
package selector

import (
	"fmt"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// SelectRecent returns at most maxCount of the most recent valid measurements of the given
// category, using the default unit equivalences. See UnitMatcher.SelectRecent.
func SelectRecent(ms []domain.Measurement, category domain.MeasurementCategory, subcategory, expectedUnit string, maxCount int) []domain.Measurement {
	return DefaultUnits.SelectRecent(ms, category, subcategory, expectedUnit, maxCount)
}

// SelectRecent returns at most maxCount of the most recent valid measurements matching the
// category, the subcategory (when non-empty) and the expected unit (when non-empty), newest
// first. Measurements with equal dates keep their input order. maxCount <= 0 means no limit.
func (u *UnitMatcher) SelectRecent(ms []domain.Measurement, category domain.MeasurementCategory, subcategory, expectedUnit string, maxCount int) []domain.Measurement {
	usable, _ := u.Partition(ms, category, subcategory, expectedUnit)
	return newestFirst(usable, maxCount)
}

// SelectByDateCutoff keeps measurements taken on or after cutoff. A zero cutoff keeps all.
func SelectByDateCutoff(ms []domain.Measurement, cutoff time.Time) []domain.Measurement {
	out := make([]domain.Measurement, 0, len(ms))
	for _, m := range ms {
		if cutoff.IsZero() || !m.Date.Before(cutoff) {
			out = append(out, m)
		}
	}
	return out
}

// Median returns the median value of the supplied measurements. Calling it with no
// measurements is a programming error and is reported as such.
func Median(ms []domain.Measurement) (float64, error) {
	values := make(stats.Float64Data, 0, len(ms))
	for _, m := range ms {
		values = append(values, m.Value)
	}
	median, err := stats.Median(values)
	if err != nil {
		return 0, fmt.Errorf("median of measurements: %w", err)
	}
	return median, nil
}

// MostRecentPerGroupKey keeps, for every key, only the item with the latest date. The first
// item wins on equal dates. Survivors keep their relative input order, so applying the
// function to its own output returns the same slice contents.
func MostRecentPerGroupKey[T any](items []T, key func(T) string, date func(T) time.Time) []T {
	best := make(map[string]int, len(items))
	for i, item := range items {
		k := key(item)
		j, ok := best[k]
		if !ok || date(item).After(date(items[j])) {
			best[k] = i
		}
	}

	out := make([]T, 0, len(best))
	for i, item := range items {
		if best[key(item)] == i {
			out = append(out, item)
		}
	}
	return out
}

// MedianPerDay collapses all measurements taken on the same calendar day (UTC) into one
// measurement carrying the day's median value and the day's latest timestamp. The result is
// ordered newest first.
func MedianPerDay(ms []domain.Measurement) []domain.Measurement {
	if len(ms) == 0 {
		return nil
	}

	byDay := make(map[string][]domain.Measurement)
	var days []string
	for _, m := range ms {
		day := m.Date.UTC().Format("2006-01-02")
		if _, ok := byDay[day]; !ok {
			days = append(days, day)
		}
		byDay[day] = append(byDay[day], m)
	}

	out := make([]domain.Measurement, 0, len(days))
	for _, day := range days {
		group := byDay[day]
		latest := group[0]
		for _, m := range group[1:] {
			if m.Date.After(latest.Date) {
				latest = m
			}
		}
		median, err := Median(group)
		if err != nil {
			continue
		}
		latest.Value = median
		out = append(out, latest)
	}
	return newestFirst(out, 0)
}

func newestFirst(ms []domain.Measurement, maxCount int) []domain.Measurement {
	sorted := make([]domain.Measurement, len(ms))
	copy(sorted, ms)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.After(sorted[j].Date)
	})
	if maxCount > 0 && len(sorted) > maxCount {
		sorted = sorted[:maxCount]
	}
	return sorted
}

package selector

import (
	"strings"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// DefaultUnitEquivalences lists spellings that denote the same unit.
var DefaultUnitEquivalences = [][]string{
	{"mmHg", "mm[Hg]", "mm hg", "millimeter of mercury"},
	{"kg", "kilogram", "kilograms", "kgs"},
	{"%", "percent", "pct"},
	{"bpm", "/min", "beats/min", "beats per minute", "1/min"},
	{"cm", "centimeter", "centimeters"},
	{"kg/m2", "kg/m^2", "kg/m²"},
}

// DefaultUnits matches units with DefaultUnitEquivalences.
var DefaultUnits = NewUnitMatcher(DefaultUnitEquivalences)

// UnitMatcher decides whether a measurement's unit satisfies a criterion's expected unit.
// Comparison is case-insensitive and ignores surrounding and repeated whitespace.
type UnitMatcher struct {
	canonical map[string]string
}

// NewUnitMatcher builds a matcher from sets of equivalent spellings.
func NewUnitMatcher(equivalences [][]string) *UnitMatcher {
	u := &UnitMatcher{canonical: make(map[string]string)}
	for _, set := range equivalences {
		if len(set) == 0 {
			continue
		}
		head := normalizeUnit(set[0])
		for _, spelling := range set {
			u.canonical[normalizeUnit(spelling)] = head
		}
	}
	return u
}

// Matches reports whether unit is the expected unit or one of its equivalent spellings.
func (u *UnitMatcher) Matches(unit, expected string) bool {
	return u.canonicalize(unit) == u.canonicalize(expected)
}

// Partition splits the measurements of one category (and subcategory, when non-empty) into
// usable ones and ones excluded because curation flagged them invalid or the unit differs
// from expectedUnit. An empty expectedUnit accepts any unit.
func (u *UnitMatcher) Partition(ms []domain.Measurement, category domain.MeasurementCategory, subcategory, expectedUnit string) (usable, excluded []domain.Measurement) {
	for _, m := range ms {
		if m.Category != category {
			continue
		}
		if subcategory != "" && !strings.EqualFold(m.Subcategory, subcategory) {
			continue
		}
		if !m.Valid || (expectedUnit != "" && !u.Matches(m.Unit, expectedUnit)) {
			excluded = append(excluded, m)
			continue
		}
		usable = append(usable, m)
	}
	return usable, excluded
}

func (u *UnitMatcher) canonicalize(unit string) string {
	n := normalizeUnit(unit)
	if c, ok := u.canonical[n]; ok {
		return c
	}
	return n
}

func normalizeUnit(unit string) string {
	return strings.ToLower(strings.Join(strings.Fields(unit), " "))
}

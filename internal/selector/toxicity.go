package selector

import (
	"strings"
	"time"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// LowTrustPolicy controls how toxicities from the non-curated EHR feed are treated.
type LowTrustPolicy string

const (
	// LowTrustWarn keeps EHR toxicities; verdicts resting on them are downgraded.
	LowTrustWarn LowTrustPolicy = "WARN"
	// LowTrustIgnore drops EHR toxicities before evaluation.
	LowTrustIgnore LowTrustPolicy = "IGNORE"
)

// IsValid reports whether the policy is supported.
func (p LowTrustPolicy) IsValid() bool {
	return p == LowTrustWarn || p == LowTrustIgnore
}

// ToxicityFilter selects the toxicities relevant to an adverse-event criterion.
type ToxicityFilter struct {
	Ontology     domain.OntologyService
	IgnoreTitles []string
	Policy       LowTrustPolicy
}

// Apply filters the record's toxicities, preserving their order:
//
//  1. drop toxicities coded under any ignored ontology title or its descendants
//  2. drop EHR toxicities entirely under LowTrustIgnore
//  3. keep only the most recent EHR toxicity per ontology code
//  4. drop EHR toxicities already recorded as a complication with the same name
//
// Curated toxicities are never collapsed into or replaced by EHR entries.
func (f ToxicityFilter) Apply(record *domain.PatientRecord) []domain.Toxicity {
	if record == nil || len(record.Toxicities) == 0 {
		return nil
	}

	ignored := f.ignoredCodes()
	kept := make([]domain.Toxicity, 0, len(record.Toxicities))
	var lowTrust []int
	for _, t := range record.Toxicities {
		if f.isIgnored(t, ignored) {
			continue
		}
		if t.Source.IsLowTrust() {
			if f.Policy == LowTrustIgnore {
				continue
			}
			lowTrust = append(lowTrust, len(kept))
		}
		kept = append(kept, t)
	}

	complications := make(map[string]struct{}, len(record.Complications))
	for _, c := range record.Complications {
		complications[strings.ToLower(strings.TrimSpace(c.Name))] = struct{}{}
	}

	survivors := make(map[int]struct{}, len(lowTrust))
	latest := MostRecentPerGroupKey(lowTrust,
		func(i int) string { return kept[i].GroupKey() },
		func(i int) time.Time { return kept[i].EvaluatedDate },
	)
	for _, i := range latest {
		if _, dup := complications[strings.ToLower(strings.TrimSpace(kept[i].Name))]; dup {
			continue
		}
		survivors[i] = struct{}{}
	}

	out := make([]domain.Toxicity, 0, len(kept))
	for i, t := range kept {
		if t.Source.IsLowTrust() {
			if _, ok := survivors[i]; !ok {
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

func (f ToxicityFilter) ignoredCodes() map[string]struct{} {
	if f.Ontology == nil || len(f.IgnoreTitles) == 0 {
		return nil
	}
	codes := make(map[string]struct{}, len(f.IgnoreTitles))
	for _, title := range f.IgnoreTitles {
		if code, ok := f.Ontology.ResolveCode(title); ok {
			codes[code] = struct{}{}
		}
	}
	return codes
}

func (f ToxicityFilter) isIgnored(t domain.Toxicity, ignored map[string]struct{}) bool {
	if len(ignored) == 0 {
		return false
	}
	for _, code := range t.Codes {
		if IsCodeUnder(f.Ontology, code, ignored) {
			return true
		}
	}
	return false
}

// IsCodeUnder reports whether code is one of targets or descends from one of them.
func IsCodeUnder(ontology domain.OntologyService, code string, targets map[string]struct{}) bool {
	if _, ok := targets[code]; ok {
		return true
	}
	if ontology == nil {
		return false
	}
	for _, ancestor := range ontology.AncestorsOf(code) {
		if _, ok := targets[ancestor]; ok {
			return true
		}
	}
	return false
}

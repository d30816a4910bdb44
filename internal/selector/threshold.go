package selector

import (
	"fmt"
	"strconv"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// DefaultMargin is the margin-of-error fraction used when an evaluator does not set one.
const DefaultMargin = 0.1

// ThresholdParams describes one numeric threshold check.
type ThresholdParams struct {
	// Value is the representative value; nil when no qualifying measurement exists.
	Value     *float64
	Threshold float64
	Direction domain.ThresholdDirection
	// Margin is the margin-of-error fraction around Threshold. Negative means none.
	Margin float64
	Label  string
	Unit   string
	// BorderlineResult is the verdict for violations inside the margin band. Empty means
	// UNDETERMINED; WARN is used by criteria where acceptance is clinically likely.
	BorderlineResult domain.EvaluationResult
}

// EvaluateThreshold grades a representative value against a minimum or maximum:
//
//   - no value: UNDETERMINED, not recoverable
//   - threshold satisfied (inclusive): PASS
//   - violation within the margin band: BorderlineResult, recoverable
//   - violation outside the band: FAIL
func EvaluateThreshold(p ThresholdParams) domain.Evaluation {
	if p.Value == nil {
		return domain.Undetermined(fmt.Sprintf("No %s measurement found", p.Label))
	}

	v, t := *p.Value, p.Threshold
	margin := p.Margin
	if margin < 0 {
		margin = 0
	}

	var satisfied, borderline bool
	var relation, bound string
	switch p.Direction {
	case domain.MAXIMUM:
		satisfied = v <= t
		borderline = !satisfied && v <= t*(1+margin)
		relation, bound = "above", "maximum"
	default:
		satisfied = v >= t
		borderline = !satisfied && v >= t*(1-margin)
		relation, bound = "below", "minimum"
	}

	value, threshold := formatQuantity(v, p.Unit), formatQuantity(t, p.Unit)
	switch {
	case satisfied:
		return domain.Pass(fmt.Sprintf("%s of %s meets the %s of %s", p.Label, value, bound, threshold))
	case borderline:
		msg := fmt.Sprintf("%s of %s is %s %s of %s but within margin of error", p.Label, value, relation, bound, threshold)
		if p.BorderlineResult == domain.WARN {
			return domain.RecoverableWarn(msg)
		}
		return domain.RecoverableUndetermined(msg)
	default:
		return domain.Fail(fmt.Sprintf("%s of %s is %s %s of %s", p.Label, value, relation, bound, threshold))
	}
}

// TrustDowngrade flags verdicts that rest on lower-trust evidence. When both lowTrust and
// enabled are set, PASS becomes a recoverable WARN and FAIL becomes a recoverable
// UNDETERMINED; the original messages move to the new result. Other verdicts are unchanged.
func TrustDowngrade(e domain.Evaluation, lowTrust, enabled bool) domain.Evaluation {
	if !lowTrust || !enabled {
		return e
	}

	note := domain.Message{Text: "based on data from a lower-trust source"}
	out := e.Clone()
	switch e.Result {
	case domain.PASS:
		out.Result = domain.WARN
		out.Recoverable = true
		out.WarnMessages = domain.MergeMessages(out.WarnMessages, out.PassMessages, []domain.Message{note})
		out.PassMessages = nil
	case domain.FAIL:
		out.Result = domain.UNDETERMINED
		out.Recoverable = true
		out.UndeterminedMessages = domain.MergeMessages(out.UndeterminedMessages, out.FailMessages, []domain.Message{note})
		out.FailMessages = nil
	}
	return out
}

func formatQuantity(v float64, unit string) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if unit == "" {
		return s
	}
	if unit == "%" {
		return s + "%"
	}
	return s + " " + unit
}

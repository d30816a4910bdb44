package composer

import (
	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// CombineAnd merges evaluations with AND semantics. The result is the most restrictive input
// result; the merged specific messages are those of every input with that result, and the
// merged evaluation is recoverable only if all of those inputs are.
func CombineAnd(evals ...domain.Evaluation) domain.Evaluation {
	return combine(evals, domain.WorstOf, true)
}

// CombineOr merges evaluations with OR semantics. The result is the most permissive input
// result; the merged specific messages are those of every input with that result, and the
// merged evaluation is recoverable if any of those inputs is.
func CombineOr(evals ...domain.Evaluation) domain.Evaluation {
	return combine(evals, domain.BestOf, false)
}

func combine(evals []domain.Evaluation, pick func(...domain.EvaluationResult) domain.EvaluationResult, requireAll bool) domain.Evaluation {
	if len(evals) == 1 {
		return evals[0].Clone()
	}

	results := make([]domain.EvaluationResult, len(evals))
	for i, e := range evals {
		results[i] = e.Result
	}
	winner := pick(results...)

	out := domain.Evaluation{Result: winner, Recoverable: requireAll}
	var specific, general [][]domain.Message
	for _, e := range evals {
		general = append(general, e.GeneralMessages)
		if e.Result != winner {
			continue
		}
		specific = append(specific, e.SpecificMessages())
		if requireAll {
			out.Recoverable = out.Recoverable && e.Recoverable
		} else {
			out.Recoverable = out.Recoverable || e.Recoverable
		}
	}

	out.GeneralMessages = domain.MergeMessages(general...)
	merged := domain.MergeMessages(specific...)
	switch winner {
	case domain.PASS:
		out.PassMessages = merged
	case domain.WARN:
		out.WarnMessages = merged
	case domain.UNDETERMINED:
		out.UndeterminedMessages = merged
	case domain.FAIL:
		out.FailMessages = merged
	}
	return out
}

// Negate swaps PASS and FAIL together with their messages. WARN and UNDETERMINED are returned
// unchanged; the composer only lets them reach a NOT marked invertible.
func Negate(e domain.Evaluation) domain.Evaluation {
	out := e.Clone()
	switch e.Result {
	case domain.PASS:
		out.Result = domain.FAIL
	case domain.FAIL:
		out.Result = domain.PASS
	default:
		return out
	}
	out.PassMessages, out.FailMessages = out.FailMessages, out.PassMessages
	out.Recoverable = false
	return out
}

// WarnIf turns a satisfied condition into a warning: PASS and WARN become WARN carrying the
// input's pass and warn messages, FAIL and UNDETERMINED become a PASS without specific messages.
func WarnIf(e domain.Evaluation) domain.Evaluation {
	switch e.Result {
	case domain.PASS, domain.WARN:
		return domain.Evaluation{
			Result:          domain.WARN,
			Recoverable:     e.Recoverable,
			GeneralMessages: domain.MergeMessages(e.GeneralMessages),
			WarnMessages:    domain.MergeMessages(e.PassMessages, e.WarnMessages),
		}
	default:
		return domain.Evaluation{
			Result:          domain.PASS,
			GeneralMessages: domain.MergeMessages(e.GeneralMessages),
		}
	}
}

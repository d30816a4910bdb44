package domain

import (
	"strings"
)

// Message is a human-readable justification attached to an evaluation. Origin names the
// atomic rule that produced it once the evaluation has passed through the composer.
type Message struct {
	Text   string `json:"text"`
	Origin RuleID `json:"origin,omitempty"`
}

// String renders the message with its origin, if any.
func (m Message) String() string {
	if m.Origin == "" {
		return m.Text
	}
	return string(m.Origin) + ": " + m.Text
}

// Evaluation is the immutable outcome of evaluating one criterion for one patient.
//
// Recoverable marks a verdict that could flip to PASS given slightly different or more
// complete data; it is a triage hint, not a different outcome.
type Evaluation struct {
	Result               EvaluationResult `json:"result"`
	Recoverable          bool             `json:"recoverable"`
	GeneralMessages      []Message        `json:"general_messages,omitempty"`
	PassMessages         []Message        `json:"pass_messages,omitempty"`
	WarnMessages         []Message        `json:"warn_messages,omitempty"`
	UndeterminedMessages []Message        `json:"undetermined_messages,omitempty"`
	FailMessages         []Message        `json:"fail_messages,omitempty"`
}

// Pass builds a PASS evaluation.
func Pass(messages ...string) Evaluation {
	return Evaluation{Result: PASS, PassMessages: toMessages(messages)}
}

// Warn builds a non-recoverable WARN evaluation.
func Warn(messages ...string) Evaluation {
	return Evaluation{Result: WARN, WarnMessages: toMessages(messages)}
}

// RecoverableWarn builds a WARN evaluation that could become PASS with better data.
func RecoverableWarn(messages ...string) Evaluation {
	return Evaluation{Result: WARN, Recoverable: true, WarnMessages: toMessages(messages)}
}

// Undetermined builds a non-recoverable UNDETERMINED evaluation.
func Undetermined(messages ...string) Evaluation {
	return Evaluation{Result: UNDETERMINED, UndeterminedMessages: toMessages(messages)}
}

// RecoverableUndetermined builds an UNDETERMINED evaluation that could become PASS with better data.
func RecoverableUndetermined(messages ...string) Evaluation {
	return Evaluation{Result: UNDETERMINED, Recoverable: true, UndeterminedMessages: toMessages(messages)}
}

// Fail builds a non-recoverable FAIL evaluation.
func Fail(messages ...string) Evaluation {
	return Evaluation{Result: FAIL, FailMessages: toMessages(messages)}
}


// WithGeneralMessages returns a copy of e with the given general messages appended.
func (e Evaluation) WithGeneralMessages(messages ...string) Evaluation {
	out := e.Clone()
	out.GeneralMessages = append(out.GeneralMessages, toMessages(messages)...)
	return out
}

// SpecificMessages returns the message collection that belongs to the evaluation's result.
func (e Evaluation) SpecificMessages() []Message {
	return e.MessagesFor(e.Result)
}

// MessagesFor returns the message collection for the given result.
func (e Evaluation) MessagesFor(r EvaluationResult) []Message {
	switch r {
	case PASS:
		return e.PassMessages
	case WARN:
		return e.WarnMessages
	case UNDETERMINED:
		return e.UndeterminedMessages
	case FAIL:
		return e.FailMessages
	default:
		return nil
	}
}

// IsConsistent reports whether a non-PASS evaluation explains itself, i.e. carries at
// least one message specific to its result.
func (e Evaluation) IsConsistent() bool {
	if !e.Result.IsValid() {
		return false
	}
	if e.Result == PASS {
		return true
	}
	return len(e.SpecificMessages()) > 0
}

// Clone returns a deep copy so callers can derive new evaluations without sharing slices.
func (e Evaluation) Clone() Evaluation {
	return Evaluation{
		Result:               e.Result,
		Recoverable:          e.Recoverable,
		GeneralMessages:      cloneMessages(e.GeneralMessages),
		PassMessages:         cloneMessages(e.PassMessages),
		WarnMessages:         cloneMessages(e.WarnMessages),
		UndeterminedMessages: cloneMessages(e.UndeterminedMessages),
		FailMessages:         cloneMessages(e.FailMessages),
	}
}

// WithOrigin returns a copy of e where every message without an origin is attributed to id.
func (e Evaluation) WithOrigin(id RuleID) Evaluation {
	out := e.Clone()
	for _, msgs := range [][]Message{out.GeneralMessages, out.PassMessages, out.WarnMessages, out.UndeterminedMessages, out.FailMessages} {
		for i := range msgs {
			if msgs[i].Origin == "" {
				msgs[i].Origin = id
			}
		}
	}
	return out
}

// Summary joins the result-specific messages into one line for logs and CLI output.
func (e Evaluation) Summary() string {
	msgs := e.SpecificMessages()
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, m.String())
	}
	return strings.Join(parts, "; ")
}

// LogFields returns structured logging fields for audit trails.
func (e Evaluation) LogFields() map[string]any {
	return map[string]any{
		"result":            string(e.Result),
		"recoverable":       e.Recoverable,
		"specific_messages": len(e.SpecificMessages()),
		"general_messages":  len(e.GeneralMessages),
		"consistent":        e.IsConsistent(),
	}
}

func toMessages(texts []string) []Message {
	if len(texts) == 0 {
		return nil
	}
	out := make([]Message, 0, len(texts))
	for _, t := range texts {
		if t == "" {
			continue
		}
		out = append(out, Message{Text: t})
	}
	return out
}

func cloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	copy(out, in)
	return out
}

// MergeMessages unions message lists preserving first-seen order and dropping duplicates.
func MergeMessages(lists ...[]Message) []Message {
	var out []Message
	seen := make(map[Message]struct{})
	for _, list := range lists {
		for _, m := range list {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

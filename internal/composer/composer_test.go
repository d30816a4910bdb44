package composer

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// fixed is an evaluator that always returns the same evaluation.
type fixed struct {
	eval     domain.Evaluation
	possible []domain.EvaluationResult
}

func (f fixed) Evaluate(*domain.PatientRecord) domain.Evaluation { return f.eval }

func (f fixed) PossibleResults() []domain.EvaluationResult {
	if f.possible != nil {
		return f.possible
	}
	return []domain.EvaluationResult{f.eval.Result}
}

var record = &domain.PatientRecord{PatientID: "p1"}

func mustTable(t *testing.T, rules ...CompositeRule) *Table {
	t.Helper()
	table, err := NewTable(rules)
	require.NoError(t, err)
	return table
}

func TestComposer_AndOrScenario(t *testing.T) {
	// Arrange
	registry := Registry{
		"RULE_A": fixed{eval: domain.Fail("A failed")},
		"RULE_B": fixed{eval: domain.Pass("B passed")},
	}
	table := mustTable(t,
		CompositeRule{ID: "BOTH", Combinator: domain.AND, Inputs: []domain.RuleID{"RULE_A", "RULE_B"}},
		CompositeRule{ID: "EITHER", Combinator: domain.OR, Inputs: []domain.RuleID{"RULE_A", "RULE_B"}},
	)
	c, err := New(table, registry)
	require.NoError(t, err)

	// Act
	both, err := c.Evaluate(record, "BOTH")
	require.NoError(t, err)
	either, err := c.Evaluate(record, "EITHER")
	require.NoError(t, err)

	// Assert
	assert.Equal(t, domain.FAIL, both.Result)
	assert.Equal(t, []domain.Message{{Text: "A failed", Origin: "RULE_A"}}, both.FailMessages)
	assert.Equal(t, domain.PASS, either.Result)
	assert.Equal(t, []domain.Message{{Text: "B passed", Origin: "RULE_B"}}, either.PassMessages)
}

func TestComposer_NestedRules(t *testing.T) {
	registry := Registry{
		"SBP":  fixed{eval: domain.RecoverableUndetermined("SBP borderline")},
		"SPO2": fixed{eval: domain.Pass("SpO2 fine")},
		"TOX":  fixed{eval: domain.Fail("no grade 3 toxicity"), possible: []domain.EvaluationResult{domain.PASS, domain.FAIL}},
	}
	table := mustTable(t,
		CompositeRule{ID: "VITALS", Combinator: domain.AND, Inputs: []domain.RuleID{"SBP", "SPO2"}},
		CompositeRule{ID: "NO_TOX", Combinator: domain.NOT, Inputs: []domain.RuleID{"TOX"}},
		CompositeRule{ID: "ELIGIBLE", Combinator: domain.AND, Inputs: []domain.RuleID{"VITALS", "NO_TOX"}},
	)
	c, err := New(table, registry)
	require.NoError(t, err)

	got, err := c.Evaluate(record, "ELIGIBLE")

	require.NoError(t, err)
	assert.Equal(t, domain.UNDETERMINED, got.Result)
	assert.True(t, got.Recoverable)
	assert.Equal(t, domain.RuleID("SBP"), got.UndeterminedMessages[0].Origin)
}

func TestComposer_AtomicRule(t *testing.T) {
	c, err := New(nil, Registry{"A": fixed{eval: domain.Warn("careful")}})
	require.NoError(t, err)

	got, err := c.Evaluate(record, "A")

	require.NoError(t, err)
	assert.Equal(t, domain.WARN, got.Result)
	assert.Equal(t, domain.RuleID("A"), got.WarnMessages[0].Origin)
}

func TestComposer_UnknownRule(t *testing.T) {
	t.Run("at construction", func(t *testing.T) {
		table := mustTable(t, CompositeRule{ID: "X", Combinator: domain.AND, Inputs: []domain.RuleID{"A", "MISSING"}})

		_, err := New(table, Registry{"A": fixed{eval: domain.Pass()}})

		assert.True(t, errors.Is(err, domain.ErrUnknownRule))
	})

	t.Run("at evaluation", func(t *testing.T) {
		c, err := New(nil, Registry{"A": fixed{eval: domain.Pass()}})
		require.NoError(t, err)

		_, err = c.Evaluate(record, "NOPE")

		assert.True(t, errors.Is(err, domain.ErrUnknownRule))
	})
}

func TestComposer_NotInvertibility(t *testing.T) {
	maybe := fixed{eval: domain.Pass(), possible: domain.AllResults}
	sure := fixed{eval: domain.Pass(), possible: []domain.EvaluationResult{domain.PASS, domain.FAIL}}

	tests := []struct {
		name       string
		input      domain.EvaluationFunction
		invertible bool
		wantErr    bool
	}{
		{"definite input", sure, false, false},
		{"uncertain input rejected", maybe, false, true},
		{"uncertain input marked invertible", maybe, true, false},
		{"undeclared input rejected", domain.EvaluationFunc(func(*domain.PatientRecord) domain.Evaluation { return domain.Pass() }), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := mustTable(t, CompositeRule{ID: "NOT_A", Combinator: domain.NOT, Inputs: []domain.RuleID{"A"}, Invertible: tt.invertible})

			_, err := New(table, Registry{"A": tt.input})

			if tt.wantErr {
				assert.True(t, errors.Is(err, domain.ErrNonInvertibleNot), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestComposer_NotOverComposite(t *testing.T) {
	registry := Registry{
		"A": fixed{eval: domain.Pass(), possible: []domain.EvaluationResult{domain.PASS, domain.FAIL}},
		"B": fixed{eval: domain.Fail("b"), possible: []domain.EvaluationResult{domain.PASS, domain.FAIL}},
		"C": fixed{eval: domain.Pass(), possible: []domain.EvaluationResult{domain.PASS, domain.WARN}},
	}

	definite := mustTable(t,
		CompositeRule{ID: "AB", Combinator: domain.OR, Inputs: []domain.RuleID{"A", "B"}},
		CompositeRule{ID: "NOT_AB", Combinator: domain.NOT, Inputs: []domain.RuleID{"AB"}},
	)
	c, err := New(definite, registry)
	require.NoError(t, err)
	got, err := c.Evaluate(record, "NOT_AB")
	require.NoError(t, err)
	assert.Equal(t, domain.FAIL, got.Result)
	assert.True(t, got.IsConsistent())

	uncertain := mustTable(t,
		CompositeRule{ID: "AC", Combinator: domain.AND, Inputs: []domain.RuleID{"A", "C"}},
		CompositeRule{ID: "NOT_AC", Combinator: domain.NOT, Inputs: []domain.RuleID{"AC"}},
	)
	_, err = New(uncertain, registry)
	assert.ErrorIs(t, err, domain.ErrNonInvertibleNot)
}

func TestComposer_WarnIf(t *testing.T) {
	registry := Registry{
		"SURGERY": fixed{eval: domain.Fail("no recent surgery")},
	}
	table := mustTable(t, CompositeRule{ID: "WARN_SURGERY", Combinator: domain.WARN_IF, Inputs: []domain.RuleID{"SURGERY"}})
	c, err := New(table, registry)
	require.NoError(t, err)

	got, err := c.Evaluate(record, "WARN_SURGERY")

	require.NoError(t, err)
	assert.Equal(t, domain.PASS, got.Result)
}

func TestComposer_EvaluatorPanicIsReported(t *testing.T) {
	broken := domain.EvaluationFunc(func(*domain.PatientRecord) domain.Evaluation {
		panic("median of nothing")
	})
	c, err := New(nil, Registry{"BROKEN": broken})
	require.NoError(t, err)

	_, err = c.Evaluate(record, "BROKEN")

	assert.True(t, errors.Is(err, domain.ErrEvaluatorFault))
	assert.Contains(t, err.Error(), "BROKEN")
}

func TestComposer_InvalidResultIsReported(t *testing.T) {
	c, err := New(nil, Registry{"BAD": fixed{eval: domain.Evaluation{Result: "MAYBE"}}})
	require.NoError(t, err)

	_, err = c.Evaluate(record, "BAD")

	assert.ErrorIs(t, err, domain.ErrEvaluatorFault)
}

func TestComposer_NilRecord(t *testing.T) {
	c, err := New(nil, Registry{"A": fixed{eval: domain.Pass()}})
	require.NoError(t, err)

	_, err = c.Evaluate(nil, "A")

	var vErr *domain.ValidationError
	assert.True(t, errors.As(err, &vErr))
}

func TestComposer_AmbiguousID(t *testing.T) {
	table := mustTable(t, CompositeRule{ID: "A", Combinator: domain.AND, Inputs: []domain.RuleID{"B"}})

	_, err := New(table, Registry{"A": fixed{eval: domain.Pass()}, "B": fixed{eval: domain.Pass()}})

	assert.ErrorIs(t, err, domain.ErrInvalidRuleDefinition)
}

func TestComposer_PossibleResults(t *testing.T) {
	registry := Registry{
		"A": fixed{eval: domain.Pass(), possible: []domain.EvaluationResult{domain.PASS, domain.FAIL}},
		"U": fixed{eval: domain.Pass(), possible: []domain.EvaluationResult{domain.PASS, domain.UNDETERMINED}},
	}
	table := mustTable(t,
		CompositeRule{ID: "NOT_A", Combinator: domain.NOT, Inputs: []domain.RuleID{"A"}},
		CompositeRule{ID: "WARN_U", Combinator: domain.WARN_IF, Inputs: []domain.RuleID{"U"}},
	)
	c, err := New(table, registry)
	require.NoError(t, err)

	notA, err := c.PossibleResults("NOT_A")
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.EvaluationResult{domain.PASS, domain.FAIL}, notA)

	warnU, err := c.PossibleResults("WARN_U")
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.EvaluationResult{domain.WARN, domain.PASS}, warnU)

	_, err = c.PossibleResults("NOPE")
	assert.ErrorIs(t, err, domain.ErrUnknownRule)
}

func TestComposer_ConcurrentEvaluation(t *testing.T) {
	registry := Registry{
		"A": fixed{eval: domain.Fail("a")},
		"B": fixed{eval: domain.Pass("b")},
	}
	table := mustTable(t, CompositeRule{ID: "AB", Combinator: domain.AND, Inputs: []domain.RuleID{"A", "B"}})
	c, err := New(table, registry)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Evaluate(record, "AB")
			assert.NoError(t, err)
			assert.Equal(t, domain.FAIL, got.Result)
			_, err = c.PossibleResults("AB")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestComposer_Explain(t *testing.T) {
	registry := Registry{
		"A": fixed{eval: domain.Pass(), possible: []domain.EvaluationResult{domain.PASS, domain.FAIL}},
		"B": fixed{eval: domain.Pass()},
	}
	table := mustTable(t,
		CompositeRule{ID: "NOT_A", Combinator: domain.NOT, Inputs: []domain.RuleID{"A"}},
		CompositeRule{ID: "ROOT", Combinator: domain.AND, Inputs: []domain.RuleID{"NOT_A", "B"}},
	)
	c, err := New(table, registry)
	require.NoError(t, err)

	node, err := c.Explain("ROOT")

	require.NoError(t, err)
	assert.Equal(t, "AND", node.Kind)
	require.Len(t, node.Inputs, 2)
	assert.Equal(t, "NOT", node.Inputs[0].Kind)
	assert.Equal(t, KindCriterion, node.Inputs[0].Inputs[0].Kind)
	assert.Contains(t, node.Render(), "    A [PASS FAIL]")

	_, err = c.Explain("MISSING")
	assert.ErrorIs(t, err, domain.ErrUnknownRule)
}

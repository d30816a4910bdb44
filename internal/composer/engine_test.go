package composer

import (
	"os"
	"sync"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestEngine_BeforeLoad(t *testing.T) {
	engine := NewEngine(testFactory(), quietLogger())

	_, err := engine.Evaluate(record, "ELIGIBLE")
	assert.ErrorIs(t, err, domain.ErrUnknownRule)
	_, err = engine.Explain("ELIGIBLE")
	assert.ErrorIs(t, err, domain.ErrUnknownRule)
	assert.Nil(t, engine.Snapshot())
	assert.Nil(t, engine.Rules())
	assert.Error(t, engine.Reload())
}

func TestEngine_LoadFile(t *testing.T) {
	// Arrange
	path := writeRules(t, t.TempDir(), sampleRules)
	engine := NewEngine(testFactory(), quietLogger())

	// Act
	err := engine.LoadFile(path)

	// Assert
	require.NoError(t, err)
	snap := engine.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, path, snap.Source)

	rules := engine.Rules()
	require.Len(t, rules, 3)
	assert.Equal(t, domain.RuleID("ELIGIBLE"), rules[0].ID)
	assert.Equal(t, "AND", rules[0].Kind)
	assert.Equal(t, KindCriterion, rules[1].Kind)
	assert.Equal(t, "has_had_at_most_systemic_lines", rules[1].Type)
	assert.Equal(t, "Systolic blood pressure of at least 100 mmHg", rules[2].Description)
}

func TestEngine_FailedLoadKeepsPreviousRules(t *testing.T) {
	dir := t.TempDir()
	path := writeRules(t, dir, sampleRules)
	engine := NewEngine(testFactory(), quietLogger())
	require.NoError(t, engine.LoadFile(path))

	broken := sampleRules + `
  - id: LOOP
    combinator: NOT
    inputs: [LOOP]
`
	writeRules(t, dir, broken)
	err := engine.Reload()

	assert.ErrorIs(t, err, domain.ErrRuleCycle)
	assert.Equal(t, int64(1), engine.Snapshot().Version)
	got, err := engine.Evaluate(&domain.PatientRecord{PatientID: "p1"}, "NO_PRIOR_LINES")
	require.NoError(t, err)
	assert.Equal(t, domain.PASS, got.Result)
}

func TestEngine_ReloadSwapsRules(t *testing.T) {
	dir := t.TempDir()
	path := writeRules(t, dir, sampleRules)
	engine := NewEngine(testFactory(), quietLogger())
	require.NoError(t, engine.LoadFile(path))

	writeRules(t, dir, `
criteria:
  - id: NO_PRIOR_LINES
    type: HAS_HAD_AT_MOST_SYSTEMIC_LINES
    params:
      max_lines: 1
`)
	require.NoError(t, engine.Reload())

	assert.Equal(t, int64(2), engine.Snapshot().Version)
	_, err := engine.Evaluate(record, "ELIGIBLE")
	assert.ErrorIs(t, err, domain.ErrUnknownRule)
}

func TestEngine_ConcurrentReadsDuringReload(t *testing.T) {
	dir := t.TempDir()
	path := writeRules(t, dir, sampleRules)
	engine := NewEngine(testFactory(), quietLogger())
	require.NoError(t, engine.LoadFile(path))
	patient := &domain.PatientRecord{PatientID: "p1"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				got, err := engine.Evaluate(patient, "NO_PRIOR_LINES")
				assert.NoError(t, err)
				assert.Equal(t, domain.PASS, got.Result)
			}
		}()
	}
	for i := 0; i < 5; i++ {
		assert.NoError(t, engine.Reload())
	}
	wg.Wait()

	assert.Equal(t, int64(6), engine.Snapshot().Version)
}

func TestWatcher_HandleChange(t *testing.T) {
	dir := t.TempDir()
	path := writeRules(t, dir, sampleRules)
	engine := NewEngine(testFactory(), quietLogger())
	require.NoError(t, engine.LoadFile(path))
	w := NewWatcher(engine, path, quietLogger())

	t.Run("chmod is ignored", func(t *testing.T) {
		w.handleChange(fsnotify.Event{Name: path, Op: fsnotify.Chmod})

		assert.Equal(t, int64(1), engine.Snapshot().Version)
	})

	t.Run("write reloads", func(t *testing.T) {
		w.handleChange(fsnotify.Event{Name: path, Op: fsnotify.Write})

		assert.Equal(t, int64(2), engine.Snapshot().Version)
	})

	t.Run("broken file keeps rules", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("criteria: [\n"), 0o600))

		w.handleChange(fsnotify.Event{Name: path, Op: fsnotify.Write})

		assert.Equal(t, int64(2), engine.Snapshot().Version)
	})
}

func TestWatcher_StartRequiresFile(t *testing.T) {
	engine := NewEngine(testFactory(), quietLogger())
	w := NewWatcher(engine, t.TempDir()+"/missing.yaml", quietLogger())

	assert.Error(t, w.Start())
}

package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trial-eligibility-mcp-server/internal/domain"
	"github.com/trial-eligibility-mcp-server/internal/history"
	"github.com/trial-eligibility-mcp-server/internal/service"
)

const testRules = `
criteria:
  - id: SBP_AT_LEAST_100
    type: HAS_SUFFICIENT_BLOOD_PRESSURE
    params:
      subcategory: systolic
      threshold: 100
  - id: NO_PRIOR_LINES
    type: HAS_HAD_AT_MOST_SYSTEMIC_LINES
    params:
      max_lines: 0
composites:
  - id: ELIGIBLE
    combinator: AND
    inputs: [SBP_AT_LEAST_100, NO_PRIOR_LINES]
`

const testRecord = `{
	"patient_id": "patient-1",
	"vital_functions": [{
		"date": "2024-05-25T00:00:00Z",
		"category": "NON_INVASIVE_BLOOD_PRESSURE",
		"subcategory": "systolic",
		"value": 85,
		"unit": "mmHg",
		"valid": true
	}]
}`

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func newTestServer(t *testing.T, withHistory bool) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte(testRules), 0o600))

	engine, err := service.BuildEngine(domain.EngineConfig{RulesFile: rulesPath, ReferenceDate: "2024-06-01"}, nil, quietLogger())
	require.NoError(t, err)

	var store history.Store
	var opts []Option
	exportDir := filepath.Join(dir, "exports")
	if withHistory {
		sqlite, err := history.NewSQLiteStore(filepath.Join(dir, "history.db"))
		require.NoError(t, err)
		t.Cleanup(func() { sqlite.Close() })
		store = sqlite
		require.NoError(t, os.MkdirAll(exportDir, 0o755))
		opts = append(opts, WithHistoryExport(store, exportDir))
	}

	svc := service.NewEligibilityService(quietLogger(), engine, nil, store, 2)
	s, err := NewServer(svc, quietLogger(), opts...)
	require.NoError(t, err)
	return s, exportDir
}

func parseRecord(t *testing.T) *domain.PatientRecord {
	t.Helper()
	var record domain.PatientRecord
	require.NoError(t, json.Unmarshal([]byte(testRecord), &record))
	return &record
}

func TestNewServer(t *testing.T) {
	t.Run("requires service", func(t *testing.T) {
		_, err := NewServer(nil, quietLogger())
		assert.Error(t, err)
	})

	t.Run("custom implementation", func(t *testing.T) {
		s, _ := newTestServer(t, false)
		assert.NotNil(t, s.mcpServer)
		assert.Equal(t, "trial-eligibility-mcp-server", s.info.Name)

		WithImplementation("lite", "v9")(s)
		assert.Equal(t, "lite", s.info.Name)
		assert.Equal(t, "v9", s.info.Version)
	})
}

func TestEvaluateCriteria(t *testing.T) {
	s, _ := newTestServer(t, true)

	// Act
	resp, err := s.EvaluateCriteria(context.Background(), EvaluateCriteriaParams{
		Record:  parseRecord(t),
		RuleIDs: []domain.RuleID{"ELIGIBLE"},
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "patient-1", resp.PatientID)
	assert.Equal(t, domain.FAIL, resp.Overall.Result)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, domain.FAIL, resp.Results[0].Evaluation.Result)

	hist, err := s.PatientHistory(context.Background(), PatientHistoryParams{PatientID: "patient-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, hist.Count)
	assert.Equal(t, resp.RunID, hist.Runs[0].RunID)
}

func TestEvaluateCriteria_Errors(t *testing.T) {
	s, _ := newTestServer(t, false)

	_, err := s.EvaluateCriteria(context.Background(), EvaluateCriteriaParams{Record: parseRecord(t)})
	assert.Equal(t, domain.ErrCodeValidation, domain.ErrorCode(err))

	_, err = s.EvaluateCriteria(context.Background(), EvaluateCriteriaParams{
		Record:  parseRecord(t),
		RuleIDs: []domain.RuleID{"NOPE"},
	})
	assert.Equal(t, domain.ErrCodeRuleConfig, domain.ErrorCode(err))
}

func TestListRules(t *testing.T) {
	s, _ := newTestServer(t, false)

	result := s.ListRules()

	assert.Equal(t, int64(1), result.RulesVersion)
	assert.Equal(t, 3, result.Count)
	assert.Equal(t, domain.RuleID("ELIGIBLE"), result.Rules[0].ID)
}

func TestExplainRule(t *testing.T) {
	s, _ := newTestServer(t, false)

	result, err := s.ExplainRule(ExplainRuleParams{RuleID: "ELIGIBLE"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.Rendered, "ELIGIBLE (AND)"), result.Rendered)
	assert.Len(t, result.Structure.Inputs, 2)

	_, err = s.ExplainRule(ExplainRuleParams{})
	assert.Equal(t, domain.ErrCodeValidation, domain.ErrorCode(err))

	_, err = s.ExplainRule(ExplainRuleParams{RuleID: "NOPE"})
	assert.ErrorIs(t, err, domain.ErrUnknownRule)
}

func TestPatientHistory_Disabled(t *testing.T) {
	s, _ := newTestServer(t, false)

	_, err := s.PatientHistory(context.Background(), PatientHistoryParams{PatientID: "patient-1"})

	assert.ErrorIs(t, err, service.ErrHistoryDisabled)
}

func TestExportHistory(t *testing.T) {
	s, exportDir := newTestServer(t, true)
	_, err := s.EvaluateCriteria(context.Background(), EvaluateCriteriaParams{
		Record:  parseRecord(t),
		RuleIDs: []domain.RuleID{"SBP_AT_LEAST_100", "NO_PRIOR_LINES"},
	})
	require.NoError(t, err)

	result, err := s.ExportHistory(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Count)
	assert.Equal(t, exportDir, filepath.Dir(result.FilePath))
	assert.True(t, strings.HasPrefix(filepath.Base(result.FilePath), "history_export_"))

	data, err := os.ReadFile(result.FilePath)
	require.NoError(t, err)
	var export history.Export
	require.NoError(t, json.Unmarshal(data, &export))
	assert.Len(t, export.Runs, 2)
}

func TestExportHistory_Disabled(t *testing.T) {
	s, _ := newTestServer(t, false)

	_, err := s.ExportHistory(context.Background())

	assert.ErrorIs(t, err, service.ErrHistoryDisabled)
}

func TestToolHandler(t *testing.T) {
	s, _ := newTestServer(t, false)

	t.Run("success is rendered as JSON text", func(t *testing.T) {
		handler := s.toolHandler(ToolListRules, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			return s.ListRules(), nil
		})

		result, err := handler(context.Background(), nil)

		require.NoError(t, err)
		assert.False(t, result.IsError)
		require.Len(t, result.Content, 1)
		text, ok := result.Content[0].(*mcp.TextContent)
		require.True(t, ok)
		var decoded ListRulesResult
		require.NoError(t, json.Unmarshal([]byte(text.Text), &decoded))
		assert.Equal(t, 3, decoded.Count)
	})

	t.Run("failure is an error result", func(t *testing.T) {
		handler := s.toolHandler(ToolExplainRule, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			return s.ExplainRule(ExplainRuleParams{RuleID: "NOPE"})
		})

		result, err := handler(context.Background(), nil)

		require.NoError(t, err)
		assert.True(t, result.IsError)
		text := result.Content[0].(*mcp.TextContent)
		var apiErr domain.APIError
		require.NoError(t, json.Unmarshal([]byte(text.Text), &apiErr))
		assert.Equal(t, domain.ErrCodeRuleConfig, apiErr.Code)
	})
}

func TestDecodeArguments(t *testing.T) {
	var params PatientHistoryParams

	require.NoError(t, decodeArguments(nil, &params))
	require.NoError(t, decodeArguments(json.RawMessage("null"), &params))
	require.NoError(t, decodeArguments(json.RawMessage(`{"patient_id":"p-1","limit":5}`), &params))
	assert.Equal(t, "p-1", params.PatientID)
	assert.Equal(t, 5, params.Limit)

	err := decodeArguments(json.RawMessage(`{"limit":"five"}`), &params)
	assert.Equal(t, domain.ErrCodeValidation, domain.ErrorCode(err))
}

func TestRun_UnsupportedTransport(t *testing.T) {
	s, _ := newTestServer(t, false)

	err := s.Run(context.Background(), "carrier-pigeon", "")

	assert.ErrorContains(t, err, "unsupported transport")
}

func TestDefinitions(t *testing.T) {
	s, _ := newTestServer(t, false)

	defs, err := s.Definitions()

	require.NoError(t, err)
	assert.Equal(t, int64(1), defs.RulesVersion)
	assert.Equal(t, "rules.yaml", filepath.Base(defs.Source))
	assert.Len(t, defs.Definitions.Criteria, 2)
	assert.Len(t, defs.Definitions.Composites, 1)
}

func TestResourceHandler(t *testing.T) {
	s, _ := newTestServer(t, false)
	handler := s.resourceHandler(func() (interface{}, error) { return s.ListRules(), nil })

	result, err := handler(context.Background(), nil)

	require.NoError(t, err)
	require.Len(t, result.Contents, 1)
	assert.Equal(t, "application/json", result.Contents[0].MIMEType)
	assert.Contains(t, result.Contents[0].Text, `"ELIGIBLE"`)
}

func TestReviewPrompt(t *testing.T) {
	s, _ := newTestServer(t, false)

	t.Run("renders steps", func(t *testing.T) {
		text, err := s.ReviewPrompt(map[string]string{"patient_id": "patient-1", "rule_id": "ELIGIBLE"})

		require.NoError(t, err)
		assert.Contains(t, text, "patient patient-1 against rule ELIGIBLE")
		assert.Contains(t, text, ToolEvaluateCriteria)
		assert.Contains(t, text, ToolExplainRule)
	})

	tests := []struct {
		name string
		args map[string]string
		code string
	}{
		{"missing patient", map[string]string{"rule_id": "ELIGIBLE"}, domain.ErrCodeValidation},
		{"missing rule", map[string]string{"patient_id": "patient-1"}, domain.ErrCodeValidation},
		{"unknown rule", map[string]string{"patient_id": "patient-1", "rule_id": "NOPE"}, domain.ErrCodeRuleConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ReviewPrompt(tt.args)

			assert.Equal(t, tt.code, domain.ErrorCode(err))
		})
	}
}

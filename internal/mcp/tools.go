package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/trial-eligibility-mcp-server/internal/composer"
	"github.com/trial-eligibility-mcp-server/internal/domain"
	"github.com/trial-eligibility-mcp-server/internal/history"
	"github.com/trial-eligibility-mcp-server/internal/service"
)

// Tool names.
const (
	ToolEvaluateCriteria = "evaluate_criteria"
	ToolListRules        = "list_rules"
	ToolExplainRule      = "explain_rule"
	ToolPatientHistory   = "patient_history"
	ToolExportHistory    = "export_history"
)

// EvaluateCriteriaParams defines the parameters for evaluate_criteria
type EvaluateCriteriaParams struct {
	PatientID string                `json:"patient_id,omitempty"`
	Record    *domain.PatientRecord `json:"record,omitempty"`
	RuleIDs   []domain.RuleID       `json:"rule_ids"`
}

// ExplainRuleParams defines the parameters for explain_rule
type ExplainRuleParams struct {
	RuleID domain.RuleID `json:"rule_id"`
}

// ExplainRuleResult is the result of explain_rule
type ExplainRuleResult struct {
	Rule      *composer.RuleInfo `json:"rule"`
	Structure *composer.RuleNode `json:"structure"`
	Rendered  string             `json:"rendered"`
}

// ListRulesResult is the result of list_rules
type ListRulesResult struct {
	RulesVersion int64               `json:"rules_version"`
	Count        int                 `json:"count"`
	Rules        []composer.RuleInfo `json:"rules"`
}

// PatientHistoryParams defines the parameters for patient_history
type PatientHistoryParams struct {
	PatientID string `json:"patient_id"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// PatientHistoryResult is the result of patient_history
type PatientHistoryResult struct {
	PatientID string         `json:"patient_id"`
	Count     int            `json:"count"`
	Runs      []*history.Run `json:"runs"`
}

// ExportHistoryResult is the result of export_history
type ExportHistoryResult struct {
	FilePath string `json:"file_path"`
	Count    int64  `json:"count"`
	Message  string `json:"message"`
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(&mcp.Tool{
		Name: ToolEvaluateCriteria,
		Description: "Evaluate eligibility rules for one patient. Each rule yields PASS, WARN, " +
			"UNDETERMINED or FAIL with the messages that justify it. Send the patient record inline " +
			"or the id of a stored record.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"patient_id": {Type: "string", Description: "Id of a stored patient record"},
				"record":     {Type: "object", Description: "Inline patient record"},
				"rule_ids": {
					Type:        "array",
					Description: "Rules to evaluate",
					Items:       &jsonschema.Schema{Type: "string"},
				},
			},
			Required: []string{"rule_ids"},
		},
	}, s.toolHandler(ToolEvaluateCriteria, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var params EvaluateCriteriaParams
		if err := decodeArguments(raw, &params); err != nil {
			return nil, err
		}
		return s.EvaluateCriteria(ctx, params)
	}))

	s.mcpServer.AddTool(&mcp.Tool{
		Name:        ToolListRules,
		Description: "List the loaded eligibility rules with their kind and possible results.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.toolHandler(ToolListRules, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		return s.ListRules(), nil
	}))

	s.mcpServer.AddTool(&mcp.Tool{
		Name:        ToolExplainRule,
		Description: "Show how a rule is composed from other rules down to its criteria.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"rule_id": {Type: "string", Description: "Rule to explain"},
			},
			Required: []string{"rule_id"},
		},
	}, s.toolHandler(ToolExplainRule, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var params ExplainRuleParams
		if err := decodeArguments(raw, &params); err != nil {
			return nil, err
		}
		return s.ExplainRule(params)
	}))

	s.mcpServer.AddTool(&mcp.Tool{
		Name:        ToolPatientHistory,
		Description: "List past evaluation runs for a patient, newest first.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"patient_id": {Type: "string", Description: "Patient id"},
				"limit":      {Type: "integer", Description: "Maximum number of runs (default 50)"},
				"offset":     {Type: "integer", Description: "Number of runs to skip"},
			},
			Required: []string{"patient_id"},
		},
	}, s.toolHandler(ToolPatientHistory, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var params PatientHistoryParams
		if err := decodeArguments(raw, &params); err != nil {
			return nil, err
		}
		return s.PatientHistory(ctx, params)
	}))

	if s.history != nil && s.exportDir != "" {
		s.mcpServer.AddTool(&mcp.Tool{
			Name:        ToolExportHistory,
			Description: "Export the whole evaluation history to a JSON file for backup.",
			InputSchema: &jsonschema.Schema{Type: "object"},
		}, s.toolHandler(ToolExportHistory, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			return s.ExportHistory(ctx)
		}))
	}
}

// EvaluateCriteria implements the evaluate_criteria tool.
func (s *Server) EvaluateCriteria(ctx context.Context, params EvaluateCriteriaParams) (*service.EvaluateResponse, error) {
	return s.service.Evaluate(ctx, service.EvaluateRequest{
		PatientID: params.PatientID,
		Record:    params.Record,
		RuleIDs:   params.RuleIDs,
	})
}

// ListRules implements the list_rules tool.
func (s *Server) ListRules() *ListRulesResult {
	rules := s.service.ListRules()
	result := &ListRulesResult{Count: len(rules), Rules: rules}
	if snap := s.service.Engine().Snapshot(); snap != nil {
		result.RulesVersion = snap.Version
	}
	return result
}

// ExplainRule implements the explain_rule tool.
func (s *Server) ExplainRule(params ExplainRuleParams) (*ExplainRuleResult, error) {
	if params.RuleID == "" {
		return nil, domain.NewValidationError("rule_id", "rule id is required", nil)
	}
	info, err := s.service.Rule(params.RuleID)
	if err != nil {
		return nil, err
	}
	tree, err := s.service.Explain(params.RuleID)
	if err != nil {
		return nil, err
	}
	return &ExplainRuleResult{Rule: info, Structure: tree, Rendered: tree.Render()}, nil
}

// PatientHistory implements the patient_history tool.
func (s *Server) PatientHistory(ctx context.Context, params PatientHistoryParams) (*PatientHistoryResult, error) {
	runs, err := s.service.History(ctx, params.PatientID, params.Limit, params.Offset)
	if err != nil {
		return nil, err
	}
	return &PatientHistoryResult{PatientID: params.PatientID, Count: len(runs), Runs: runs}, nil
}

// ExportHistory implements the export_history tool.
func (s *Server) ExportHistory(ctx context.Context) (*ExportHistoryResult, error) {
	if s.history == nil {
		return nil, service.ErrHistoryDisabled
	}

	filename := fmt.Sprintf("history_export_%s.json", time.Now().Format("20060102_150405"))
	filePath := filepath.Join(s.exportDir, filename)

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create export file: %w", err)
	}
	defer file.Close()

	if err := s.history.ExportJSON(ctx, file); err != nil {
		return nil, fmt.Errorf("failed to export history: %w", err)
	}

	count, err := s.history.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &ExportHistoryResult{
		FilePath: filePath,
		Count:    count,
		Message:  fmt.Sprintf("Exported %d evaluation runs to %s", count, filePath),
	}, nil
}

type toolFunc func(ctx context.Context, raw json.RawMessage) (interface{}, error)

// toolHandler adapts a typed tool function to the SDK. Tool failures are reported as error
// results so the client can show them; only protocol problems are returned as errors.
func (s *Server) toolHandler(name string, fn toolFunc) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		log := s.logger.WithField("tool", name)

		var raw json.RawMessage
		if req != nil && req.Params != nil && req.Params.Arguments != nil {
			encoded, err := json.Marshal(req.Params.Arguments)
			if err != nil {
				return nil, fmt.Errorf("encoding %s arguments: %w", name, err)
			}
			raw = encoded
		}

		result, err := fn(ctx, raw)
		if err != nil {
			log.WithFields(logrus.Fields{
				"error":    err.Error(),
				"code":     domain.ErrorCode(err),
				"duration": time.Since(start).String(),
			}).Warn("Tool call failed")
			return errorResult(err), nil
		}

		log.WithField("duration", time.Since(start).String()).Info("Tool call completed")
		return jsonResult(result)
	}
}

func decodeArguments(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domain.NewValidationError("arguments", "invalid arguments: "+err.Error(), nil)
	}
	return nil
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

func errorResult(err error) *mcp.CallToolResult {
	apiErr := domain.NewAPIError(domain.ErrorCode(err), "tool call failed", err.Error(), "")
	data, _ := json.Marshal(apiErr)
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/trial-eligibility-mcp-server/internal/composer"
	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// Resource URIs.
const (
	ResourceRules       = "eligibility://rules"
	ResourceDefinitions = "eligibility://rules/definitions"
)

// PromptReviewEligibility is the name of the eligibility review prompt.
const PromptReviewEligibility = "review_eligibility"

// RuleDefinitions is the content of the definitions resource.
type RuleDefinitions struct {
	Source       string            `json:"source"`
	RulesVersion int64             `json:"rules_version"`
	Definitions  *composer.RuleSet `json:"definitions"`
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         ResourceRules,
		Name:        "rules",
		Description: "Catalogue of loaded eligibility rules with their possible results",
		MIMEType:    "application/json",
	}, s.resourceHandler(func() (interface{}, error) {
		return s.ListRules(), nil
	}))

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         ResourceDefinitions,
		Name:        "rule-definitions",
		Description: "Criterion and composite definitions of the active rule set",
		MIMEType:    "application/json",
	}, s.resourceHandler(func() (interface{}, error) {
		return s.Definitions()
	}))

	s.mcpServer.AddPrompt(&mcp.Prompt{
		Name:        PromptReviewEligibility,
		Description: "Walk through a patient's eligibility for a rule and summarise what blocks enrolment",
		Arguments: []*mcp.PromptArgument{
			{Name: "patient_id", Description: "Patient to review", Required: true},
			{Name: "rule_id", Description: "Top-level eligibility rule", Required: true},
		},
	}, func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		var args map[string]string
		if req != nil && req.Params != nil {
			args = req.Params.Arguments
		}
		text, err := s.ReviewPrompt(args)
		if err != nil {
			return nil, err
		}
		return &mcp.GetPromptResult{
			Description: "Eligibility review",
			Messages: []*mcp.PromptMessage{
				{Role: "user", Content: &mcp.TextContent{Text: text}},
			},
		}, nil
	})
}

// Definitions returns the definitions of the active rule set.
func (s *Server) Definitions() (*RuleDefinitions, error) {
	snap := s.service.Engine().Snapshot()
	if snap == nil {
		return nil, fmt.Errorf("%w: no rules loaded", domain.ErrNotFound)
	}
	return &RuleDefinitions{Source: snap.Source, RulesVersion: snap.Version, Definitions: snap.Rules}, nil
}

// ReviewPrompt renders the review_eligibility prompt text.
func (s *Server) ReviewPrompt(args map[string]string) (string, error) {
	patientID := strings.TrimSpace(args["patient_id"])
	ruleID := strings.TrimSpace(args["rule_id"])
	if patientID == "" {
		return "", domain.NewValidationError("patient_id", "patient id is required", nil)
	}
	if ruleID == "" {
		return "", domain.NewValidationError("rule_id", "rule id is required", nil)
	}
	if _, err := s.service.Rule(domain.RuleID(ruleID)); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Review the trial eligibility of patient %s against rule %s.\n\n", patientID, ruleID)
	fmt.Fprintf(&b, "1. Call %s with rule_id %q to see which criteria the rule combines.\n", ToolExplainRule, ruleID)
	fmt.Fprintf(&b, "2. Call %s for patient %q with rule_ids [%q].\n", ToolEvaluateCriteria, patientID, ruleID)
	b.WriteString("3. Report the overall result. FAIL outranks WARN, WARN outranks UNDETERMINED, and PASS only holds when every criterion passes.\n")
	b.WriteString("4. For every criterion that did not pass, quote its messages and name the rule they originate from.\n")
	b.WriteString("5. List recoverable results separately: these may change with more complete or more recent data.\n")
	fmt.Fprintf(&b, "6. If earlier runs exist, call %s and point out results that changed.\n", ToolPatientHistory)
	return b.String(), nil
}

type resourceFunc func() (interface{}, error)

func (s *Server) resourceHandler(fn resourceFunc) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		uri := ""
		if req != nil && req.Params != nil {
			uri = req.Params.URI
		}

		v, err := fn()
		if err != nil {
			s.logger.WithError(err).WithField("uri", uri).Warn("Resource read failed")
			return nil, err
		}
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding resource %s: %w", uri, err)
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{URI: uri, MIMEType: "application/json", Text: string(data)},
			},
		}, nil
	}
}

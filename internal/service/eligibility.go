package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/trial-eligibility-mcp-server/internal/composer"
	"github.com/trial-eligibility-mcp-server/internal/domain"
	"github.com/trial-eligibility-mcp-server/internal/history"
)

// ErrHistoryDisabled is returned by History when no history store is configured.
var ErrHistoryDisabled = errors.New("evaluation history is disabled")

const (
	defaultBatchConcurrency = 4
	defaultHistoryLimit     = 50
	maxHistoryLimit         = 500
)

// EvaluateRequest asks for one or more rules to be evaluated for one patient. The record is
// either given inline or loaded by PatientID.
type EvaluateRequest struct {
	PatientID string                `json:"patient_id,omitempty"`
	Record    *domain.PatientRecord `json:"record,omitempty"`
	RuleIDs   []domain.RuleID       `json:"rule_ids"`
}

// RuleOutcome is the evaluation of one requested rule.
type RuleOutcome struct {
	RuleID     domain.RuleID     `json:"rule_id"`
	Evaluation domain.Evaluation `json:"evaluation"`
}

// EvaluateResponse carries the outcomes of one evaluation run. Overall is the AND of every
// requested rule.
type EvaluateResponse struct {
	RunID        string            `json:"run_id"`
	PatientID    string            `json:"patient_id"`
	RulesVersion int64             `json:"rules_version"`
	EvaluatedAt  time.Time         `json:"evaluated_at"`
	Overall      domain.Evaluation `json:"overall"`
	Results      []RuleOutcome     `json:"results"`
	Duration     time.Duration     `json:"duration_ns"`
}

// BatchItem is the outcome of one request of a batch.
type BatchItem struct {
	Index    int               `json:"index"`
	Response *EvaluateResponse `json:"response,omitempty"`
	Error    string            `json:"error,omitempty"`
	Code     string            `json:"code,omitempty"`
}

// EligibilityService evaluates patient records against the loaded rules.
type EligibilityService struct {
	logger           *logrus.Logger
	engine           *composer.Engine
	records          domain.PatientRecordRepository
	history          history.Store
	batchConcurrency int
	now              func() time.Time
}

// NewEligibilityService creates a new eligibility service. records and store may be nil;
// evaluation by patient id and history are then unavailable.
func NewEligibilityService(
	logger *logrus.Logger,
	engine *composer.Engine,
	records domain.PatientRecordRepository,
	store history.Store,
	batchConcurrency int,
) *EligibilityService {
	if batchConcurrency <= 0 {
		batchConcurrency = defaultBatchConcurrency
	}
	return &EligibilityService{
		logger:           logger,
		engine:           engine,
		records:          records,
		history:          store,
		batchConcurrency: batchConcurrency,
		now:              time.Now,
	}
}

// Engine returns the rule engine backing the service.
func (s *EligibilityService) Engine() *composer.Engine {
	return s.engine
}

// Evaluate evaluates the requested rules for one patient and records the run.
func (s *EligibilityService) Evaluate(ctx context.Context, req EvaluateRequest) (*EvaluateResponse, error) {
	startTime := time.Now()

	if len(req.RuleIDs) == 0 {
		return nil, domain.NewValidationError("rule_ids", "at least one rule id is required", nil)
	}
	record, err := s.resolveRecord(ctx, req)
	if err != nil {
		return nil, err
	}

	snap := s.engine.Snapshot()
	if snap == nil {
		return nil, fmt.Errorf("%w: no rules loaded", domain.ErrUnknownRule)
	}

	resp := &EvaluateResponse{
		RunID:        uuid.New().String(),
		PatientID:    record.PatientID,
		RulesVersion: snap.Version,
		EvaluatedAt:  s.now().UTC(),
		Results:      make([]RuleOutcome, 0, len(req.RuleIDs)),
	}

	evals := make([]domain.Evaluation, 0, len(req.RuleIDs))
	for _, id := range req.RuleIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// All rules of a run use the same snapshot even if a reload happens meanwhile.
		eval, err := snap.Composer.Evaluate(record, id)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"patient_id": record.PatientID,
				"rule_id":    id,
				"error":      err.Error(),
			}).Error("Rule evaluation failed")
			return nil, fmt.Errorf("evaluating %s: %w", id, err)
		}
		evals = append(evals, eval)
		resp.Results = append(resp.Results, RuleOutcome{RuleID: id, Evaluation: eval})
	}
	resp.Overall = composer.CombineAnd(evals...)
	resp.Duration = time.Since(startTime)

	s.recordHistory(ctx, resp)

	s.logger.WithFields(logrus.Fields{
		"run_id":        resp.RunID,
		"patient_id":    resp.PatientID,
		"rules":         len(resp.Results),
		"overall":       resp.Overall.Result,
		"recoverable":   resp.Overall.Recoverable,
		"rules_version": resp.RulesVersion,
		"duration":      resp.Duration.String(),
	}).Info("Eligibility evaluation completed")

	return resp, nil
}

// EvaluateBatch evaluates requests concurrently. A failing request is reported in its item
// and does not stop the others; only cancellation of ctx fails the batch.
func (s *EligibilityService) EvaluateBatch(ctx context.Context, reqs []EvaluateRequest) ([]BatchItem, error) {
	items := make([]BatchItem, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchConcurrency)

	for i := range reqs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			items[i].Index = i
			resp, err := s.Evaluate(gctx, reqs[i])
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				items[i].Error = err.Error()
				items[i].Code = domain.ErrorCode(err)
				return nil
			}
			items[i].Response = resp
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch evaluation aborted: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"requests":    len(reqs),
		"concurrency": s.batchConcurrency,
	}).Info("Batch evaluation completed")

	return items, nil
}

// ListRules lists the rules of the active rule set.
func (s *EligibilityService) ListRules() []composer.RuleInfo {
	return s.engine.Rules()
}

// Rule returns the listing entry for one rule.
func (s *EligibilityService) Rule(id domain.RuleID) (*composer.RuleInfo, error) {
	for _, info := range s.engine.Rules() {
		if info.ID == id {
			info := info
			return &info, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnknownRule, id)
}

// Explain returns the structure of a rule.
func (s *EligibilityService) Explain(id domain.RuleID) (*composer.RuleNode, error) {
	return s.engine.Explain(id)
}

// ReloadRules re-reads the rule definitions file. The active rules stay in place when the
// file is rejected.
func (s *EligibilityService) ReloadRules() (int64, error) {
	if err := s.engine.Reload(); err != nil {
		return 0, err
	}
	return s.engine.Snapshot().Version, nil
}

// History returns the patient's recorded runs, newest first.
func (s *EligibilityService) History(ctx context.Context, patientID string, limit, offset int) ([]*history.Run, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	if patientID == "" {
		return nil, domain.NewValidationError("patient_id", "patient id is required", nil)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	runs, err := s.history.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return runs, nil
}

func (s *EligibilityService) resolveRecord(ctx context.Context, req EvaluateRequest) (*domain.PatientRecord, error) {
	if req.Record != nil {
		if req.PatientID != "" && req.Record.PatientID != req.PatientID {
			return nil, domain.NewValidationError("patient_id", "patient id does not match the record", req.PatientID)
		}
		if err := req.Record.Validate(); err != nil {
			return nil, err
		}
		return req.Record, nil
	}

	if req.PatientID == "" {
		return nil, domain.NewValidationError("record", "either a record or a patient id is required", nil)
	}
	if s.records == nil {
		return nil, domain.NewValidationError("patient_id", "no patient record store is configured, send the record inline", req.PatientID)
	}

	record, err := s.records.Get(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *EligibilityService) recordHistory(ctx context.Context, resp *EvaluateResponse) {
	if s.history == nil {
		return
	}
	for _, outcome := range resp.Results {
		run := history.NewRun(resp.RunID, resp.PatientID, outcome.RuleID, outcome.Evaluation, resp.RulesVersion, resp.EvaluatedAt)
		if err := s.history.Save(ctx, run); err != nil {
			s.logger.WithFields(logrus.Fields{
				"run_id":  resp.RunID,
				"rule_id": outcome.RuleID,
				"error":   err.Error(),
			}).Warn("Failed to record evaluation history")
		}
	}
}

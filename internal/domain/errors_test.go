package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAPIError(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		message   string
		details   string
		requestID string
	}{
		{
			name:      "Rule configuration error",
			code:      ErrCodeRuleConfig,
			message:   "Rule graph is broken",
			details:   "cycle detected at HAS_ADEQUATE_VITALS",
			requestID: "req-123",
		},
		{
			name:      "Database error",
			code:      ErrCodeDatabaseError,
			message:   "Database connection failed",
			details:   "Unable to connect to PostgreSQL",
			requestID: "req-456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewAPIError(tt.code, tt.message, tt.details, tt.requestID)

			if err.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, err.Code)
			}
			if err.Details != tt.details {
				t.Errorf("Expected details %s, got %s", tt.details, err.Details)
			}
			if time.Since(err.Timestamp) > time.Minute {
				t.Errorf("Timestamp should be recent, got %v", err.Timestamp)
			}

			expectedError := tt.code + ": " + tt.message
			if err.Error() != expectedError {
				t.Errorf("Expected error string %s, got %s", expectedError, err.Error())
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("patient_id", "patient id is required", "")

	expected := "validation error for field 'patient_id': patient id is required"
	if err.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, err.Error())
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil", nil, ""},
		{"validation", fmt.Errorf("request: %w", NewValidationError("f", "m", nil)), ErrCodeValidation},
		{"not found", fmt.Errorf("patient: %w", ErrNotFound), ErrCodeNotFound},
		{"unknown rule", fmt.Errorf("resolving: %w", ErrUnknownRule), ErrCodeRuleConfig},
		{"cycle", ErrRuleCycle, ErrCodeRuleConfig},
		{"evaluator fault", ErrEvaluatorFault, ErrCodeRuleConfig},
		{"other", errors.New("boom"), ErrCodeInternalServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

package domain

import (
	"errors"
	"fmt"
	"time"
)

// Configuration and programming errors. Clinical-data insufficiency is never reported through
// these; it is absorbed into an UNDETERMINED evaluation instead.
var (
	ErrInvalidEvaluationResult = errors.New("invalid evaluation result")
	ErrUnknownRule             = errors.New("unknown rule")
	ErrRuleCycle               = errors.New("rule cycle detected")
	ErrNonInvertibleNot        = errors.New("NOT applied to a rule that is not invertible")
	ErrInvalidRuleDefinition   = errors.New("invalid rule definition")
	ErrEvaluatorFault          = errors.New("evaluator fault")
	ErrNotFound                = errors.New("not found")
)

// APIError represents a standardized error response for the HTTP and MCP surfaces
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeDatabaseError  = "DATABASE_ERROR"
	ErrCodeExternalAPI    = "EXTERNAL_API_ERROR"
	ErrCodeRuleConfig     = "RULE_CONFIGURATION_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeRateLimit      = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalServer = "INTERNAL_SERVER_ERROR"
	ErrCodeValidation     = "VALIDATION_ERROR"
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// IsConfigurationError reports whether err stems from a broken rule graph or rule definition
// rather than from the request or the infrastructure.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrUnknownRule) ||
		errors.Is(err, ErrRuleCycle) ||
		errors.Is(err, ErrNonInvertibleNot) ||
		errors.Is(err, ErrInvalidRuleDefinition) ||
		errors.Is(err, ErrEvaluatorFault)
}

// ErrorCode maps an error onto the code used in APIError payloads.
func ErrorCode(err error) string {
	var vErr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &vErr):
		return ErrCodeValidation
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound
	case IsConfigurationError(err):
		return ErrCodeRuleConfig
	default:
		return ErrCodeInternalServer
	}
}

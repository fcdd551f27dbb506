package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeDanglingEdge      = "DANGLING_EDGE"
	ErrCodeTypeMismatch      = "TYPE_MISMATCH"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeQuota             = "QUOTA_EXHAUSTED"
	ErrCodeAuth              = "AUTH_ERROR"
	ErrCodeUnavailable       = "BACKEND_UNAVAILABLE"
	ErrCodeRetryExhausted    = "RETRY_EXHAUSTED"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeInterpolation     = "INTERPOLATION_ERROR"
	ErrCodeVault             = "VAULT_ERROR"
)

// FrescoError is the structured error type for all FRESCO operations.
type FrescoError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	EdgeID  string         `json:"edge_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FrescoError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	if e.EdgeID != "" {
		return fmt.Sprintf("[%s] edge %s: %s", e.Code, e.EdgeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FrescoError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FrescoError.
func NewError(code, message string) *FrescoError {
	return &FrescoError{Code: code, Message: message}
}

// NewErrorf creates a new FrescoError with a formatted message.
func NewErrorf(code, format string, args ...any) *FrescoError {
	return &FrescoError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *FrescoError) WithNode(nodeID string) *FrescoError {
	e.NodeID = nodeID
	return e
}

// WithEdge attaches an edge ID to the error.
func (e *FrescoError) WithEdge(edgeID string) *FrescoError {
	e.EdgeID = edgeID
	return e
}

// WithCause attaches an underlying cause.
func (e *FrescoError) WithCause(err error) *FrescoError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FrescoError) WithDetails(details map[string]any) *FrescoError {
	e.Details = details
	return e
}

// IsRetryable reports whether the error is transient: eligible for the
// dispatcher's automatic retry ladder. Quota exhaustion, timeouts, and
// temporary backend unavailability are transient; everything else is
// permanent and surfaces immediately.
func (e *FrescoError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeQuota, ErrCodeTimeout, ErrCodeUnavailable:
		return true
	default:
		return false
	}
}

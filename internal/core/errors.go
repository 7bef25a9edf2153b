package core

import "fmt"

// Error codes for the scheduler error taxonomy.
const (
	ErrCodeUnknownJobType    = "unknown_job_type"
	ErrCodeStoreUnavailable  = "store_unavailable"
	ErrCodeHandlerFailed     = "handler_failed"
	ErrCodeAttemptsExhausted = "attempts_exhausted"
	ErrCodeShutdownTimeout   = "shutdown_timeout"
	ErrCodeConflict          = "conflict"
	ErrCodeNotFound          = "not_found"
	ErrCodeInternal          = "internal_error"
)

// SchedError is the structured error type surfaced by the scheduler and its
// stores. Retryable indicates whether a retry of the same call could succeed.
type SchedError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable"`
}

func (e *SchedError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewUnknownJobTypeError reports a job type with no registered definition or
// handler. This is a programmer error and is never retried.
func NewUnknownJobTypeError(typeName string) *SchedError {
	return &SchedError{
		Code:    ErrCodeUnknownJobType,
		Message: fmt.Sprintf("No job type registered under '%s'.", typeName),
		Details: map[string]any{"job_type": typeName},
	}
}

// NewStoreUnavailableError reports that the job store could not be reached.
func NewStoreUnavailableError(cause error) *SchedError {
	return &SchedError{
		Code:      ErrCodeStoreUnavailable,
		Message:   fmt.Sprintf("Job store unreachable: %v.", cause),
		Retryable: true,
	}
}

// NewHandlerFailedError wraps an error returned (or panicked) by a job handler.
func NewHandlerFailedError(jobType string, cause error) *SchedError {
	return &SchedError{
		Code:      ErrCodeHandlerFailed,
		Message:   fmt.Sprintf("Handler for '%s' failed: %v.", jobType, cause),
		Details:   map[string]any{"job_type": jobType},
		Retryable: true,
	}
}

// NewAttemptsExhaustedError marks a job that consumed all its attempts.
func NewAttemptsExhaustedError(jobID string, attempts int) *SchedError {
	return &SchedError{
		Code:    ErrCodeAttemptsExhausted,
		Message: fmt.Sprintf("Job '%s' failed after %d attempts.", jobID, attempts),
		Details: map[string]any{"job_id": jobID, "attempts": attempts},
	}
}

// NewShutdownTimeoutError reports in-flight work outliving the drain window.
func NewShutdownTimeoutError(timeoutMs int64) *SchedError {
	return &SchedError{
		Code:    ErrCodeShutdownTimeout,
		Message: fmt.Sprintf("Shutdown forced after %dms with work still in flight.", timeoutMs),
		Details: map[string]any{"timeout_ms": timeoutMs},
	}
}

// NewConflictError reports an operation invalid for the job's current state.
func NewConflictError(message string, details map[string]any) *SchedError {
	return &SchedError{
		Code:    ErrCodeConflict,
		Message: message,
		Details: details,
	}
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(resource, id string) *SchedError {
	return &SchedError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s '%s' not found.", resource, id),
		Details: map[string]any{"resource_type": resource, "resource_id": id},
	}
}

// NewInternalError reports an unexpected internal failure.
func NewInternalError(message string) *SchedError {
	return &SchedError{
		Code:      ErrCodeInternal,
		Message:   message,
		Retryable: true,
	}
}

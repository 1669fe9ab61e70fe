package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input
	ErrCatAuth       ErrorCategory = "auth"       // Authentication failure
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatConflict   ErrorCategory = "conflict"   // Uniqueness violation
	ErrCatAdmission  ErrorCategory = "admission"  // Run rejected before start
	ErrCatExecution  ErrorCategory = "execution"  // Interpreter run failed
	ErrCatState      ErrorCategory = "state"      // Persistence/state failure
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches on Category and Code only, so call sites can compare against
// sentinel constructors without caring about the message.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{Category: ErrCatValidation, Code: code, Message: message}
}

// ErrAuth creates an authentication error.
func ErrAuth(message string) *DomainError {
	return &DomainError{Category: ErrCatAuth, Code: CodeAuthRequired, Message: message}
}

// ErrNotFound creates a not found error.
func ErrNotFound(code, resource, id string) *DomainError {
	return &DomainError{
		Category: ErrCatNotFound,
		Code:     code,
		Message:  fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// ErrConflict creates a conflict error.
func ErrConflict(code, message string) *DomainError {
	return &DomainError{Category: ErrCatConflict, Code: code, Message: message}
}

// ErrAdmission creates an admission rejection.
func ErrAdmission(code, message string) *DomainError {
	return &DomainError{Category: ErrCatAdmission, Code: code, Message: message}
}

// ErrExecution creates an execution error.
func ErrExecution(code, message string) *DomainError {
	return &DomainError{Category: ErrCatExecution, Code: code, Message: message}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{Category: ErrCatState, Code: code, Message: message}
}

// GetCategory extracts the error category, defaulting to internal.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes
const (
	CodeAuthRequired       = "AUTH_REQUIRED"
	CodeAgentNotFound      = "AGENT_NOT_FOUND"
	CodeWorkflowMissing    = "WORKFLOW_MISSING"
	CodeShuttingDown       = "SHUTTING_DOWN"
	CodeConcurrencyLimit   = "CONCURRENCY_LIMIT"
	CodeDailyQuotaExceeded = "DAILY_QUOTA_EXCEEDED"
	CodeProtocolError      = "PROTOCOL_ERROR"
	CodeInterpreterFailed  = "INTERPRETER_FAILED"
	CodeScheduleExists     = "SCHEDULE_EXISTS"
	CodeScheduleNotFound   = "SCHEDULE_NOT_FOUND"
	CodeFileInputSchedule  = "FILE_INPUT_SCHEDULE"
	CodeInvalidCron        = "INVALID_CRON"
	CodeInvalidTimezone    = "INVALID_TIMEZONE"
	CodeExecutionNotFound  = "EXECUTION_NOT_FOUND"
)

// Client-facing messages for admission rejections. The drain message suggests
// a retry because in-flight work is still allowed to finish.
const (
	MsgShuttingDown  = "server is shutting down, please retry shortly"
	MsgQuotaExceeded = "daily execution quota exceeded"
	MsgConcurrency   = "too many concurrent executions, wait for one to finish"
)

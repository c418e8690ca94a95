package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a namespaced error code for planning engine errors.
type ErrorCode string

// Validation error codes. These are detected before execution begins and are
// fatal to plan creation.
const (
	CIRCULAR_DEPENDENCY ErrorCode = "CIRCULAR_DEPENDENCY"
	UNKNOWN_DEPENDENCY  ErrorCode = "UNKNOWN_DEPENDENCY"
	DEADLINE_EXCEEDED   ErrorCode = "DEADLINE_EXCEEDED"
	INVALID_GOAL        ErrorCode = "INVALID_GOAL"
	INVALID_SCHEDULE    ErrorCode = "INVALID_SCHEDULE"
)

// Execution error codes.
const (
	DEPENDENCIES_NOT_SATISFIED ErrorCode = "DEPENDENCIES_NOT_SATISFIED"
	STEP_EXECUTION_FAILED      ErrorCode = "STEP_EXECUTION_FAILED"
	RETRIES_EXHAUSTED          ErrorCode = "RETRIES_EXHAUSTED"
	INVALID_STATUS             ErrorCode = "INVALID_STATUS"
	EXECUTION_CANCELLED        ErrorCode = "EXECUTION_CANCELLED"
)

// Persistence error codes.
const (
	PLAN_NOT_FOUND       ErrorCode = "PLAN_NOT_FOUND"
	CHECKPOINT_NOT_FOUND ErrorCode = "CHECKPOINT_NOT_FOUND"
	STORE_OPEN_FAILED    ErrorCode = "STORE_OPEN_FAILED"
	STORE_SAVE_FAILED    ErrorCode = "STORE_SAVE_FAILED"
	STORE_LOAD_FAILED    ErrorCode = "STORE_LOAD_FAILED"
)

// Temporal error codes.
const (
	TIME_PARSE_FAILED ErrorCode = "TIME_PARSE_FAILED"
)

// Configuration error codes.
const (
	CONFIG_LOAD_FAILED ErrorCode = "CONFIG_LOAD_FAILED"
	CONFIG_INVALID     ErrorCode = "CONFIG_INVALID"
)

// EngineError is a structured error with a code, message, and optional cause.
// It supports error wrapping and carries a retryability hint so callers can
// distinguish transient failures from fatal ones.
type EngineError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

// Error returns "[CODE] message" or "[CODE] message: cause" if a cause exists.
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/errors.As chains.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is matches two EngineErrors by code.
func (e *EngineError) Is(target error) bool {
	var engineErr *EngineError
	if errors.As(target, &engineErr) {
		return e.Code == engineErr.Code
	}
	return false
}

// NewError creates a non-retryable EngineError.
func NewError(code ErrorCode, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// NewRetryableError creates a retryable EngineError for transient failures.
func NewRetryableError(code ErrorCode, message string) *EngineError {
	return &EngineError{Code: code, Message: message, Retryable: true}
}

// WrapError creates a non-retryable EngineError wrapping an existing error.
func WrapError(code ErrorCode, message string, cause error) *EngineError {
	return &EngineError{Code: code, Message: message, Cause: cause}
}

// IsRetryable reports whether err or any error in its chain is a retryable
// EngineError.
func IsRetryable(err error) bool {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Retryable
	}
	return false
}

// CodeOf extracts the ErrorCode from err's chain, or "" if err is not an
// EngineError.
func CodeOf(err error) ErrorCode {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Code
	}
	return ""
}

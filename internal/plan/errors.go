package plan

import (
	"errors"
	"fmt"
)

// PlanErrorCode represents the kind of error surfaced by plan execution.
type PlanErrorCode string

const (
	ErrPlanNotRunnable          PlanErrorCode = "plan_not_runnable"
	ErrDependenciesNotSatisfied PlanErrorCode = "dependencies_not_satisfied"
	ErrStepExecutionFailed      PlanErrorCode = "step_execution_failed"
	ErrRetriesExhausted         PlanErrorCode = "retries_exhausted"
	ErrExecutionCancelled       PlanErrorCode = "execution_cancelled"
	ErrResumeFailed             PlanErrorCode = "resume_failed"
	ErrPlanAlreadyTerminal      PlanErrorCode = "plan_already_terminal"
	ErrCheckpointUnavailable    PlanErrorCode = "checkpoint_unavailable"
)

// PlanError is an error surfaced by the executor, carrying the failing step
// when one is implicated.
type PlanError struct {
	Code    PlanErrorCode `json:"code"`
	Message string        `json:"message"`
	StepID  string        `json:"step_id,omitempty"`
	Cause   error         `json:"-"`
}

// Error implements the error interface.
func (e *PlanError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.StepID != "" {
		msg = fmt.Sprintf("%s (step %s)", msg, e.StepID)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *PlanError) Unwrap() error {
	return e.Cause
}

// Is matches two PlanErrors by code.
func (e *PlanError) Is(target error) bool {
	var planErr *PlanError
	if errors.As(target, &planErr) {
		return e.Code == planErr.Code
	}
	return false
}

// NewPlanError creates a PlanError with the given code, message, and cause.
func NewPlanError(code PlanErrorCode, message string, cause error) *PlanError {
	return &PlanError{Code: code, Message: message, Cause: cause}
}

// WithStep attaches the failing step id and returns the error.
func (e *PlanError) WithStep(stepID string) *PlanError {
	e.StepID = stepID
	return e
}

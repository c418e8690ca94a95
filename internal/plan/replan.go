package plan

import (
	"errors"
	"fmt"
	"strings"
)

// FailureKind classifies a step execution failure for recovery purposes.
// Executors that can report structured failures should return an ExecError;
// plain errors fall back to a message-substring heuristic.
type FailureKind string

const (
	// FailureTimeout marks failures recoverable by relaxing the step's
	// timing: the estimated duration is multiplied by 1.5 and the step is
	// retried.
	FailureTimeout FailureKind = "timeout"

	// FailureUnavailable marks failures recoverable by switching to the
	// next entry in the step's alternatives list, if any remain.
	FailureUnavailable FailureKind = "unavailable"

	// FailureFatal marks failures no retry can recover from. The retry
	// loop stops immediately.
	FailureFatal FailureKind = "fatal"

	// FailureUnknown marks unclassified failures. The step is retried
	// without adjustment.
	FailureUnknown FailureKind = "unknown"
)

// ExecError is a structured step failure an executor can return to control
// recovery directly, instead of relying on the message heuristic.
type ExecError struct {
	Kind    FailureKind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ExecError) Unwrap() error {
	return e.Cause
}

// Classify determines the failure kind of a step error. A wrapped ExecError
// wins; otherwise the error message is inspected for timeout and
// availability markers.
func Classify(err error) FailureKind {
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "time"):
		return FailureTimeout
	case strings.Contains(msg, "not found") || strings.Contains(msg, "unavailable"):
		return FailureUnavailable
	default:
		return FailureUnknown
	}
}

// replan adjusts a step in place according to the failure kind, without
// rebuilding the whole plan. It reports whether an adjustment was made and a
// short description for logging and events.
func replan(step *Step, kind FailureKind) (bool, string) {
	switch kind {
	case FailureTimeout:
		// Relax timing: multiply the estimate by 1.5.
		step.EstimatedDuration += step.EstimatedDuration / 2
		return true, fmt.Sprintf("relaxed duration to %dms", step.EstimatedDuration)
	case FailureUnavailable:
		if len(step.Alternatives) == 0 {
			return false, "no alternative actions remain"
		}
		next := step.Alternatives[0]
		step.Alternatives = step.Alternatives[1:]
		step.Action = next
		return true, fmt.Sprintf("switched to alternative action %q", next)
	default:
		return false, ""
	}
}

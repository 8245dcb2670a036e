package workflow

import (
	"errors"
	"fmt"
)

// ErrValidation matches every *ValidationError with errors.Is.
var ErrValidation = errors.New("validation failed")

// Reason classifies a validation failure.
type Reason string

const (
	ReasonNotFound           Reason = "not_found"
	ReasonTerminal           Reason = "already_terminal"
	ReasonNotAssigned        Reason = "not_assigned"
	ReasonUnknownAction      Reason = "unknown_action"
	ReasonMissingRemarks     Reason = "missing_remarks"
	ReasonInvalidTransition  Reason = "invalid_transition"
	ReasonUnauthorized       Reason = "unauthorized_action"
	ReasonMissingArtifact    Reason = "missing_artifact"
	ReasonMissingAssignee    Reason = "missing_assignee"
	ReasonUnknownAssignee    Reason = "unknown_assignee"
	ReasonSelfAssignment     Reason = "self_assignment"
	ReasonUnexpectedAssignee Reason = "unexpected_assignee"
)

// ValidationError is returned before any state is touched when a submitted
// action cannot be accepted.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(reason Reason, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// ReasonOf returns the validation reason carried by err, or "".
func ReasonOf(err error) Reason {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}

// ConflictError reports that the application changed between load and
// commit. The caller may retry; the engine does not.
type ConflictError struct {
	ApplicationID string
	Err           error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("application %s was modified concurrently: %v", e.ApplicationID, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

package workflow

import (
	"errors"
	"fmt"

	"github.com/merchplan/approvals/pkg/registry"
)

var (
	// ErrUnknownWorkflowType is returned when the requested type has no definition.
	ErrUnknownWorkflowType = registry.ErrUnknownWorkflowType

	// ErrNotFound is returned when the workflow or the step does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when the action is not legal in the current status.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidInput is returned for malformed caller input.
	ErrInvalidInput = errors.New("invalid input")
)

// Reasons carried by ActionError, stable enough for clients to branch on.
const (
	ReasonWorkflowNotFound  = "workflow not found"
	ReasonStepNotFound      = "step not found"
	ReasonAlreadyConcluded  = "workflow already concluded"
	ReasonNotActiveStep     = "step is not the active step"
	ReasonStepNotSkippable  = "step cannot be skipped"
	ReasonInvalidAction     = "invalid action"
	ReasonInvalidSLA        = "sla hours must be positive"
	ReasonMissingReference  = "reference id and type are required"
	ReasonMissingInitiator  = "initiated by is required"
	ReasonMissingActor      = "action by is required"
	ReasonMissingUserOrRole = "user id or role is required"
)

// ActionError describes why an engine operation refused to act.
type ActionError struct {
	Op         string // Operation name
	WorkflowID string
	StepNumber int
	Reason     string // Human-readable, one of the Reason constants
	Err        error  // ErrNotFound, ErrInvalidState or ErrInvalidInput
}

func (e *ActionError) Error() string {
	switch {
	case e.StepNumber > 0:
		return fmt.Sprintf("%s workflow %s step %d: %s", e.Op, e.WorkflowID, e.StepNumber, e.Reason)
	case e.WorkflowID != "":
		return fmt.Sprintf("%s workflow %s: %s", e.Op, e.WorkflowID, e.Reason)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

func (e *ActionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func notFound(op, workflowID string, stepNumber int, reason string) *ActionError {
	return &ActionError{Op: op, WorkflowID: workflowID, StepNumber: stepNumber, Reason: reason, Err: ErrNotFound}
}

func invalidState(op, workflowID string, stepNumber int, reason string) *ActionError {
	return &ActionError{Op: op, WorkflowID: workflowID, StepNumber: stepNumber, Reason: reason, Err: ErrInvalidState}
}

func invalidInput(op, workflowID string, stepNumber int, reason string) *ActionError {
	return &ActionError{Op: op, WorkflowID: workflowID, StepNumber: stepNumber, Reason: reason, Err: ErrInvalidInput}
}

// Reason extracts the reason string of an ActionError anywhere in err's chain.
func Reason(err error) (string, bool) {
	var actionErr *ActionError
	if errors.As(err, &actionErr) {
		return actionErr.Reason, true
	}

	return "", false
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrStepNotFound indicates the workflow has no step with the given number.
	ErrStepNotFound = errors.New("step not found")

	// ErrWorkflowAlreadyExists indicates a workflow with the same identifier already exists.
	ErrWorkflowAlreadyExists = errors.New("workflow already exists")

	// ErrConcurrentModification indicates a transition lost a compare-and-set race.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "GetByID", "ApplyTransition")
	WorkflowID string // Workflow ID if applicable
	StepNumber int    // Step number if applicable
	Err        error  // Underlying error
}

func (e *WorkflowError) Error() string {
	if e.StepNumber > 0 {
		return fmt.Sprintf("%s operation failed for workflow %s step %d: %v", e.Op, e.WorkflowID, e.StepNumber, e.Err)
	}

	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for workflow errors.
func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// NewStepError creates a new workflow error scoped to one step.
func NewStepError(op, workflowID string, stepNumber int, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		WorkflowID: workflowID,
		StepNumber: stepNumber,
		Err:        err,
	}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsStepNotFound checks if an error indicates a step was not found.
func IsStepNotFound(err error) bool {
	return errors.Is(err, ErrStepNotFound)
}

// IsConcurrentModification checks if an error indicates a lost compare-and-set.
func IsConcurrentModification(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// Package persistence provides the durable store abstraction for approval workflows.
package persistence

import (
	"context"
	"time"

	"github.com/merchplan/approvals/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow instances and their steps.
type WorkflowRepository interface {
	// Create persists the instance and all of its steps as one unit.
	Create(ctx context.Context, workflow *models.WorkflowInstance, steps []*models.WorkflowStep) error

	// GetByID returns the instance without steps, or ErrWorkflowNotFound.
	GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error)

	// GetByReference returns every instance guarding the entity, newest first.
	GetByReference(ctx context.Context, referenceType, referenceID string) ([]*models.WorkflowInstance, error)

	// Steps returns the instance's steps ordered by step number.
	Steps(ctx context.Context, workflowID string) ([]*models.WorkflowStep, error)

	// Step returns a single step, or ErrStepNotFound.
	Step(ctx context.Context, workflowID string, stepNumber int) (*models.WorkflowStep, error)

	// ApplyTransition atomically records a decision on the active step and
	// moves the instance forward. See Transition for the preconditions.
	ApplyTransition(ctx context.Context, transition Transition) error

	// MarkSLABreached flips sla_breached from false to true on an in-progress
	// instance. It reports whether this call performed the flip.
	MarkSLABreached(ctx context.Context, workflowID string, at time.Time) (bool, error)

	// ListOverdue returns in-progress, not yet flagged instances whose SLA deadline is before now.
	ListOverdue(ctx context.Context, now time.Time) ([]*models.WorkflowInstance, error)

	// ListStepsDueBetween returns in-progress steps with from < due_at <= to.
	ListStepsDueBetween(ctx context.Context, from, to time.Time) ([]*models.WorkflowStep, error)

	// ListPending returns in-progress workflows whose active step is assigned
	// to userID or requires role.
	ListPending(ctx context.Context, userID, role string) ([]*models.PendingWorkflow, error)
}

// Transition is the atomic unit written when a step is decided.
//
// Preconditions, all checked inside the same write:
//   - step StepNumber of WorkflowID is IN_PROGRESS
//   - the instance is IN_PROGRESS with current_step == StepNumber
//   - when NextStep is set, that step is PENDING
//
// If any of them does not hold nothing is written and
// ErrConcurrentModification is returned.
type Transition struct {
	WorkflowID string
	StepNumber int

	StepStatus models.StepStatus
	ActionBy   string
	ActionAt   time.Time
	Comment    *string

	// WorkflowStatus is IN_PROGRESS when advancing, APPROVED/REJECTED when concluding.
	WorkflowStatus models.WorkflowStatus
	CompletedAt    *time.Time

	NextStep  *int
	NextDueAt *time.Time
}

// CurrentStep is the instance's current_step after the transition.
func (t Transition) CurrentStep() int {
	if t.NextStep != nil {
		return *t.NextStep
	}

	return t.StepNumber
}

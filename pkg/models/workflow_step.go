package models

import "time"

type StepStatus string

const (
	StepStatusPending    StepStatus = "PENDING"
	StepStatusInProgress StepStatus = "IN_PROGRESS"
	StepStatusApproved   StepStatus = "APPROVED"
	StepStatusRejected   StepStatus = "REJECTED"
	StepStatusSkipped    StepStatus = "SKIPPED"
)

// IsTerminal reports whether the step has been decided.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusApproved || s == StepStatusRejected || s == StepStatusSkipped
}

// WorkflowStep is one role-gated approval gate within a workflow instance.
type WorkflowStep struct {
	ID             string     `json:"id"`
	WorkflowID     string     `json:"workflow_id"`
	StepNumber     int        `json:"step_number"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Status         StepStatus `json:"status"`
	RequiredRole   *string    `json:"required_role,omitempty"`
	AssignedUserID *string    `json:"assigned_user_id,omitempty"`
	SLAHours       *int       `json:"sla_hours,omitempty"`
	Skippable      bool       `json:"skippable"`
	DueAt          *time.Time `json:"due_at,omitempty"`
	ActionBy       *string    `json:"action_by,omitempty"`
	ActionAt       *time.Time `json:"action_at,omitempty"`
	ActionComment  *string    `json:"action_comment,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Action is a decision taken on the active step.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionSkip    Action = "skip"
)

// StepStatus maps the action to the terminal status of the acted step.
func (a Action) StepStatus() (StepStatus, bool) {
	switch a {
	case ActionApprove:
		return StepStatusApproved, true
	case ActionReject:
		return StepStatusRejected, true
	case ActionSkip:
		return StepStatusSkipped, true
	default:
		return "", false
	}
}

// ActionOutcome describes what a processed action did to the workflow.
type ActionOutcome string

const (
	OutcomeMovedToNext ActionOutcome = "moved_to_next"
	OutcomeCompleted   ActionOutcome = "completed"
	OutcomeRejected    ActionOutcome = "rejected"
)

// ActionResult is returned by the engine after a successful action.
type ActionResult struct {
	Status   ActionOutcome     `json:"status"`
	NextStep *int              `json:"next_step,omitempty"`
	Workflow *WorkflowInstance `json:"workflow"`
}

// Package models defines the core domain models for multi-step approval workflows
package models

import "time"

// WorkflowType identifies a workflow definition in the registry.
type WorkflowType string

const (
	WorkflowTypeBudgetApproval WorkflowType = "BUDGET_APPROVAL"
	WorkflowTypeOTBApproval    WorkflowType = "OTB_APPROVAL"
	WorkflowTypeSKUProposal    WorkflowType = "SKU_PROPOSAL_APPROVAL"
)

// WorkflowStatus represents the lifecycle state of a workflow instance.
type WorkflowStatus string

const (
	WorkflowStatusInProgress WorkflowStatus = "IN_PROGRESS"
	WorkflowStatusApproved   WorkflowStatus = "APPROVED" // terminal
	WorkflowStatusRejected   WorkflowStatus = "REJECTED" // terminal
)

// IsTerminal reports whether no further transitions can happen.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusApproved || s == WorkflowStatusRejected
}

// WorkflowInstance is one run of an approval chain guarding one business entity.
type WorkflowInstance struct {
	ID            string          `json:"id"`
	Type          WorkflowType    `json:"type"`
	ReferenceID   string          `json:"reference_id"`
	ReferenceType string          `json:"reference_type"`
	Status        WorkflowStatus  `json:"status"`
	CurrentStep   int             `json:"current_step"`
	TotalSteps    int             `json:"total_steps"`
	InitiatedBy   string          `json:"initiated_by"`
	SLADeadline   *time.Time      `json:"sla_deadline,omitempty"`
	SLABreached   bool            `json:"sla_breached"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Steps         []*WorkflowStep `json:"steps,omitempty"`
}

// ActiveStep returns the step currently IN_PROGRESS, or nil when none is loaded.
func (w *WorkflowInstance) ActiveStep() *WorkflowStep {
	for _, step := range w.Steps {
		if step.Status == StepStatusInProgress {
			return step
		}
	}

	return nil
}

// PendingWorkflow pairs an in-progress workflow with the step awaiting action.
type PendingWorkflow struct {
	Workflow   *WorkflowInstance `json:"workflow"`
	ActiveStep *WorkflowStep     `json:"active_step"`
}

// Package web provides HTTP request and response types for the approvals API.
package web

import (
	"github.com/merchplan/approvals/pkg/models"
	"github.com/merchplan/approvals/pkg/workflow"
)

// CreateWorkflowRequest represents the request body for starting a workflow.
type CreateWorkflowRequest struct {
	Type          string `json:"type"                validate:"required"`
	ReferenceID   string `json:"reference_id"        validate:"required"`
	ReferenceType string `json:"reference_type"      validate:"required"`
	InitiatedBy   string `json:"initiated_by"        validate:"required"`
	SLAHours      *int   `json:"sla_hours,omitempty" validate:"omitempty,gt=0"`
}

func (r CreateWorkflowRequest) toEngine() workflow.CreateRequest {
	return workflow.CreateRequest{
		Type:          models.WorkflowType(r.Type),
		ReferenceID:   r.ReferenceID,
		ReferenceType: r.ReferenceType,
		InitiatedBy:   r.InitiatedBy,
		SLAHours:      r.SLAHours,
	}
}

// ActionRequest represents the request body for acting on a step.
type ActionRequest struct {
	Action   string  `json:"action"            validate:"required,oneof=approve reject skip"`
	ActionBy string  `json:"action_by"         validate:"required"`
	Comment  *string `json:"comment,omitempty" validate:"omitempty,max=2000"`
}

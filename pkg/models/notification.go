package models

import "time"

type NotificationType string

const (
	NotificationActionRequired   NotificationType = "WORKFLOW_ACTION_REQUIRED"
	NotificationWorkflowApproved NotificationType = "WORKFLOW_APPROVED"
	NotificationWorkflowRejected NotificationType = "WORKFLOW_REJECTED"
	NotificationSLABreached      NotificationType = "SLA_BREACHED"
	NotificationSLAWarning       NotificationType = "SLA_WARNING"
)

type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Notification is a user-facing alert handed to the notification sink.
type Notification struct {
	UserID       string           `json:"user_id"`
	Type         NotificationType `json:"type"`
	Title        string           `json:"title"`
	Message      string           `json:"message"`
	ReferenceURL string           `json:"reference_url"`
	Priority     Priority         `json:"priority"`
	CreatedAt    time.Time        `json:"created_at"`
}

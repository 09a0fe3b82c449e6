// Package events defines the messages the approval engine publishes to its collaborators.
package events

import (
	"time"

	"github.com/merchplan/approvals/pkg/models"
)

type EventType string

// Topic carries every approval event; consumers filter on the event type metadata.
const Topic = "approvals.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	NotificationEnqueuedEvent EventType = "notification.enqueued"
	EntityStatusChangedEvent  EventType = "entity.status.changed"
)

// Outcome is the terminal result a workflow projects onto its guarded entity.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id,omitempty"`
}

// NotificationEnqueued asks the delivery side to send a user-facing alert.
type NotificationEnqueued struct {
	BaseEvent

	Notification models.Notification `json:"notification"`
}

func (n NotificationEnqueued) GetType() EventType {
	return NotificationEnqueuedEvent
}

// EntityStatusChanged tells the owner of the guarded entity how its workflow ended.
type EntityStatusChanged struct {
	BaseEvent

	ReferenceType string  `json:"reference_type"`
	ReferenceID   string  `json:"reference_id"`
	Outcome       Outcome `json:"outcome"`
}

func (e EntityStatusChanged) GetType() EventType {
	return EntityStatusChangedEvent
}

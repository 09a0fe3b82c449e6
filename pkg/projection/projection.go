// Package projection applies a finished workflow's outcome to the business entity it guards.
package projection

import (
	"context"
	"fmt"
	"time"

	"github.com/merchplan/approvals/pkg/eventbus"
	"github.com/merchplan/approvals/pkg/events"
)

// Projector is told once per workflow when it reaches a terminal status.
type Projector interface {
	OnApproved(ctx context.Context, referenceType, referenceID string) error
	OnRejected(ctx context.Context, referenceType, referenceID string) error
}

// Funcs adapts plain functions to a Projector. Nil functions are no-ops.
type Funcs struct {
	Approved func(ctx context.Context, referenceType, referenceID string) error
	Rejected func(ctx context.Context, referenceType, referenceID string) error
}

func (f Funcs) OnApproved(ctx context.Context, referenceType, referenceID string) error {
	if f.Approved == nil {
		return nil
	}

	return f.Approved(ctx, referenceType, referenceID)
}

func (f Funcs) OnRejected(ctx context.Context, referenceType, referenceID string) error {
	if f.Rejected == nil {
		return nil
	}

	return f.Rejected(ctx, referenceType, referenceID)
}

// EventBusProjector publishes entity.status.changed so the owning service can update the entity.
type EventBusProjector struct {
	bus eventbus.EventBus
	now func() time.Time
}

// NewEventBusProjector stamps events with now, or the wall clock when now is nil.
func NewEventBusProjector(bus eventbus.EventBus, now func() time.Time) *EventBusProjector {
	if now == nil {
		now = time.Now
	}

	return &EventBusProjector{bus: bus, now: now}
}

func (p *EventBusProjector) OnApproved(ctx context.Context, referenceType, referenceID string) error {
	return p.publish(ctx, referenceType, referenceID, events.OutcomeApproved)
}

func (p *EventBusProjector) OnRejected(ctx context.Context, referenceType, referenceID string) error {
	return p.publish(ctx, referenceType, referenceID, events.OutcomeRejected)
}

func (p *EventBusProjector) publish(ctx context.Context, referenceType, referenceID string, outcome events.Outcome) error {
	event := events.EntityStatusChanged{
		BaseEvent: events.BaseEvent{
			ID:        p.bus.GenerateID(),
			Type:      events.EntityStatusChangedEvent,
			Timestamp: p.now(),
		},
		ReferenceType: referenceType,
		ReferenceID:   referenceID,
		Outcome:       outcome,
	}

	err := p.bus.Publish(ctx, referenceType+":"+referenceID, event)
	if err != nil {
		return fmt.Errorf("failed to project %s onto %s %s: %w", outcome, referenceType, referenceID, err)
	}

	return nil
}

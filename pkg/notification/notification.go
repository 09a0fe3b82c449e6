// Package notification provides the sinks the engine hands user-facing alerts to.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/merchplan/approvals/pkg/eventbus"
	"github.com/merchplan/approvals/pkg/events"
	"github.com/merchplan/approvals/pkg/models"
)

// Sink enqueues a notification for delivery. Enqueue must not block on delivery itself.
type Sink interface {
	Enqueue(ctx context.Context, notification *models.Notification) error
}

// EventBusSink publishes every notification as a notification.enqueued event keyed by user.
type EventBusSink struct {
	bus eventbus.EventPublisher
	ids func() string
}

func NewEventBusSink(bus eventbus.EventBus) *EventBusSink {
	return &EventBusSink{bus: bus, ids: bus.GenerateID}
}

func (s *EventBusSink) Enqueue(ctx context.Context, notification *models.Notification) error {
	event := events.NotificationEnqueued{
		BaseEvent: events.BaseEvent{
			ID:        s.ids(),
			Type:      events.NotificationEnqueuedEvent,
			Timestamp: notification.CreatedAt,
		},
		Notification: *notification,
	}

	err := s.bus.Publish(ctx, notification.UserID, event)
	if err != nil {
		return fmt.Errorf("failed to enqueue notification for %s: %w", notification.UserID, err)
	}

	return nil
}

// LogSink writes notifications to the log. Useful when no delivery service is wired.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Enqueue(ctx context.Context, notification *models.Notification) error {
	s.logger.InfoContext(ctx, "Notification enqueued",
		"user_id", notification.UserID,
		"type", notification.Type,
		"priority", notification.Priority,
		"title", notification.Title,
		"reference_url", notification.ReferenceURL,
	)

	return nil
}

// Recorder keeps notifications in memory.
type Recorder struct {
	mu            sync.Mutex
	notifications []models.Notification
	err           error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Enqueue(_ context.Context, notification *models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}

	r.notifications = append(r.notifications, *notification)

	return nil
}

// FailWith makes subsequent Enqueue calls return err. A nil err restores normal behaviour.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.err = err
}

// Notifications returns a copy of everything recorded so far.
func (r *Recorder) Notifications() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.notifications)
}

// ByType returns the recorded notifications of one type.
func (r *Recorder) ByType(notificationType models.NotificationType) []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	matching := make([]models.Notification, 0)

	for _, n := range r.notifications {
		if n.Type == notificationType {
			matching = append(matching, n)
		}
	}

	return matching
}

// Reset forgets everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.notifications = nil
}

package projection_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/merchplan/approvals/pkg/channels/gochannel"
	"github.com/merchplan/approvals/pkg/eventbus"
	"github.com/merchplan/approvals/pkg/events"
	"github.com/merchplan/approvals/pkg/mocks"
	"github.com/merchplan/approvals/pkg/projection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestFuncs(t *testing.T) {
	var approved, rejected []string

	p := projection.Funcs{
		Approved: func(_ context.Context, referenceType, referenceID string) error {
			approved = append(approved, referenceType+"/"+referenceID)

			return nil
		},
		Rejected: func(_ context.Context, referenceType, referenceID string) error {
			rejected = append(rejected, referenceType+"/"+referenceID)

			return nil
		},
	}

	require.NoError(t, p.OnApproved(t.Context(), "budget", "B-1"))
	require.NoError(t, p.OnRejected(t.Context(), "otb", "O-7"))

	assert.Equal(t, []string{"budget/B-1"}, approved)
	assert.Equal(t, []string{"otb/O-7"}, rejected)

	assert.NoError(t, projection.Funcs{}.OnApproved(t.Context(), "budget", "B-1"))
}

func TestEventBusProjector(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(logger, pub, sub)
	defer bus.Close()

	received := make(chan *events.EntityStatusChanged, 2)

	require.NoError(t, bus.Handle(events.EntityStatusChangedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.EntityStatusChanged)

		return nil
	}))
	require.NoError(t, bus.Subscribe(t.Context()))

	now := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	p := projection.NewEventBusProjector(bus, func() time.Time { return now })

	require.NoError(t, p.OnApproved(t.Context(), "sku_proposal", "S-3"))

	select {
	case event := <-received:
		assert.Equal(t, "sku_proposal", event.ReferenceType)
		assert.Equal(t, "S-3", event.ReferenceID)
		assert.Equal(t, events.OutcomeApproved, event.Outcome)
		assert.True(t, event.Timestamp.Equal(now))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for entity status event")
	}
}

func TestEventBusProjector_PublishFailure(t *testing.T) {
	bus := &mocks.MockEventBus{}
	defer bus.AssertExpectations(t)

	boom := errors.New("broker unavailable")

	bus.On("GenerateID").Return("evt-1")
	bus.On("Publish", mock.Anything, "budget:B-9", mock.MatchedBy(func(event eventbus.Event) bool {
		changed, ok := event.(events.EntityStatusChanged)

		return ok && changed.Outcome == events.OutcomeRejected && changed.ID == "evt-1"
	})).Return(boom)

	err := projection.NewEventBusProjector(bus, nil).OnRejected(t.Context(), "budget", "B-9")
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "budget B-9")
}

package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/merchplan/approvals/pkg/channels/gochannel"
	"github.com/merchplan/approvals/pkg/channels/kafka"
	"github.com/merchplan/approvals/pkg/eventbus"
)

// NewEventBus builds the event bus for provider. Kafka brokers come from a
// comma separated list.
func NewEventBus(provider, brokers string, logger *slog.Logger) (eventbus.EventBus, error) {
	adapter := watermill.NewSlogLogger(logger)

	switch provider {
	case "", "gochannel":
		pub, sub, err := gochannel.CreateChannel(adapter)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-process pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(adapter, kafka.ParseBrokers(brokers), "approvals")
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}

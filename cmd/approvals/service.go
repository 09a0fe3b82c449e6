package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/merchplan/approvals/pkg/cmd"
	"github.com/merchplan/approvals/pkg/eventbus"
	"github.com/merchplan/approvals/pkg/events"
	"github.com/merchplan/approvals/pkg/log"
	"github.com/merchplan/approvals/pkg/metrics"
	"github.com/merchplan/approvals/pkg/notification"
	"github.com/merchplan/approvals/pkg/otelhelper"
	"github.com/merchplan/approvals/pkg/persistence"
	"github.com/merchplan/approvals/pkg/projection"
	"github.com/merchplan/approvals/pkg/sla"
	"github.com/merchplan/approvals/pkg/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "approvals"

// newTracer is swapped out in tests.
var newTracer = otelhelper.NewTracer

// service holds everything the engine and the monitor run on.
type service struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	engine      *workflow.Engine
	monitor     *sla.Monitor
	gatherer    prometheus.Gatherer
	shutdown    otelhelper.ShutdownFunc
}

func newService(ctx context.Context, command *cli.Command, module string) (*service, error) {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule(module)

	databaseURL := command.String("database-url")
	if databaseURL == "" {
		return nil, errors.New("--database-url or DATABASE_URL is required")
	}

	registry, err := cmd.NewRegistry(command.String("definitions"))
	if err != nil {
		return nil, err
	}

	resolver, err := cmd.NewDirectory(command.String("directory"), command.Duration("directory-ttl"))
	if err != nil {
		return nil, err
	}

	tracer := otelhelper.NoopTracer()
	shutdown := otelhelper.ShutdownFunc(func(context.Context) error { return nil })

	if command.Bool("tracing") {
		var t trace.Tracer

		t, shutdown, err = newTracer(ctx, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}

		tracer = t
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collectorSet := metrics.New(reg)

	store, err := cmd.NewPersistence(ctx, logger, databaseURL)
	if err != nil {
		return nil, errors.Join(err, shutdown(ctx))
	}

	provider := command.String("event-bus")

	bus, err := cmd.NewEventBus(provider, command.String("kafka-brokers"), logger)
	if err != nil {
		return nil, errors.Join(err, store.Close(ctx), shutdown(ctx))
	}

	if provider == "" || provider == "gochannel" {
		// Nothing outside this process can consume an in-process bus, so log what would be delivered.
		if err := logLocalEvents(ctx, bus, logger); err != nil {
			return nil, errors.Join(err, bus.Close(), store.Close(ctx), shutdown(ctx))
		}
	}

	sink := notification.NewEventBusSink(bus)
	repo := store.WorkflowRepository()

	engine := workflow.NewEngine(
		repo,
		registry,
		sink,
		resolver,
		projection.NewEventBusProjector(bus, nil),
		workflow.WithLogger(log.WithModule("engine")),
		workflow.WithTracer(tracer),
		workflow.WithMetrics(collectorSet),
	)

	monitor := sla.NewMonitor(
		repo,
		sink,
		resolver,
		sla.WithWarningWindow(command.Duration("sla-warning-window")),
		sla.WithLogger(log.WithModule("sla")),
		sla.WithTracer(tracer),
		sla.WithMetrics(collectorSet),
	)

	return &service{
		logger:      logger,
		persistence: store,
		eventBus:    bus,
		engine:      engine,
		monitor:     monitor,
		gatherer:    reg,
		shutdown:    shutdown,
	}, nil
}

func (s *service) Close(ctx context.Context) {
	if err := s.eventBus.Close(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
	}

	if err := s.persistence.Close(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
	}

	if err := s.shutdown(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
	}
}

func logLocalEvents(ctx context.Context, bus eventbus.EventBus, logger *slog.Logger) error {
	sink := notification.NewLogSink(logger)

	err := bus.Handle(events.NotificationEnqueuedEvent, func(ctx context.Context, event any) error {
		enqueued, ok := event.(*events.NotificationEnqueued)
		if !ok {
			return fmt.Errorf("unexpected event %T", event)
		}

		return sink.Enqueue(ctx, &enqueued.Notification)
	})
	if err != nil {
		return err
	}

	err = bus.Handle(events.EntityStatusChangedEvent, func(ctx context.Context, event any) error {
		changed, ok := event.(*events.EntityStatusChanged)
		if !ok {
			return fmt.Errorf("unexpected event %T", event)
		}

		logger.InfoContext(ctx, "Entity status changed",
			"reference_type", changed.ReferenceType,
			"reference_id", changed.ReferenceID,
			"outcome", changed.Outcome,
		)

		return nil
	})
	if err != nil {
		return err
	}

	return bus.Subscribe(ctx)
}

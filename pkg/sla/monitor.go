// Package sla detects workflows past their deadline and steps about to miss theirs.
package sla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jellydator/ttlcache/v3"
	"github.com/merchplan/approvals/pkg/directory"
	"github.com/merchplan/approvals/pkg/metrics"
	"github.com/merchplan/approvals/pkg/models"
	"github.com/merchplan/approvals/pkg/notification"
	"github.com/merchplan/approvals/pkg/otelhelper"
	"github.com/merchplan/approvals/pkg/persistence"
	"github.com/merchplan/approvals/pkg/workflow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultWarningWindow is how far ahead of a step's due date a warning is raised.
const DefaultWarningWindow = 4 * time.Hour

// Result is the outcome of one scan.
type Result struct {
	BreachedCount int `json:"breached_count"`
	WarningCount  int `json:"warning_count"`
}

// Monitor scans the store for SLA breaches and upcoming step deadlines.
// A scan may run concurrently with engine actions and with other scans.
type Monitor struct {
	repo      persistence.WorkflowRepository
	sink      notification.Sink
	directory directory.Resolver

	window  time.Duration
	warned  *ttlcache.Cache[string, struct{}]
	clock   clock.Clock
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics.Metrics
}

type Option func(*Monitor)

func WithWarningWindow(window time.Duration) Option {
	return func(m *Monitor) { m.window = window }
}

func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(m *Monitor) { m.tracer = tracer }
}

func WithMetrics(collectors *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = collectors }
}

func NewMonitor(repo persistence.WorkflowRepository, sink notification.Sink, resolver directory.Resolver, opts ...Option) *Monitor {
	m := &Monitor{
		repo:      repo,
		sink:      sink,
		directory: resolver,
		window:    DefaultWarningWindow,
		clock:     clock.New(),
		logger:    slog.Default(),
		tracer:    otelhelper.NoopTracer(),
	}

	for _, opt := range opts {
		opt(m)
	}

	// A step stays inside the window for at most its length, so remembering
	// a warned step for that long is enough to warn only once.
	m.warned = ttlcache.New(
		ttlcache.WithTTL[string, struct{}](m.window),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)

	return m
}

// Check flags every newly overdue workflow and warns about steps due within
// the warning window. Failures on one workflow do not stop the scan; they are
// joined into the returned error alongside the partial result.
func (m *Monitor) Check(ctx context.Context) (Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "sla.check")
	defer span.End()

	started := time.Now()
	now := m.clock.Now().UTC().Truncate(time.Microsecond)

	var result Result

	breached, breachErr := m.checkBreaches(ctx, now)
	result.BreachedCount = breached

	warnings, warnErr := m.checkWarnings(ctx, now)
	result.WarningCount = warnings

	err := errors.Join(breachErr, warnErr)

	span.SetAttributes(
		attribute.Int(otelhelper.BreachedKey, result.BreachedCount),
		attribute.Int(otelhelper.WarningsKey, result.WarningCount),
	)
	m.metrics.SLAScanned(result.BreachedCount, result.WarningCount, time.Since(started).Seconds(), err)

	if err != nil {
		otelhelper.SetError(span, err)
		m.logger.ErrorContext(ctx, "SLA check finished with errors", "breached", result.BreachedCount, "warnings", result.WarningCount, "error", err)

		return result, err
	}

	m.logger.InfoContext(ctx, "SLA check finished", "breached", result.BreachedCount, "warnings", result.WarningCount)

	return result, nil
}

func (m *Monitor) checkBreaches(ctx context.Context, now time.Time) (int, error) {
	overdue, err := m.repo.ListOverdue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue workflows: %w", err)
	}

	var (
		count int
		errs  []error
	)

	for _, wf := range overdue {
		flipped, err := m.repo.MarkSLABreached(ctx, wf.ID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("workflow %s: %w", wf.ID, err))

			continue
		}

		// Another scanner, or a concluding action, got there first.
		if !flipped {
			continue
		}

		count++

		m.logger.InfoContext(ctx, "Workflow SLA breached", "workflow_id", wf.ID, "sla_deadline", wf.SLADeadline)

		// The flag is already set, so a failed enqueue is not retried by later scans.
		err = m.sink.Enqueue(ctx, &models.Notification{
			UserID:       wf.InitiatedBy,
			Type:         models.NotificationSLABreached,
			Title:        "Approval overdue",
			Message:      fmt.Sprintf("%s for %s %s missed its deadline of %s.", wf.Type, wf.ReferenceType, wf.ReferenceID, wf.SLADeadline.Format(time.RFC3339)),
			ReferenceURL: workflow.ReferenceURL(wf.ID),
			Priority:     models.PriorityCritical,
			CreatedAt:    now,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to notify breach of workflow %s: %w", wf.ID, err))
		}
	}

	return count, errors.Join(errs...)
}

func (m *Monitor) checkWarnings(ctx context.Context, now time.Time) (int, error) {
	// The cache runs no janitor goroutine; expired steps are dropped here.
	m.warned.DeleteExpired()

	steps, err := m.repo.ListStepsDueBetween(ctx, now, now.Add(m.window))
	if err != nil {
		return 0, fmt.Errorf("failed to list steps due soon: %w", err)
	}

	var errs []error

	for _, step := range steps {
		if m.warned.Get(step.ID) != nil {
			continue
		}

		if err := m.warn(ctx, step, now); err != nil {
			errs = append(errs, fmt.Errorf("failed to warn about step %d of workflow %s: %w", step.StepNumber, step.WorkflowID, err))

			continue
		}

		m.warned.Set(step.ID, struct{}{}, ttlcache.DefaultTTL)
	}

	return len(steps), errors.Join(errs...)
}

func (m *Monitor) warn(ctx context.Context, step *models.WorkflowStep, now time.Time) error {
	wf, err := m.repo.GetByID(ctx, step.WorkflowID)
	if err != nil {
		return err
	}

	recipients, err := directory.StepRecipients(ctx, m.directory, step)
	if err != nil {
		return err
	}

	message := fmt.Sprintf("%s for %s %s is due at step %d (%s) by %s.",
		wf.Type, wf.ReferenceType, wf.ReferenceID, step.StepNumber, step.Name, step.DueAt.Format(time.RFC3339))

	for _, userID := range recipients {
		err := m.sink.Enqueue(ctx, &models.Notification{
			UserID:       userID,
			Type:         models.NotificationSLAWarning,
			Title:        "Approval due soon: " + step.Name,
			Message:      message,
			ReferenceURL: workflow.ReferenceURL(wf.ID),
			Priority:     models.PriorityHigh,
			CreatedAt:    now,
		})
		if err != nil {
			return fmt.Errorf("failed to notify %s: %w", userID, err)
		}
	}

	m.logger.DebugContext(ctx, "SLA warning sent", "workflow_id", wf.ID, "step_number", step.StepNumber, "recipients", len(recipients))

	return nil
}

// Package workflow implements the approval engine: it creates workflow instances
// from their definitions and advances them one step at a time.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/merchplan/approvals/pkg/directory"
	"github.com/merchplan/approvals/pkg/metrics"
	"github.com/merchplan/approvals/pkg/models"
	"github.com/merchplan/approvals/pkg/notification"
	"github.com/merchplan/approvals/pkg/otelhelper"
	"github.com/merchplan/approvals/pkg/persistence"
	"github.com/merchplan/approvals/pkg/projection"
	"github.com/merchplan/approvals/pkg/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ReferenceURL is the page a notification about workflowID links to.
func ReferenceURL(workflowID string) string {
	return "/approvals/" + workflowID
}

// Engine owns every state transition of workflow instances and their steps.
// It keeps no per-workflow state between calls; the repository is the only
// shared state, so any number of engines may run against the same store.
type Engine struct {
	repo      persistence.WorkflowRepository
	registry  *registry.Registry
	sink      notification.Sink
	directory directory.Resolver
	projector projection.Projector

	clock   clock.Clock
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics.Metrics
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(
	repo persistence.WorkflowRepository,
	reg *registry.Registry,
	sink notification.Sink,
	resolver directory.Resolver,
	projector projection.Projector,
	opts ...Option,
) *Engine {
	e := &Engine{
		repo:      repo,
		registry:  reg,
		sink:      sink,
		directory: resolver,
		projector: projector,
		clock:     clock.New(),
		logger:    slog.Default(),
		tracer:    otelhelper.NoopTracer(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// CreateRequest starts a new approval chain for an entity.
type CreateRequest struct {
	Type          models.WorkflowType
	ReferenceID   string
	ReferenceType string
	InitiatedBy   string
	SLAHours      *int // overall deadline, optional
}

// ActionRequest is a decision on one step of a workflow.
type ActionRequest struct {
	WorkflowID string
	StepNumber int
	ActionBy   string
	Action     models.Action
	Comment    *string
}

// now is truncated to microseconds so it survives every store unchanged.
func (e *Engine) now() time.Time {
	return e.clock.Now().UTC().Truncate(time.Microsecond)
}

// CreateWorkflow persists a new IN_PROGRESS instance with all of its steps and
// notifies the holders of the first step's role.
func (e *Engine) CreateWorkflow(ctx context.Context, req CreateRequest) (*models.WorkflowInstance, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.create",
		attribute.String(otelhelper.WorkflowTypeKey, string(req.Type)),
		attribute.String(otelhelper.ReferenceTypeKey, req.ReferenceType),
		attribute.String(otelhelper.ReferenceIDKey, req.ReferenceID),
	)
	defer span.End()

	workflow, err := e.createWorkflow(ctx, req)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.WorkflowIDKey, workflow.ID))

	return workflow, nil
}

func (e *Engine) createWorkflow(ctx context.Context, req CreateRequest) (*models.WorkflowInstance, error) {
	const op = "CreateWorkflow"

	definition, err := e.registry.Lookup(req.Type)
	if err != nil {
		return nil, err
	}

	switch {
	case req.ReferenceID == "" || req.ReferenceType == "":
		return nil, invalidInput(op, "", 0, ReasonMissingReference)
	case req.InitiatedBy == "":
		return nil, invalidInput(op, "", 0, ReasonMissingInitiator)
	case req.SLAHours != nil && *req.SLAHours <= 0:
		return nil, invalidInput(op, "", 0, ReasonInvalidSLA)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate workflow id: %w", err)
	}

	now := e.now()

	workflow := &models.WorkflowInstance{
		ID:            id.String(),
		Type:          definition.Type,
		ReferenceID:   req.ReferenceID,
		ReferenceType: req.ReferenceType,
		Status:        models.WorkflowStatusInProgress,
		CurrentStep:   1,
		TotalSteps:    len(definition.Steps),
		InitiatedBy:   req.InitiatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if req.SLAHours != nil {
		deadline := now.Add(time.Duration(*req.SLAHours) * time.Hour)
		workflow.SLADeadline = &deadline
	}

	steps := make([]*models.WorkflowStep, 0, len(definition.Steps))

	for i, template := range definition.Steps {
		stepID, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate step id: %w", err)
		}

		step := &models.WorkflowStep{
			ID:           stepID.String(),
			WorkflowID:   workflow.ID,
			StepNumber:   i + 1,
			Name:         template.Name,
			Description:  template.Description,
			Status:       models.StepStatusPending,
			RequiredRole: template.RequiredRole,
			SLAHours:     template.SLAHours,
			Skippable:    template.Skippable,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		// Only the first step's clock starts now; later steps get a due date when they become active.
		if i == 0 {
			step.Status = models.StepStatusInProgress
			step.DueAt = dueAt(template, now)
		}

		steps = append(steps, step)
	}

	err = e.repo.Create(ctx, workflow, steps)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	e.metrics.WorkflowCreated(string(workflow.Type))

	logger := e.logger.With("workflow_id", workflow.ID, "type", workflow.Type, "reference_id", workflow.ReferenceID)
	logger.InfoContext(ctx, "Workflow created", "total_steps", workflow.TotalSteps)

	err = e.notifyActionRequired(ctx, workflow, steps[0], now)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to notify first step approvers", "error", err)

		return nil, fmt.Errorf("workflow %s created: %w", workflow.ID, err)
	}

	workflow.Steps = steps

	return workflow, nil
}

// ProcessAction applies approve, reject or skip to the active step. The step,
// the instance and the next step are written as one conditional update, so of
// two concurrent actions on the same step exactly one succeeds.
func (e *Engine) ProcessAction(ctx context.Context, req ActionRequest) (*models.ActionResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.process_action",
		attribute.String(otelhelper.WorkflowIDKey, req.WorkflowID),
		attribute.Int(otelhelper.StepNumberKey, req.StepNumber),
		attribute.String(otelhelper.ActionKey, string(req.Action)),
	)
	defer span.End()

	result, err := e.processAction(ctx, req)
	if err != nil {
		otelhelper.SetError(span, err)
		e.metrics.ActionProcessed(string(req.Action), "error")

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.OutcomeKey, string(result.Status)))
	e.metrics.ActionProcessed(string(req.Action), string(result.Status))

	return result, nil
}

func (e *Engine) processAction(ctx context.Context, req ActionRequest) (*models.ActionResult, error) {
	const op = "ProcessAction"

	stepStatus, ok := req.Action.StepStatus()
	if !ok {
		return nil, invalidInput(op, req.WorkflowID, req.StepNumber, ReasonInvalidAction)
	}

	if req.ActionBy == "" {
		return nil, invalidInput(op, req.WorkflowID, req.StepNumber, ReasonMissingActor)
	}

	workflow, err := e.repo.GetByID(ctx, req.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil, notFound(op, req.WorkflowID, 0, ReasonWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to load workflow %s: %w", req.WorkflowID, err)
	}

	if workflow.Status != models.WorkflowStatusInProgress {
		return nil, invalidState(op, req.WorkflowID, req.StepNumber, ReasonAlreadyConcluded)
	}

	step, err := e.repo.Step(ctx, req.WorkflowID, req.StepNumber)
	if err != nil {
		if persistence.IsStepNotFound(err) {
			return nil, notFound(op, req.WorkflowID, req.StepNumber, ReasonStepNotFound)
		}

		return nil, fmt.Errorf("failed to load step %d of workflow %s: %w", req.StepNumber, req.WorkflowID, err)
	}

	if step.Status != models.StepStatusInProgress {
		return nil, invalidState(op, req.WorkflowID, req.StepNumber, ReasonNotActiveStep)
	}

	if req.Action == models.ActionSkip && !step.Skippable {
		return nil, invalidState(op, req.WorkflowID, req.StepNumber, ReasonStepNotSkippable)
	}

	now := e.now()

	transition := persistence.Transition{
		WorkflowID:     workflow.ID,
		StepNumber:     step.StepNumber,
		StepStatus:     stepStatus,
		ActionBy:       req.ActionBy,
		ActionAt:       now,
		Comment:        req.Comment,
		WorkflowStatus: models.WorkflowStatusInProgress,
	}

	result := &models.ActionResult{}

	var next *models.WorkflowStep

	switch {
	case req.Action == models.ActionReject:
		transition.WorkflowStatus = models.WorkflowStatusRejected
		transition.CompletedAt = &now
		result.Status = models.OutcomeRejected
	default:
		next, err = e.repo.Step(ctx, workflow.ID, step.StepNumber+1)
		if err != nil && !persistence.IsStepNotFound(err) {
			return nil, fmt.Errorf("failed to load step %d of workflow %s: %w", step.StepNumber+1, workflow.ID, err)
		}

		if next != nil {
			nextNumber := next.StepNumber
			transition.NextStep = &nextNumber
			transition.NextDueAt = stepDueAt(next, now)
			result.Status = models.OutcomeMovedToNext
			result.NextStep = &nextNumber
		} else {
			transition.WorkflowStatus = models.WorkflowStatusApproved
			transition.CompletedAt = &now
			result.Status = models.OutcomeCompleted
		}
	}

	err = e.repo.ApplyTransition(ctx, transition)
	if err != nil {
		if persistence.IsConcurrentModification(err) {
			return nil, invalidState(op, req.WorkflowID, req.StepNumber, ReasonNotActiveStep)
		}

		return nil, fmt.Errorf("failed to apply %s to workflow %s: %w", req.Action, workflow.ID, err)
	}

	logger := e.logger.With("workflow_id", workflow.ID, "step_number", step.StepNumber, "action", req.Action)
	logger.InfoContext(ctx, "Workflow action applied", "outcome", result.Status, "action_by", req.ActionBy)

	switch result.Status {
	case models.OutcomeRejected:
		err = e.conclude(ctx, workflow, step, req, now, false)
	case models.OutcomeCompleted:
		err = e.conclude(ctx, workflow, step, req, now, true)
	case models.OutcomeMovedToNext:
		next.Status = models.StepStatusInProgress
		next.DueAt = transition.NextDueAt
		err = e.notifyActionRequired(ctx, workflow, next, now)
	}

	if err != nil {
		logger.ErrorContext(ctx, "Failed to run post-transition effects", "outcome", result.Status, "error", err)

		return nil, err
	}

	result.Workflow, err = e.GetWorkflowDetails(ctx, workflow.ID)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// conclude projects the terminal outcome onto the guarded entity, then tells the initiator.
func (e *Engine) conclude(
	ctx context.Context,
	workflow *models.WorkflowInstance,
	step *models.WorkflowStep,
	req ActionRequest,
	now time.Time,
	approved bool,
) error {
	alert := &models.Notification{
		UserID:       workflow.InitiatedBy,
		ReferenceURL: ReferenceURL(workflow.ID),
		CreatedAt:    now,
	}

	if approved {
		err := e.projector.OnApproved(ctx, workflow.ReferenceType, workflow.ReferenceID)
		if err != nil {
			return fmt.Errorf("failed to mark %s %s approved: %w", workflow.ReferenceType, workflow.ReferenceID, err)
		}

		alert.Type = models.NotificationWorkflowApproved
		alert.Priority = models.PriorityMedium
		alert.Title = "Approval completed"
		alert.Message = fmt.Sprintf("%s for %s %s has been approved.",
			workflow.Type, workflow.ReferenceType, workflow.ReferenceID)
	} else {
		err := e.projector.OnRejected(ctx, workflow.ReferenceType, workflow.ReferenceID)
		if err != nil {
			return fmt.Errorf("failed to mark %s %s rejected: %w", workflow.ReferenceType, workflow.ReferenceID, err)
		}

		alert.Type = models.NotificationWorkflowRejected
		alert.Priority = models.PriorityHigh
		alert.Title = "Approval rejected"
		alert.Message = fmt.Sprintf("%s for %s %s was rejected at step %d (%s) by %s.",
			workflow.Type, workflow.ReferenceType, workflow.ReferenceID, step.StepNumber, step.Name, req.ActionBy)

		if req.Comment != nil && *req.Comment != "" {
			alert.Message += " Comment: " + *req.Comment
		}
	}

	err := e.sink.Enqueue(ctx, alert)
	if err != nil {
		return fmt.Errorf("failed to notify initiator %s: %w", workflow.InitiatedBy, err)
	}

	return nil
}

func (e *Engine) notifyActionRequired(ctx context.Context, workflow *models.WorkflowInstance, step *models.WorkflowStep, now time.Time) error {
	recipients, err := directory.StepRecipients(ctx, e.directory, step)
	if err != nil {
		return err
	}

	message := fmt.Sprintf("%s for %s %s is waiting for your review at step %d of %d (%s).",
		workflow.Type, workflow.ReferenceType, workflow.ReferenceID, step.StepNumber, workflow.TotalSteps, step.Name)
	if step.DueAt != nil {
		message += " Due " + step.DueAt.Format(time.RFC3339) + "."
	}

	for _, userID := range recipients {
		err := e.sink.Enqueue(ctx, &models.Notification{
			UserID:       userID,
			Type:         models.NotificationActionRequired,
			Title:        "Approval required: " + step.Name,
			Message:      message,
			ReferenceURL: ReferenceURL(workflow.ID),
			Priority:     models.PriorityHigh,
			CreatedAt:    now,
		})
		if err != nil {
			return fmt.Errorf("failed to notify %s: %w", userID, err)
		}
	}

	return nil
}

// GetWorkflowDetails returns the instance with all of its steps.
func (e *Engine) GetWorkflowDetails(ctx context.Context, workflowID string) (*models.WorkflowInstance, error) {
	workflow, err := e.repo.GetByID(ctx, workflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil, notFound("GetWorkflowDetails", workflowID, 0, ReasonWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}

	workflow.Steps, err = e.repo.Steps(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps of workflow %s: %w", workflowID, err)
	}

	return workflow, nil
}

// GetPendingWorkflows lists in-progress workflows whose active step is
// assigned to userID or requires role.
func (e *Engine) GetPendingWorkflows(ctx context.Context, userID, role string) ([]*models.PendingWorkflow, error) {
	if userID == "" && role == "" {
		return nil, invalidInput("GetPendingWorkflows", "", 0, ReasonMissingUserOrRole)
	}

	pending, err := e.repo.ListPending(ctx, userID, role)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending workflows: %w", err)
	}

	return pending, nil
}

// WorkflowsForReference returns every workflow that guarded the entity, newest first.
func (e *Engine) WorkflowsForReference(ctx context.Context, referenceType, referenceID string) ([]*models.WorkflowInstance, error) {
	if referenceType == "" || referenceID == "" {
		return nil, invalidInput("WorkflowsForReference", "", 0, ReasonMissingReference)
	}

	workflows, err := e.repo.GetByReference(ctx, referenceType, referenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows for %s %s: %w", referenceType, referenceID, err)
	}

	return workflows, nil
}

// Definitions exposes the catalog the engine creates workflows from.
func (e *Engine) Definitions() []models.WorkflowDefinition {
	return e.registry.Definitions()
}

func dueAt(template models.StepTemplate, from time.Time) *time.Time {
	sla, ok := template.SLA()
	if !ok {
		return nil
	}

	due := from.Add(sla)

	return &due
}

func stepDueAt(step *models.WorkflowStep, from time.Time) *time.Time {
	return dueAt(models.StepTemplate{SLAHours: step.SLAHours}, from)
}

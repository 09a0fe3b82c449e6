package sqlbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/merchplan/approvals/pkg/models"
	"github.com/merchplan/approvals/pkg/persistence"
)

const instanceColumns = `
	  i.id
	, i.type
	, i.reference_id
	, i.reference_type
	, i.status
	, i.current_step
	, i.total_steps
	, i.initiated_by
	, i.sla_deadline
	, i.sla_breached
	, i.completed_at
	, i.created_at
	, i.updated_at`

const stepColumns = `
	  s.id
	, s.workflow_id
	, s.step_number
	, s.name
	, s.description
	, s.status
	, s.required_role
	, s.assigned_user_id
	, s.sla_hours
	, s.skippable
	, s.due_at
	, s.action_by
	, s.action_at
	, s.action_comment
	, s.created_at
	, s.updated_at`

type scanner interface {
	Scan(dest ...any) error
}

// WorkflowRepository implements persistence.WorkflowRepository on database/sql.
type WorkflowRepository struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

var _ persistence.WorkflowRepository = (*WorkflowRepository)(nil)

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, dialect Dialect, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, dialect: dialect, logger: logger}
}

// Create inserts the instance and its steps in one transaction.
func (r *WorkflowRepository) Create(ctx context.Context, workflow *models.WorkflowInstance, steps []*models.WorkflowStep) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, r.dialect.Rebind(`
		INSERT INTO workflow_instances (id, type, reference_id, reference_type, status,
			current_step, total_steps, initiated_by, sla_deadline, sla_breached,
			completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`),
		workflow.ID,
		string(workflow.Type),
		workflow.ReferenceID,
		workflow.ReferenceType,
		string(workflow.Status),
		workflow.CurrentStep,
		workflow.TotalSteps,
		workflow.InitiatedBy,
		r.dialect.NullTime(workflow.SLADeadline),
		workflow.SLABreached,
		r.dialect.NullTime(workflow.CompletedAt),
		r.dialect.Time(workflow.CreatedAt),
		r.dialect.Time(workflow.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert workflow instance: %w", err)
	}

	stepQuery := r.dialect.Rebind(`
		INSERT INTO workflow_steps (id, workflow_id, step_number, name, description, status,
			required_role, assigned_user_id, sla_hours, skippable, due_at,
			action_by, action_at, action_comment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`)

	for _, step := range steps {
		_, err = tx.ExecContext(ctx, stepQuery,
			step.ID,
			step.WorkflowID,
			step.StepNumber,
			step.Name,
			step.Description,
			string(step.Status),
			step.RequiredRole,
			step.AssignedUserID,
			step.SLAHours,
			step.Skippable,
			r.dialect.NullTime(step.DueAt),
			step.ActionBy,
			r.dialect.NullTime(step.ActionAt),
			step.ActionComment,
			r.dialect.Time(step.CreatedAt),
			r.dialect.Time(step.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert step %d: %w", step.StepNumber, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit workflow creation: %w", err)
	}

	return nil
}

// GetByID returns the instance without its steps.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	row := r.db.QueryRowContext(ctx, r.dialect.Rebind(`SELECT `+instanceColumns+`
		FROM workflow_instances i
		WHERE i.id = $1`), id)

	workflow, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	return workflow, nil
}

// GetByReference returns every instance guarding the referenced entity, newest first.
func (r *WorkflowRepository) GetByReference(ctx context.Context, referenceType, referenceID string) ([]*models.WorkflowInstance, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(`SELECT `+instanceColumns+`
		FROM workflow_instances i
		WHERE i.reference_type = $1 AND i.reference_id = $2
		ORDER BY i.created_at DESC, i.id DESC`), referenceType, referenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows by reference: %w", err)
	}

	return r.collectInstances(ctx, rows)
}

// Steps returns the workflow's steps ordered by step number.
func (r *WorkflowRepository) Steps(ctx context.Context, workflowID string) ([]*models.WorkflowStep, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(`SELECT `+stepColumns+`
		FROM workflow_steps s
		WHERE s.workflow_id = $1
		ORDER BY s.step_number`), workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}

	return r.collectSteps(ctx, rows)
}

// Step returns a single step of the workflow.
func (r *WorkflowRepository) Step(ctx context.Context, workflowID string, stepNumber int) (*models.WorkflowStep, error) {
	row := r.db.QueryRowContext(ctx, r.dialect.Rebind(`SELECT `+stepColumns+`
		FROM workflow_steps s
		WHERE s.workflow_id = $1 AND s.step_number = $2`), workflowID, stepNumber)

	step, err := scanStep(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStepError("Step", workflowID, stepNumber, persistence.ErrStepNotFound)
		}

		return nil, fmt.Errorf("failed to scan step: %w", err)
	}

	return step, nil
}

// ApplyTransition writes the decided step, the instance and the next step in one
// transaction. Every update is conditional on the expected prior status.
func (r *WorkflowRepository) ApplyTransition(ctx context.Context, t persistence.Transition) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = r.execOne(ctx, tx, t, `
		UPDATE workflow_steps
		SET status = $1, action_by = $2, action_at = $3, action_comment = $4, updated_at = $5
		WHERE workflow_id = $6 AND step_number = $7 AND status = $8
	`,
		string(t.StepStatus),
		t.ActionBy,
		r.dialect.Time(t.ActionAt),
		t.Comment,
		r.dialect.Time(t.ActionAt),
		t.WorkflowID,
		t.StepNumber,
		string(models.StepStatusInProgress),
	)
	if err != nil {
		return err
	}

	err = r.execOne(ctx, tx, t, `
		UPDATE workflow_instances
		SET status = $1, current_step = $2, completed_at = $3, updated_at = $4
		WHERE id = $5 AND status = $6 AND current_step = $7
	`,
		string(t.WorkflowStatus),
		t.CurrentStep(),
		r.dialect.NullTime(t.CompletedAt),
		r.dialect.Time(t.ActionAt),
		t.WorkflowID,
		string(models.WorkflowStatusInProgress),
		t.StepNumber,
	)
	if err != nil {
		return err
	}

	if t.NextStep != nil {
		err = r.execOne(ctx, tx, t, `
			UPDATE workflow_steps
			SET status = $1, due_at = $2, updated_at = $3
			WHERE workflow_id = $4 AND step_number = $5 AND status = $6
		`,
			string(models.StepStatusInProgress),
			r.dialect.NullTime(t.NextDueAt),
			r.dialect.Time(t.ActionAt),
			t.WorkflowID,
			*t.NextStep,
			string(models.StepStatusPending),
		)
		if err != nil {
			return err
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) execOne(ctx context.Context, tx *sql.Tx, t persistence.Transition, query string, args ...any) error {
	result, err := tx.ExecContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to apply transition: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected != 1 {
		return persistence.NewStepError("ApplyTransition", t.WorkflowID, t.StepNumber, persistence.ErrConcurrentModification)
	}

	return nil
}

// MarkSLABreached flips the breach flag once.
func (r *WorkflowRepository) MarkSLABreached(ctx context.Context, workflowID string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, r.dialect.Rebind(`
		UPDATE workflow_instances
		SET sla_breached = $1, updated_at = $2
		WHERE id = $3 AND status = $4 AND sla_breached = $5
	`), true, r.dialect.Time(at), workflowID, string(models.WorkflowStatusInProgress), false)
	if err != nil {
		return false, fmt.Errorf("failed to mark SLA breach: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected == 1, nil
}

// ListOverdue returns in-progress instances past their deadline that are not flagged yet.
func (r *WorkflowRepository) ListOverdue(ctx context.Context, now time.Time) ([]*models.WorkflowInstance, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(`SELECT `+instanceColumns+`
		FROM workflow_instances i
		WHERE i.status = $1
		  AND i.sla_breached = $2
		  AND i.sla_deadline IS NOT NULL
		  AND i.sla_deadline < $3
		ORDER BY i.sla_deadline`), string(models.WorkflowStatusInProgress), false, r.dialect.Time(now))
	if err != nil {
		return nil, fmt.Errorf("failed to query overdue workflows: %w", err)
	}

	return r.collectInstances(ctx, rows)
}

// ListStepsDueBetween returns active steps with from < due_at <= to.
func (r *WorkflowRepository) ListStepsDueBetween(ctx context.Context, from, to time.Time) ([]*models.WorkflowStep, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(`SELECT `+stepColumns+`
		FROM workflow_steps s
		WHERE s.status = $1
		  AND s.due_at IS NOT NULL
		  AND s.due_at > $2
		  AND s.due_at <= $3
		ORDER BY s.due_at`), string(models.StepStatusInProgress), r.dialect.Time(from), r.dialect.Time(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query steps due soon: %w", err)
	}

	return r.collectSteps(ctx, rows)
}

// ListPending returns in-progress workflows whose active step matches the user or role.
func (r *WorkflowRepository) ListPending(ctx context.Context, userID, role string) ([]*models.PendingWorkflow, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(`SELECT `+instanceColumns+`, `+stepColumns+`
		FROM workflow_instances i
		JOIN workflow_steps s ON s.workflow_id = i.id AND s.step_number = i.current_step
		WHERE i.status = $1
		  AND s.status = $2
		  AND (s.assigned_user_id = $3 OR s.required_role = $4)
		ORDER BY i.created_at, i.id`),
		string(models.WorkflowStatusInProgress),
		string(models.StepStatusInProgress),
		userID,
		role,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending workflows: %w", err)
	}

	defer r.closeRows(ctx, rows)

	pending := make([]*models.PendingWorkflow, 0)

	for rows.Next() {
		var (
			workflow models.WorkflowInstance
			step     models.WorkflowStep
		)

		instanceDest, finishInstance := instanceFields(&workflow)
		stepDest, finishStep := stepFields(&step)

		err := rows.Scan(append(instanceDest, stepDest...)...)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending workflow: %w", err)
		}

		finishInstance()
		finishStep()

		pending = append(pending, &models.PendingWorkflow{Workflow: &workflow, ActiveStep: &step})
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating pending workflows: %w", err)
	}

	return pending, nil
}

func (r *WorkflowRepository) collectInstances(ctx context.Context, rows *sql.Rows) ([]*models.WorkflowInstance, error) {
	defer r.closeRows(ctx, rows)

	workflows := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		workflow, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

func (r *WorkflowRepository) collectSteps(ctx context.Context, rows *sql.Rows) ([]*models.WorkflowStep, error) {
	defer r.closeRows(ctx, rows)

	steps := make([]*models.WorkflowStep, 0)

	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		steps = append(steps, step)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

func (r *WorkflowRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

func scanInstance(row scanner) (*models.WorkflowInstance, error) {
	var workflow models.WorkflowInstance

	dest, finish := instanceFields(&workflow)

	err := row.Scan(dest...)
	if err != nil {
		return nil, err
	}

	finish()

	return &workflow, nil
}

func scanStep(row scanner) (*models.WorkflowStep, error) {
	var step models.WorkflowStep

	dest, finish := stepFields(&step)

	err := row.Scan(dest...)
	if err != nil {
		return nil, err
	}

	finish()

	return &step, nil
}

// instanceFields returns scan destinations matching instanceColumns and a
// function that copies the nullable values into the model after scanning.
func instanceFields(workflow *models.WorkflowInstance) ([]any, func()) {
	var (
		workflowType, status     string
		slaDeadline, completedAt timeValue
		createdAt, updatedAt     timeValue
	)

	dest := []any{
		&workflow.ID,
		&workflowType,
		&workflow.ReferenceID,
		&workflow.ReferenceType,
		&status,
		&workflow.CurrentStep,
		&workflow.TotalSteps,
		&workflow.InitiatedBy,
		&slaDeadline,
		&workflow.SLABreached,
		&completedAt,
		&createdAt,
		&updatedAt,
	}

	return dest, func() {
		workflow.Type = models.WorkflowType(workflowType)
		workflow.Status = models.WorkflowStatus(status)
		workflow.SLADeadline = slaDeadline.Ptr()
		workflow.CompletedAt = completedAt.Ptr()
		workflow.CreatedAt = createdAt.Time
		workflow.UpdatedAt = updatedAt.Time
	}
}

func stepFields(step *models.WorkflowStep) ([]any, func()) {
	var (
		status                                string
		requiredRole, assignedUserID          sql.NullString
		actionBy, actionComment               sql.NullString
		slaHours                              sql.NullInt64
		dueAt, actionAt, createdAt, updatedAt timeValue
	)

	dest := []any{
		&step.ID,
		&step.WorkflowID,
		&step.StepNumber,
		&step.Name,
		&step.Description,
		&status,
		&requiredRole,
		&assignedUserID,
		&slaHours,
		&step.Skippable,
		&dueAt,
		&actionBy,
		&actionAt,
		&actionComment,
		&createdAt,
		&updatedAt,
	}

	return dest, func() {
		step.Status = models.StepStatus(status)
		step.RequiredRole = nullString(requiredRole)
		step.AssignedUserID = nullString(assignedUserID)
		step.ActionBy = nullString(actionBy)
		step.ActionComment = nullString(actionComment)
		step.DueAt = dueAt.Ptr()
		step.ActionAt = actionAt.Ptr()
		step.CreatedAt = createdAt.Time
		step.UpdatedAt = updatedAt.Time

		if slaHours.Valid {
			hours := int(slaHours.Int64)
			step.SLAHours = &hours
		}
	}
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}

	s := ns.String

	return &s
}

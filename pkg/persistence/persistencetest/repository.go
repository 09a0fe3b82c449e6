// Package persistencetest holds the behaviour every WorkflowRepository must share.
package persistencetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/merchplan/approvals/pkg/models"
	"github.com/merchplan/approvals/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

// NewFixture builds an IN_PROGRESS instance with n steps, step 1 active.
func NewFixture(referenceID string, n int, createdAt time.Time) (*models.WorkflowInstance, []*models.WorkflowStep) {
	id := uuid.NewString()

	workflow := &models.WorkflowInstance{
		ID:            id,
		Type:          models.WorkflowTypeBudgetApproval,
		ReferenceID:   referenceID,
		ReferenceType: "budget",
		Status:        models.WorkflowStatusInProgress,
		CurrentStep:   1,
		TotalSteps:    n,
		InitiatedBy:   "planner-1",
		SLADeadline:   ptr(createdAt.Add(24 * time.Hour)),
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}

	steps := make([]*models.WorkflowStep, 0, n)

	for i := 1; i <= n; i++ {
		step := &models.WorkflowStep{
			ID:           uuid.NewString(),
			WorkflowID:   id,
			StepNumber:   i,
			Name:         "Step",
			Status:       models.StepStatusPending,
			RequiredRole: ptr("ROLE_" + string(rune('A'+i-1))),
			SLAHours:     ptr(4 * i),
			Skippable:    i == n,
			CreatedAt:    createdAt,
			UpdatedAt:    createdAt,
		}

		if i == 1 {
			step.Status = models.StepStatusInProgress
			step.DueAt = ptr(createdAt.Add(4 * time.Hour))
		}

		steps = append(steps, step)
	}

	return workflow, steps
}

func advance(workflowID string, stepNumber int, at time.Time) persistence.Transition {
	return persistence.Transition{
		WorkflowID:     workflowID,
		StepNumber:     stepNumber,
		StepStatus:     models.StepStatusApproved,
		ActionBy:       "approver-1",
		ActionAt:       at,
		WorkflowStatus: models.WorkflowStatusInProgress,
		NextStep:       ptr(stepNumber + 1),
		NextDueAt:      ptr(at.Add(8 * time.Hour)),
	}
}

// WorkflowRepositoryTest runs the shared behaviour against a store created by setup.
func WorkflowRepositoryTest(t *testing.T, setup func(t *testing.T) persistence.Persistence) {
	t.Helper()

	tests := []struct {
		name string
		f    func(t *testing.T, ctx context.Context, repo persistence.WorkflowRepository)
	}{
		{
			name: "Create_PersistsInstanceAndSteps",
			f: func(t *testing.T, ctx context.Context, repo persistence.WorkflowRepository) {
				workflow, steps := NewFixture("B-1", 3, base)
				require.NoError(t, repo.Create(ctx, workflow, steps))

				stored, err := repo.GetByID(ctx, workflow.ID)
				require.NoError(t, err)
				assert.Equal(t, workflow.ID, stored.ID)
				assert.Equal(t, models.WorkflowTypeBudgetApproval, stored.Type)
				assert.Equal(t, "B-1", stored.ReferenceID)
				assert.Equal(t, models.WorkflowStatusInProgress, stored.Status)
				assert.Equal(t, 1, stored.CurrentStep)
				assert.Equal(t, 3, stored.TotalSteps)
				require.NotNil(t, stored.SLADeadline)
				assert.True(t, stored.SLADeadline.Equal(base.Add(24*time.Hour)))
				assert.False(t, stored.SLABreached)
				assert.Nil(t, stored.CompletedAt)
				assert.True(t, stored.CreatedAt.Equal(base))

				storedSteps, err := repo.Steps(ctx, workflow.ID)
				require.NoError(t, err)
				require.Len(t, storedSteps, 3)

				for i, step := range storedSteps {
					assert.Equal(t, i+1, step.StepNumber)
				}

				assert.Equal(t, models.StepStatusInProgress, storedSteps[0].Status)
				require.NotNil(t, storedSteps[0].DueAt)
				assert.True(t, storedSteps[0].DueAt.Equal(base.Add(4*time.Hour)))
				assert.Equal(t, models.StepStatusPending, storedSteps[1].Status)
				assert.Nil(t, storedSteps[1].DueAt)
				assert.Equal(t, "ROLE_B", *storedSteps[1].RequiredRole)
				assert.Equal(t, 8, *storedSteps[1].SLAHours)
				assert.True(t, storedSteps[2].Skippable)
				assert.Nil(t, storedSteps[0].AssignedUserID)
			},
		},
		{
			name: "Create_SameIDErrors",
			f: func(t *testing.T, ctx context.Context, repo persistence.WorkflowRepository) {
				workflow, steps := NewFixture("B-1", 1, base)
				require.NoError(t, repo.Create(ctx, workflow, steps))
				require.Error(t, repo.Create(ctx, workflow, steps))
			},
		},
		{
			name: "GetByID_NotFound",
			f: func(t *testing.T, ctx context.Context, repo persistence.WorkflowRepository) {
				_, err := repo.GetByID(ctx, uuid.NewString())
				require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
			},
		},
		{
			name: "Step_NotFound",
			f: func(t *testing.T, ctx context.Context, repo persistence.WorkflowRepository) {
				workflow, steps := NewFixture("B-1", 2, base)
				require.NoError(t, repo.Create(ctx, workflow, steps))

				step, err := repo.Step(ctx, workflow.ID, 2)
				require.NoError(t, err)
				assert.Equal(t, 2, step.StepNumber)

				_, err = repo.Step(ctx, workflow.ID, 3)
				require.ErrorIs(t, err, persistence.ErrStepNotFound)
			},
		},
		{
			name: "ApplyTransition_AdvancesToNextStep",
			f: func(t *testing.T, ctx context.Context, repo persistence.WorkflowRepository) {
				workflow, steps := NewFixture("B-1", 2, base)
				require.NoError(t, repo.Create(ctx, workflow, steps))

				at := base.Add(time.Hour)
				transition := advance(workflow.ID, 1, at)
				transition.Comment = ptr("looks good")
				require.NoError(t, repo.ApplyTransition(ctx, transition))

				stored, err := repo.GetByID(ctx, workflow.ID)
				require.NoError(t, err)
				assert.Equal(t, 2, stored.CurrentStep)
				assert.Equal(t, models.WorkflowStatusInProgress, stored.Status)

				first, err := repo.Step(ctx, workflow.ID, 1)
				require.NoError(t, err)
				assert.Equal(t, models.StepStatusApproved, first.Status)
				assert.Equal(t, "approver-1", *first.ActionBy)
				assert.True(t, first.ActionAt.Equal(at))
				assert.Equal(t, "looks good", *first.ActionComment)

				second, err := repo.Step(ctx, workflow.ID, 2)
				require.NoError(t, err)
				assert.Equal(t, models.StepStatusInProgress, second.Status)
				require.NotNil(t, second.DueAt)
				assert.True(t, second.DueAt.Equal(at.Add(8*time.Hour)))
			},
		},
		{
			name: "ApplyTransition_Concludes",
			f: func(t *testing.T, ctx context.Context, repo persistence.WorkflowRepository) {
				workflow, steps := NewFixture("B-1", 3, base)
				require.NoError(t, repo.Create(ctx, workflow, steps))

				at := base.Add(time.Hour)
				require.NoError(t, repo.ApplyTransition(ctx, persistence.Transition{
					WorkflowID:     workflow.ID,
					StepNumber:     1,
					StepStatus:     models.StepStatusRejected,
					ActionBy:       "approver-1",
					ActionAt:       at,
					WorkflowStatus: models.WorkflowStatusRejected,
					CompletedAt:    &at,
				}))

				stored, err := repo.GetByID(ctx, workflow.ID)
				require.NoError(t, err)
				assert.Equal(t, models.WorkflowStatusRejected, stored.Status)
				assert.Equal(t, 1, stored.CurrentStep)
				require.NotNil(t, stored.CompletedAt)
				assert.True(t, stored.CompletedAt.Equal(at))

				storedSteps, err := repo.Steps(ctx, workflow.ID)
				require.NoError(t, err)
				assert.Equal(t, models.StepStatusRejected, storedSteps[0].Status)
				assert.Equal(t, models.StepStatusPending, storedSteps[1].Status)
				assert.Equal(t, models.StepStatusPending, storedSteps[2].Status)
			},
		},
		{
			name: "ApplyTransition_SecondAttemptConflicts",
			f: func(t *testing.T, ctx context.Context, repo persistence.WorkflowRepository) {
				workflow, steps := NewFixture("B-1", 3, base)
				require.NoError(t, repo.Create(ctx, workflow, steps))

				require.NoError(t, repo.ApplyTransition(ctx, advance(workflow.ID, 1, base.Add(time.Hour))))

				err := repo.ApplyTransition(ctx, advance(workflow.ID, 1, base.Add(2*time.Hour)))
				require.ErrorIs(t, err, persistence.ErrConcurrentModification)
			},
		},
		{
			name: "ApplyTransition_PendingStepConflicts",
			f: func(t *testing.T, ctx context.Context, repo persistence.WorkflowRepository) {
				workflow, steps := NewFixture("B-1", 3, base)
				require.NoError(t, repo.Create(ctx, workflow, steps))

				err := repo.ApplyTransition(ctx, advance(workflow.ID, 2, base.Add(time.Hour)))
				require.ErrorIs(t, err, persistence.ErrConcurrentModification)

				second, err := repo.Step(ctx, workflow.ID, 2)
				require.NoError(t, err)
				assert.Equal(t, models.StepStatusPending, second.Status)
				assert.Nil(t, second.ActionBy)
			},
		},
		{
			name: "ApplyTransition_FailedPreconditionWritesNothing",
			f: func(t *testing.T, ctx context.Context, repo persistence.WorkflowRepository) {
				workflow, steps := NewFixture("B-1", 3, base)
				require.NoError(t, repo.Create(ctx, workflow, steps))

				// Activating step 1 again fails after the first two updates succeeded.
				transition := advance(workflow.ID, 1, base.Add(time.Hour))
				transition.NextStep = ptr(1)

				err := repo.ApplyTransition(ctx, transition)
				require.ErrorIs(t, err, persistence.ErrConcurrentModification)

				stored, err := repo.GetByID(ctx, workflow.ID)
				require.NoError(t, err)
				assert.Equal(t, 1, stored.CurrentStep)

				first, err := repo.Step(ctx, workflow.ID, 1)
				require.NoError(t, err)
				assert.Equal(t, models.StepStatusInProgress, first.Status)
				assert.Nil(t, first.ActionBy)
			},
		},
		{
			name: "ApplyTransition_ConcurrentCallsOnlyOneWins",
			f: func(t *testing.T, ctx context.Context, repo persistence.WorkflowRepository) {
				workflow, steps := NewFixture("B-1", 3, base)
				require.NoError(t, repo.Create(ctx, workflow, steps))

				var (
					wg        sync.WaitGroup
					successes atomic.Int32
					conflicts atomic.Int32
				)

				for i := range 8 {
					wg.Add(1)

					go func() {
						defer wg.Done()

						err := repo.ApplyTransition(ctx, advance(workflow.ID, 1, base.Add(time.Duration(i+1)*time.Minute)))

						switch {
						case err == nil:
							successes.Add(1)
						case persistence.IsConcurrentModification(err):
							conflicts.Add(1)
						}
					}()
				}

				wg.Wait()

				assert.Equal(t, int32(1), successes.Load())
				assert.Equal(t, int32(7), conflicts.Load())

				storedSteps, err := repo.Steps(ctx, workflow.ID)
				require.NoError(t, err)
				assert.Equal(t, models.StepStatusApproved, storedSteps[0].Status)
				assert.Equal(t, models.StepStatusInProgress, storedSteps[1].Status)
				assert.Equal(t, models.StepStatusPending, storedSteps[2].Status)
			},
		},
		{
			name: "MarkSLABreached_FlipsOnce",
			f: func(t *testing.T, ctx context.Context, repo persistence.WorkflowRepository) {
				workflow, steps := NewFixture("B-1", 1, base)
				require.NoError(t, repo.Create(ctx, workflow, steps))

				flipped, err := repo.MarkSLABreached(ctx, workflow.ID, base.Add(25*time.Hour))
				require.NoError(t, err)
				assert.True(t, flipped)

				flipped, err = repo.MarkSLABreached(ctx, workflow.ID, base.Add(26*time.Hour))
				require.NoError(t, err)
				assert.False(t, flipped)

				stored, err := repo.GetByID(ctx, workflow.ID)
				require.NoError(t, err)
				assert.True(t, stored.SLABreached)
			},
		},
		{
			name: "ListOverdue_OnlyUnflaggedInProgressPastDeadline",
			f: func(t *testing.T, ctx context.Context, repo persistence.WorkflowRepository) {
				overdue, overdueSteps := NewFixture("B-1", 1, base)
				require.NoError(t, repo.Create(ctx, overdue, overdueSteps))

				flagged, flaggedSteps := NewFixture("B-2", 1, base)
				require.NoError(t, repo.Create(ctx, flagged, flaggedSteps))
				_, err := repo.MarkSLABreached(ctx, flagged.ID, base)
				require.NoError(t, err)

				future, futureSteps := NewFixture("B-3", 1, base.Add(48*time.Hour))
				require.NoError(t, repo.Create(ctx, future, futureSteps))

				noDeadline, noDeadlineSteps := NewFixture("B-4", 1, base)
				noDeadline.SLADeadline = nil
				require.NoError(t, repo.Create(ctx, noDeadline, noDeadlineSteps))

				concluded, concludedSteps := NewFixture("B-5", 1, base)
				require.NoError(t, repo.Create(ctx, concluded, concludedSteps))
				at := base.Add(time.Hour)
				require.NoError(t, repo.ApplyTransition(ctx, persistence.Transition{
					WorkflowID: concluded.ID, StepNumber: 1, StepStatus: models.StepStatusApproved,
					ActionBy: "a", ActionAt: at, WorkflowStatus: models.WorkflowStatusApproved, CompletedAt: &at,
				}))

				result, err := repo.ListOverdue(ctx, base.Add(30*time.Hour))
				require.NoError(t, err)
				require.Len(t, result, 1)
				assert.Equal(t, overdue.ID, result[0].ID)
			},
		},
		{
			name: "ListStepsDueBetween_ExcludesPastAndFarFuture",
			f: func(t *testing.T, ctx context.Context, repo persistence.WorkflowRepository) {
				soon, soonSteps := NewFixture("B-1", 2, base)
				require.NoError(t, repo.Create(ctx, soon, soonSteps))

				past, pastSteps := NewFixture("B-2", 2, base.Add(-10*time.Hour))
				require.NoError(t, repo.Create(ctx, past, pastSteps))

				later, laterSteps := NewFixture("B-3", 2, base.Add(10*time.Hour))
				require.NoError(t, repo.Create(ctx, later, laterSteps))

				now := base.Add(time.Hour)

				due, err := repo.ListStepsDueBetween(ctx, now, now.Add(4*time.Hour))
				require.NoError(t, err)
				require.Len(t, due, 1)
				assert.Equal(t, soon.ID, due[0].WorkflowID)
				assert.Equal(t, 1, due[0].StepNumber)
			},
		},
		{
			name: "ListPending_MatchesRoleOrAssignee",
			f: func(t *testing.T, ctx context.Context, repo persistence.WorkflowRepository) {
				byRole, byRoleSteps := NewFixture("B-1", 2, base)
				require.NoError(t, repo.Create(ctx, byRole, byRoleSteps))

				assigned, assignedSteps := NewFixture("B-2", 2, base.Add(time.Minute))
				assignedSteps[0].RequiredRole = ptr("OTHER")
				assignedSteps[0].AssignedUserID = ptr("user-7")
				require.NoError(t, repo.Create(ctx, assigned, assignedSteps))

				moved, movedSteps := NewFixture("B-3", 2, base.Add(2*time.Minute))
				require.NoError(t, repo.Create(ctx, moved, movedSteps))
				require.NoError(t, repo.ApplyTransition(ctx, advance(moved.ID, 1, base.Add(time.Hour))))

				pending, err := repo.ListPending(ctx, "user-7", "ROLE_A")
				require.NoError(t, err)
				require.Len(t, pending, 2)
				assert.Equal(t, byRole.ID, pending[0].Workflow.ID)
				assert.Equal(t, 1, pending[0].ActiveStep.StepNumber)
				assert.Equal(t, assigned.ID, pending[1].Workflow.ID)

				pending, err = repo.ListPending(ctx, "", "ROLE_B")
				require.NoError(t, err)
				require.Len(t, pending, 1)
				assert.Equal(t, moved.ID, pending[0].Workflow.ID)
				assert.Equal(t, 2, pending[0].ActiveStep.StepNumber)

				pending, err = repo.ListPending(ctx, "nobody", "NO_ROLE")
				require.NoError(t, err)
				assert.Empty(t, pending)
			},
		},
		{
			name: "GetByReference_NewestFirst",
			f: func(t *testing.T, ctx context.Context, repo persistence.WorkflowRepository) {
				older, olderSteps := NewFixture("B-1", 1, base)
				require.NoError(t, repo.Create(ctx, older, olderSteps))

				newer, newerSteps := NewFixture("B-1", 1, base.Add(time.Hour))
				require.NoError(t, repo.Create(ctx, newer, newerSteps))

				other, otherSteps := NewFixture("B-2", 1, base)
				require.NoError(t, repo.Create(ctx, other, otherSteps))

				workflows, err := repo.GetByReference(ctx, "budget", "B-1")
				require.NoError(t, err)
				require.Len(t, workflows, 2)
				assert.Equal(t, newer.ID, workflows[0].ID)
				assert.Equal(t, older.ID, workflows[1].ID)

				workflows, err = repo.GetByReference(ctx, "otb", "B-1")
				require.NoError(t, err)
				assert.Empty(t, workflows)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := setup(t)
			tt.f(t, t.Context(), p.WorkflowRepository())
		})
	}
}

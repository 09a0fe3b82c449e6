package workflow_test

import (
	"errors"
	"testing"

	"github.com/merchplan/approvals/pkg/directory"
	"github.com/merchplan/approvals/pkg/mocks"
	"github.com/merchplan/approvals/pkg/models"
	"github.com/merchplan/approvals/pkg/notification"
	"github.com/merchplan/approvals/pkg/persistence"
	"github.com/merchplan/approvals/pkg/projection"
	"github.com/merchplan/approvals/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newMockedEngine(t *testing.T) (*workflow.Engine, *mocks.MockWorkflowRepository, *notification.Recorder) {
	t.Helper()

	repo := &mocks.MockWorkflowRepository{}
	sink := notification.NewRecorder()

	engine := workflow.NewEngine(
		repo,
		testRegistry(t),
		sink,
		directory.NewStatic(map[string][]string{"MERCH_MANAGER": {"mm-1"}}),
		projection.Funcs{},
	)

	t.Cleanup(func() { repo.AssertExpectations(t) })

	return engine, repo, sink
}

func activeWorkflow() (*models.WorkflowInstance, *models.WorkflowStep) {
	workflow := &models.WorkflowInstance{
		ID:          "wf-1",
		Type:        twoStep,
		Status:      models.WorkflowStatusInProgress,
		CurrentStep: 1,
		TotalSteps:  2,
	}
	step := &models.WorkflowStep{
		WorkflowID:   "wf-1",
		StepNumber:   1,
		Status:       models.StepStatusInProgress,
		RequiredRole: stringPtr("MERCH_MANAGER"),
	}

	return workflow, step
}

func TestEngine_CreateWorkflow_StoreFailure(t *testing.T) {
	engine, repo, sink := newMockedEngine(t)

	boom := errors.New("disk full")
	repo.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(boom)

	_, err := engine.CreateWorkflow(t.Context(), workflow.CreateRequest{
		Type:          twoStep,
		ReferenceID:   "B-1",
		ReferenceType: "budget",
		InitiatedBy:   "planner-1",
	})

	require.ErrorIs(t, err, boom)
	assert.False(t, workflow.IsInvalidInput(err))
	assert.Empty(t, sink.Notifications(), "nothing is announced for a workflow that was never stored")
}

func TestEngine_ProcessAction_LostRace(t *testing.T) {
	engine, repo, sink := newMockedEngine(t)

	wf, step := activeWorkflow()
	next := &models.WorkflowStep{WorkflowID: "wf-1", StepNumber: 2, Status: models.StepStatusPending}

	repo.On("GetByID", mock.Anything, "wf-1").Return(wf, nil)
	repo.On("Step", mock.Anything, "wf-1", 1).Return(step, nil)
	repo.On("Step", mock.Anything, "wf-1", 2).Return(next, nil)
	repo.On("ApplyTransition", mock.Anything, mock.MatchedBy(func(tr persistence.Transition) bool {
		return tr.WorkflowID == "wf-1" && tr.StepNumber == 1 && tr.StepStatus == models.StepStatusApproved
	})).Return(&persistence.WorkflowError{Op: "ApplyTransition", WorkflowID: "wf-1", Err: persistence.ErrConcurrentModification})

	_, err := engine.ProcessAction(t.Context(), workflow.ActionRequest{
		WorkflowID: "wf-1",
		StepNumber: 1,
		ActionBy:   "mm-1",
		Action:     models.ActionApprove,
	})

	require.True(t, workflow.IsInvalidState(err), "got %v", err)

	reason, ok := workflow.Reason(err)
	require.True(t, ok)
	assert.Equal(t, workflow.ReasonNotActiveStep, reason)
	assert.Empty(t, sink.Notifications())
}

func TestEngine_ProcessAction_StoreFailure(t *testing.T) {
	boom := errors.New("connection reset")

	t.Run("load", func(t *testing.T) {
		engine, repo, _ := newMockedEngine(t)

		repo.On("GetByID", mock.Anything, "wf-1").Return(nil, boom)

		_, err := engine.ProcessAction(t.Context(), workflow.ActionRequest{
			WorkflowID: "wf-1",
			StepNumber: 1,
			ActionBy:   "mm-1",
			Action:     models.ActionApprove,
		})

		require.ErrorIs(t, err, boom)
		assert.False(t, workflow.IsNotFound(err))
	})

	t.Run("transition", func(t *testing.T) {
		engine, repo, _ := newMockedEngine(t)

		wf, step := activeWorkflow()

		repo.On("GetByID", mock.Anything, "wf-1").Return(wf, nil)
		repo.On("Step", mock.Anything, "wf-1", 1).Return(step, nil)
		repo.On("ApplyTransition", mock.Anything, mock.Anything).Return(boom)

		_, err := engine.ProcessAction(t.Context(), workflow.ActionRequest{
			WorkflowID: "wf-1",
			StepNumber: 1,
			ActionBy:   "mm-1",
			Action:     models.ActionReject,
		})

		require.ErrorIs(t, err, boom)
		assert.False(t, workflow.IsInvalidState(err))
	})
}

func TestEngine_GetWorkflowDetails_StoreFailure(t *testing.T) {
	engine, repo, _ := newMockedEngine(t)

	wf, _ := activeWorkflow()
	boom := errors.New("timeout")

	repo.On("GetByID", mock.Anything, "wf-1").Return(wf, nil)
	repo.On("Steps", mock.Anything, "wf-1").Return(nil, boom)

	_, err := engine.GetWorkflowDetails(t.Context(), "wf-1")
	require.ErrorIs(t, err, boom)
}

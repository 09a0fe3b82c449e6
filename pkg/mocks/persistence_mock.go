package mocks

import (
	"context"
	"time"

	"github.com/merchplan/approvals/pkg/models"
	"github.com/merchplan/approvals/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

var _ persistence.WorkflowRepository = (*MockWorkflowRepository)(nil)

func (m *MockWorkflowRepository) Create(ctx context.Context, workflow *models.WorkflowInstance, steps []*models.WorkflowStep) error {
	args := m.Called(ctx, workflow, steps)

	return args.Error(0)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowInstance), args.Error(1)
}

func (m *MockWorkflowRepository) GetByReference(ctx context.Context, referenceType, referenceID string) ([]*models.WorkflowInstance, error) {
	args := m.Called(ctx, referenceType, referenceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowInstance), args.Error(1)
}

func (m *MockWorkflowRepository) Steps(ctx context.Context, workflowID string) ([]*models.WorkflowStep, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowStep), args.Error(1)
}

func (m *MockWorkflowRepository) Step(ctx context.Context, workflowID string, stepNumber int) (*models.WorkflowStep, error) {
	args := m.Called(ctx, workflowID, stepNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowStep), args.Error(1)
}

func (m *MockWorkflowRepository) ApplyTransition(ctx context.Context, transition persistence.Transition) error {
	args := m.Called(ctx, transition)

	return args.Error(0)
}

func (m *MockWorkflowRepository) MarkSLABreached(ctx context.Context, workflowID string, at time.Time) (bool, error) {
	args := m.Called(ctx, workflowID, at)

	return args.Bool(0), args.Error(1)
}

func (m *MockWorkflowRepository) ListOverdue(ctx context.Context, now time.Time) ([]*models.WorkflowInstance, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowInstance), args.Error(1)
}

func (m *MockWorkflowRepository) ListStepsDueBetween(ctx context.Context, from, to time.Time) ([]*models.WorkflowStep, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowStep), args.Error(1)
}

func (m *MockWorkflowRepository) ListPending(ctx context.Context, userID, role string) ([]*models.PendingWorkflow, error) {
	args := m.Called(ctx, userID, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.PendingWorkflow), args.Error(1)
}

package persistence_test

import (
	"errors"
	"testing"

	"github.com/merchplan/approvals/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		workflowErr := persistence.NewWorkflowError("GetByID", "workflow-123", persistence.ErrWorkflowNotFound)
		stepErr := persistence.NewStepError("Step", "workflow-123", 2, persistence.ErrStepNotFound)
		casErr := persistence.NewStepError("ApplyTransition", "workflow-123", 1, persistence.ErrConcurrentModification)

		assert.True(t, persistence.IsWorkflowNotFound(workflowErr))
		assert.True(t, persistence.IsStepNotFound(stepErr))
		assert.True(t, persistence.IsConcurrentModification(casErr))
		assert.False(t, persistence.IsWorkflowNotFound(stepErr))

		assert.True(t, errors.Is(workflowErr, persistence.ErrWorkflowNotFound))
		assert.True(t, errors.Is(stepErr, persistence.ErrStepNotFound))
	})

	t.Run("workflow error contains context", func(t *testing.T) {
		err := persistence.NewWorkflowError("GetByID", "workflow-123", persistence.ErrWorkflowNotFound)

		assert.Contains(t, err.Error(), "GetByID")
		assert.Contains(t, err.Error(), "workflow-123")
		assert.Contains(t, err.Error(), "workflow not found")
	})

	t.Run("step error contains step number", func(t *testing.T) {
		err := persistence.NewStepError("Step", "workflow-123", 3, persistence.ErrStepNotFound)

		assert.Contains(t, err.Error(), "step 3")
		assert.Contains(t, err.Error(), "step not found")
	})
}

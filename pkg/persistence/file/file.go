// Package file provides file-based persistence implementation for approval workflows.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/merchplan/approvals/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
// Atomicity holds within one process only; use a SQL store when several
// processes share the data.
type Persistence struct {
	root         string
	workflowRepo *WorkflowRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) persistence.Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:         cleanRoot,
		workflowRepo: NewWorkflowRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// WorkflowRepository returns the workflow repository implementation for file persistence.
func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

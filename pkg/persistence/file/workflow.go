package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/merchplan/approvals/pkg/models"
	"github.com/merchplan/approvals/pkg/persistence"
)

// WorkflowRepository stores one JSON document per workflow instance.
type WorkflowRepository struct {
	root string // File system root for storing workflows
	mu   sync.Mutex
}

var _ persistence.WorkflowRepository = (*WorkflowRepository)(nil)

type document struct {
	Workflow *models.WorkflowInstance `json:"workflow"`
	Steps    []*models.WorkflowStep   `json:"steps"`
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{root: root}
}

// Create writes the workflow document, failing if it already exists.
func (wr *WorkflowRepository) Create(_ context.Context, workflow *models.WorkflowInstance, steps []*models.WorkflowStep) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	if _, err := os.Stat(wr.filePath(workflow.ID)); err == nil {
		return persistence.NewWorkflowError("Create", workflow.ID, persistence.ErrWorkflowAlreadyExists)
	}

	stored := *workflow
	stored.Steps = nil

	return wr.write(&document{Workflow: &stored, Steps: steps})
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.WorkflowInstance, error) {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	doc, err := wr.read(id)
	if err != nil {
		return nil, err
	}

	return doc.Workflow, nil
}

// GetByReference scans all documents for the referenced entity.
func (wr *WorkflowRepository) GetByReference(_ context.Context, referenceType, referenceID string) ([]*models.WorkflowInstance, error) {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	docs, err := wr.readAll()
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.WorkflowInstance, 0)

	for _, doc := range docs {
		if doc.Workflow.ReferenceType == referenceType && doc.Workflow.ReferenceID == referenceID {
			workflows = append(workflows, doc.Workflow)
		}
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		if workflows[i].CreatedAt.Equal(workflows[j].CreatedAt) {
			return workflows[i].ID > workflows[j].ID
		}

		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	return workflows, nil
}

// Steps returns the steps ordered by step number.
func (wr *WorkflowRepository) Steps(_ context.Context, workflowID string) ([]*models.WorkflowStep, error) {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	doc, err := wr.read(workflowID)
	if err != nil {
		return nil, err
	}

	return doc.Steps, nil
}

// Step returns one step of the workflow.
func (wr *WorkflowRepository) Step(_ context.Context, workflowID string, stepNumber int) (*models.WorkflowStep, error) {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	doc, err := wr.read(workflowID)
	if err != nil {
		return nil, err
	}

	step := doc.step(stepNumber)
	if step == nil {
		return nil, persistence.NewStepError("Step", workflowID, stepNumber, persistence.ErrStepNotFound)
	}

	return step, nil
}

// ApplyTransition checks every precondition on the loaded document before
// writing it back, so a failed check leaves the file untouched.
func (wr *WorkflowRepository) ApplyTransition(_ context.Context, t persistence.Transition) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	doc, err := wr.read(t.WorkflowID)
	if err != nil {
		return err
	}

	conflict := persistence.NewStepError("ApplyTransition", t.WorkflowID, t.StepNumber, persistence.ErrConcurrentModification)

	step := doc.step(t.StepNumber)
	if step == nil || step.Status != models.StepStatusInProgress {
		return conflict
	}

	if doc.Workflow.Status != models.WorkflowStatusInProgress || doc.Workflow.CurrentStep != t.StepNumber {
		return conflict
	}

	var next *models.WorkflowStep
	if t.NextStep != nil {
		next = doc.step(*t.NextStep)
		if next == nil || next.Status != models.StepStatusPending {
			return conflict
		}
	}

	actionBy := t.ActionBy
	actionAt := t.ActionAt

	step.Status = t.StepStatus
	step.ActionBy = &actionBy
	step.ActionAt = &actionAt
	step.ActionComment = t.Comment
	step.UpdatedAt = t.ActionAt

	doc.Workflow.Status = t.WorkflowStatus
	doc.Workflow.CurrentStep = t.CurrentStep()
	doc.Workflow.CompletedAt = t.CompletedAt
	doc.Workflow.UpdatedAt = t.ActionAt

	if next != nil {
		next.Status = models.StepStatusInProgress
		next.DueAt = t.NextDueAt
		next.UpdatedAt = t.ActionAt
	}

	return wr.write(doc)
}

// MarkSLABreached flips the breach flag once.
func (wr *WorkflowRepository) MarkSLABreached(_ context.Context, workflowID string, at time.Time) (bool, error) {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	doc, err := wr.read(workflowID)
	if err != nil {
		return false, err
	}

	if doc.Workflow.Status != models.WorkflowStatusInProgress || doc.Workflow.SLABreached {
		return false, nil
	}

	doc.Workflow.SLABreached = true
	doc.Workflow.UpdatedAt = at

	err = wr.write(doc)
	if err != nil {
		return false, err
	}

	return true, nil
}

// ListOverdue returns unflagged in-progress workflows past their deadline.
func (wr *WorkflowRepository) ListOverdue(_ context.Context, now time.Time) ([]*models.WorkflowInstance, error) {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	docs, err := wr.readAll()
	if err != nil {
		return nil, err
	}

	overdue := make([]*models.WorkflowInstance, 0)

	for _, doc := range docs {
		w := doc.Workflow
		if w.Status == models.WorkflowStatusInProgress && !w.SLABreached && w.SLADeadline != nil && w.SLADeadline.Before(now) {
			overdue = append(overdue, w)
		}
	}

	sort.SliceStable(overdue, func(i, j int) bool {
		return overdue[i].SLADeadline.Before(*overdue[j].SLADeadline)
	})

	return overdue, nil
}

// ListStepsDueBetween returns active steps with from < due_at <= to.
func (wr *WorkflowRepository) ListStepsDueBetween(_ context.Context, from, to time.Time) ([]*models.WorkflowStep, error) {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	docs, err := wr.readAll()
	if err != nil {
		return nil, err
	}

	due := make([]*models.WorkflowStep, 0)

	for _, doc := range docs {
		for _, step := range doc.Steps {
			if step.Status == models.StepStatusInProgress && step.DueAt != nil && step.DueAt.After(from) && !step.DueAt.After(to) {
				due = append(due, step)
			}
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].DueAt.Before(*due[j].DueAt)
	})

	return due, nil
}

// ListPending returns in-progress workflows whose active step matches the user or role.
func (wr *WorkflowRepository) ListPending(_ context.Context, userID, role string) ([]*models.PendingWorkflow, error) {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	docs, err := wr.readAll()
	if err != nil {
		return nil, err
	}

	pending := make([]*models.PendingWorkflow, 0)

	for _, doc := range docs {
		if doc.Workflow.Status != models.WorkflowStatusInProgress {
			continue
		}

		active := doc.step(doc.Workflow.CurrentStep)
		if active == nil || active.Status != models.StepStatusInProgress {
			continue
		}

		assigned := userID != "" && active.AssignedUserID != nil && *active.AssignedUserID == userID
		roleMatch := role != "" && active.RequiredRole != nil && *active.RequiredRole == role

		if assigned || roleMatch {
			pending = append(pending, &models.PendingWorkflow{Workflow: doc.Workflow, ActiveStep: active})
		}
	}

	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Workflow.CreatedAt.Equal(pending[j].Workflow.CreatedAt) {
			return pending[i].Workflow.ID < pending[j].Workflow.ID
		}

		return pending[i].Workflow.CreatedAt.Before(pending[j].Workflow.CreatedAt)
	})

	return pending, nil
}

func (d *document) step(stepNumber int) *models.WorkflowStep {
	for _, step := range d.Steps {
		if step.StepNumber == stepNumber {
			return step
		}
	}

	return nil
}

func (wr *WorkflowRepository) dir() string {
	return path.Join(wr.root, "workflows")
}

func (wr *WorkflowRepository) filePath(id string) string {
	return filepath.Clean(path.Join(wr.dir(), id+".json"))
}

func (wr *WorkflowRepository) read(id string) (*document, error) {
	body, err := os.ReadFile(wr.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to fetch workflow %s: %w", id, err)
	}

	var doc document

	err = json.Unmarshal(body, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", id, err)
	}

	if doc.Workflow == nil {
		return nil, fmt.Errorf("workflow document %s has no instance", id)
	}

	return &doc, nil
}

func (wr *WorkflowRepository) readAll() ([]*document, error) {
	jsonFiles, err := fs.Glob(os.DirFS(wr.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	docs := make([]*document, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		doc, err := wr.read(strings.TrimSuffix(file, ".json"))
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow %s: %w", file, err)
		}

		docs = append(docs, doc)
	}

	return docs, nil
}

// write replaces the document through a rename so readers never see a partial file.
func (wr *WorkflowRepository) write(doc *document) error {
	err := os.MkdirAll(wr.dir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create workflows directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", doc.Workflow.ID, err)
	}

	tmp, err := os.CreateTemp(wr.dir(), doc.Workflow.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for workflow %s: %w", doc.Workflow.ID, err)
	}

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write workflow %s: %w", doc.Workflow.ID, err)
	}

	err = os.Rename(tmp.Name(), wr.filePath(doc.Workflow.ID))
	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to save workflow %s: %w", doc.Workflow.ID, err)
	}

	return nil
}

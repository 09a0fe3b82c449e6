package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/merchplan/approvals/pkg/directory"
	"github.com/merchplan/approvals/pkg/models"
	"github.com/merchplan/approvals/pkg/notification"
	"github.com/merchplan/approvals/pkg/persistence/file"
	"github.com/merchplan/approvals/pkg/projection"
	"github.com/merchplan/approvals/pkg/registry"
	"github.com/merchplan/approvals/pkg/sla"
	"github.com/merchplan/approvals/pkg/web"
	"github.com/merchplan/approvals/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	persistence := file.NewPersistence(t.TempDir())
	sink := notification.NewRecorder()
	resolver := directory.NewStatic(map[string][]string{"MERCH_MANAGER": {"mm-1"}})

	engine := workflow.NewEngine(
		persistence.WorkflowRepository(),
		registry.Default(),
		sink,
		resolver,
		projection.Funcs{},
		workflow.WithLogger(logger),
	)
	monitor := sla.NewMonitor(persistence.WorkflowRepository(), sink, resolver, sla.WithLogger(logger))

	handlers := web.NewAPIHandlers(engine, monitor, persistence, validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()
	handlers.Register(app)

	return app
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewBuffer(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func decodeProblem(t *testing.T, body []byte) map[string]any {
	t.Helper()

	var problem map[string]any
	require.NoError(t, json.Unmarshal(body, &problem))

	return problem
}

func createBudgetWorkflow(t *testing.T, app *fiber.App, referenceID string) *models.WorkflowInstance {
	t.Helper()

	status, body := doRequest(t, app, http.MethodPost, "/workflows", web.CreateWorkflowRequest{
		Type:          "BUDGET_APPROVAL",
		ReferenceID:   referenceID,
		ReferenceType: "budget",
		InitiatedBy:   "planner-1",
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	var wf models.WorkflowInstance
	require.NoError(t, json.Unmarshal(body, &wf))

	return &wf
}

func TestAPIHandlers_CreateWorkflow(t *testing.T) {
	t.Parallel()

	slaHours := 48

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		expectedType   string
		validateResult func(t *testing.T, body []byte)
	}{
		{
			name: "successful creation",
			requestBody: web.CreateWorkflowRequest{
				Type:          "BUDGET_APPROVAL",
				ReferenceID:   "B-1",
				ReferenceType: "budget",
				InitiatedBy:   "planner-1",
				SLAHours:      &slaHours,
			},
			expectedStatus: http.StatusCreated,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				var wf models.WorkflowInstance
				require.NoError(t, json.Unmarshal(body, &wf))
				assert.NotEmpty(t, wf.ID)
				assert.Equal(t, models.WorkflowStatusInProgress, wf.Status)
				assert.Equal(t, 1, wf.CurrentStep)
				assert.Equal(t, 3, wf.TotalSteps)
				assert.NotNil(t, wf.SLADeadline)
				require.Len(t, wf.Steps, 3)
				assert.Equal(t, models.StepStatusInProgress, wf.Steps[0].Status)
			},
		},
		{
			name: "validation error - missing reference",
			requestBody: web.CreateWorkflowRequest{
				Type:        "BUDGET_APPROVAL",
				InitiatedBy: "planner-1",
			},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name: "validation error - non-positive sla",
			requestBody: map[string]any{
				"type":          "BUDGET_APPROVAL",
				"reference_id":   "B-1",
				"reference_type": "budget",
				"initiated_by":   "planner-1",
				"sla_hours":      0,
			},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name: "unknown workflow type",
			requestBody: web.CreateWorkflowRequest{
				Type:          "MARKDOWN_APPROVAL",
				ReferenceID:   "B-1",
				ReferenceType: "budget",
				InitiatedBy:   "planner-1",
			},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "unknown_workflow_type",
		},
		{
			name:           "invalid JSON",
			requestBody:    "{invalid json",
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := setupTestApp(t)

			status, body := doRequest(t, app, http.MethodPost, "/workflows", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, status, string(body))

			if tt.expectedType != "" {
				assert.Equal(t, tt.expectedType, decodeProblem(t, body)["type"])
			}

			if tt.validateResult != nil {
				tt.validateResult(t, body)
			}
		})
	}
}

func TestAPIHandlers_GetWorkflow(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	created := createBudgetWorkflow(t, app, "B-1")

	status, body := doRequest(t, app, http.MethodGet, "/workflows/"+created.ID, nil)
	require.Equal(t, http.StatusOK, status)

	var wf models.WorkflowInstance
	require.NoError(t, json.Unmarshal(body, &wf))
	assert.Equal(t, created.ID, wf.ID)
	assert.Len(t, wf.Steps, 3)

	status, body = doRequest(t, app, http.MethodGet, "/workflows/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, status)

	problem := decodeProblem(t, body)
	assert.Equal(t, "not_found", problem["type"])
	assert.Equal(t, workflow.ReasonWorkflowNotFound, problem["detail"])
}

func TestAPIHandlers_ProcessAction(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	created := createBudgetWorkflow(t, app, "B-1")
	actions := "/workflows/" + created.ID + "/steps/"

	status, body := doRequest(t, app, http.MethodPost, actions+"1/actions", web.ActionRequest{
		Action:   "approve",
		ActionBy: "mm-1",
	})
	require.Equal(t, http.StatusOK, status, string(body))

	var result models.ActionResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, models.OutcomeMovedToNext, result.Status)
	require.NotNil(t, result.NextStep)
	assert.Equal(t, 2, *result.NextStep)
	assert.Equal(t, 2, result.Workflow.CurrentStep)

	tests := []struct {
		name           string
		path           string
		requestBody    any
		expectedStatus int
		expectedType   string
		expectedDetail string
	}{
		{
			name:           "same step twice",
			path:           actions + "1/actions",
			requestBody:    web.ActionRequest{Action: "approve", ActionBy: "mm-1"},
			expectedStatus: http.StatusConflict,
			expectedType:   "invalid_state",
			expectedDetail: workflow.ReasonNotActiveStep,
		},
		{
			name:           "step out of turn",
			path:           actions + "3/actions",
			requestBody:    web.ActionRequest{Action: "approve", ActionBy: "dir-1"},
			expectedStatus: http.StatusConflict,
			expectedType:   "invalid_state",
			expectedDetail: workflow.ReasonNotActiveStep,
		},
		{
			name:           "skip a required step",
			path:           actions + "2/actions",
			requestBody:    web.ActionRequest{Action: "skip", ActionBy: "fin-1"},
			expectedStatus: http.StatusConflict,
			expectedType:   "invalid_state",
			expectedDetail: workflow.ReasonStepNotSkippable,
		},
		{
			name:           "unknown step",
			path:           actions + "9/actions",
			requestBody:    web.ActionRequest{Action: "approve", ActionBy: "fin-1"},
			expectedStatus: http.StatusNotFound,
			expectedType:   "not_found",
			expectedDetail: workflow.ReasonStepNotFound,
		},
		{
			name:           "unknown workflow",
			path:           "/workflows/missing/steps/1/actions",
			requestBody:    web.ActionRequest{Action: "approve", ActionBy: "fin-1"},
			expectedStatus: http.StatusNotFound,
			expectedType:   "not_found",
			expectedDetail: workflow.ReasonWorkflowNotFound,
		},
		{
			name:           "invalid action",
			path:           actions + "2/actions",
			requestBody:    map[string]any{"action": "escalate", "action_by": "fin-1"},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "missing actor",
			path:           actions + "2/actions",
			requestBody:    map[string]any{"action": "approve"},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "bad step number",
			path:           actions + "two/actions",
			requestBody:    web.ActionRequest{Action: "approve", ActionBy: "fin-1"},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doRequest(t, app, http.MethodPost, tt.path, tt.requestBody)
			assert.Equal(t, tt.expectedStatus, status, string(body))

			problem := decodeProblem(t, body)
			assert.Equal(t, tt.expectedType, problem["type"])

			if tt.expectedDetail != "" {
				assert.Equal(t, tt.expectedDetail, problem["detail"])
			}
		})
	}

	comment := "insufficient detail"

	status, body = doRequest(t, app, http.MethodPost, actions+"2/actions", web.ActionRequest{
		Action:   "reject",
		ActionBy: "fin-1",
		Comment:  &comment,
	})
	require.Equal(t, http.StatusOK, status, string(body))

	var rejected models.ActionResult
	require.NoError(t, json.Unmarshal(body, &rejected))
	assert.Equal(t, models.OutcomeRejected, rejected.Status)
	assert.Nil(t, rejected.NextStep)
	assert.Equal(t, models.WorkflowStatusRejected, rejected.Workflow.Status)
	assert.Equal(t, models.StepStatusPending, rejected.Workflow.Steps[2].Status)

	status, body = doRequest(t, app, http.MethodPost, actions+"3/actions", web.ActionRequest{Action: "approve", ActionBy: "dir-1"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, workflow.ReasonAlreadyConcluded, decodeProblem(t, body)["detail"])
}

func TestAPIHandlers_GetPendingWorkflows(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	created := createBudgetWorkflow(t, app, "B-1")

	status, body := doRequest(t, app, http.MethodGet, "/workflows/pending?role=MERCH_MANAGER", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var response struct {
		Workflows  []models.PendingWorkflow `json:"workflows"`
		TotalCount int                      `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &response))
	require.Equal(t, 1, response.TotalCount)
	assert.Equal(t, created.ID, response.Workflows[0].Workflow.ID)
	assert.Equal(t, 1, response.Workflows[0].ActiveStep.StepNumber)

	status, body = doRequest(t, app, http.MethodGet, "/workflows/pending?role=FINANCE", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &response))
	assert.Equal(t, 0, response.TotalCount)

	status, body = doRequest(t, app, http.MethodGet, "/workflows/pending", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", decodeProblem(t, body)["type"])
}

func TestAPIHandlers_ListWorkflows(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	created := createBudgetWorkflow(t, app, "B-7")
	createBudgetWorkflow(t, app, "B-8")

	status, body := doRequest(t, app, http.MethodGet, "/workflows?reference_type=budget&reference_id=B-7", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var response struct {
		Workflows  []models.WorkflowInstance `json:"workflows"`
		TotalCount int                       `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &response))
	require.Equal(t, 1, response.TotalCount)
	assert.Equal(t, created.ID, response.Workflows[0].ID)

	status, _ = doRequest(t, app, http.MethodGet, "/workflows?reference_type=budget", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_CheckSLA(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	createBudgetWorkflow(t, app, "B-1")

	status, body := doRequest(t, app, http.MethodPost, "/sla/check", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var result sla.Result
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, sla.Result{}, result)
}

func TestAPIHandlers_GetDefinitions(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := doRequest(t, app, http.MethodGet, "/definitions", nil)
	require.Equal(t, http.StatusOK, status)

	var response struct {
		Definitions []models.WorkflowDefinition `json:"definitions"`
	}
	require.NoError(t, json.Unmarshal(body, &response))

	types := make([]models.WorkflowType, 0, len(response.Definitions))
	for _, definition := range response.Definitions {
		types = append(types, definition.Type)
	}

	assert.ElementsMatch(t, []models.WorkflowType{
		models.WorkflowTypeBudgetApproval,
		models.WorkflowTypeOTBApproval,
		models.WorkflowTypeSKUProposal,
	}, types)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := doRequest(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)

	var response map[string]any
	require.NoError(t, json.Unmarshal(body, &response))
	assert.Equal(t, "healthy", response["status"])
}

func TestAPIHandlers_FieldNamesAreSnakeCase(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	keys := func(t *testing.T, body []byte) map[string]any {
		t.Helper()

		var fields map[string]any
		require.NoError(t, json.Unmarshal(body, &fields))

		return fields
	}

	status, body := doRequest(t, app, http.MethodPost, "/workflows", map[string]any{
		"type":           "BUDGET_APPROVAL",
		"reference_id":   "B-42",
		"reference_type": "budget",
		"initiated_by":   "planner-1",
		"sla_hours":      24,
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	created := keys(t, body)
	assert.Equal(t, "B-42", created["reference_id"])
	assert.Equal(t, "planner-1", created["initiated_by"])
	assert.Contains(t, created, "sla_deadline")
	assert.NotContains(t, created, "referenceId")

	status, body = doRequest(t, app, http.MethodPost, "/workflows/"+created["id"].(string)+"/steps/1/actions", map[string]any{
		"action":    "approve",
		"action_by": "mm-1",
	})
	require.Equal(t, http.StatusOK, status, string(body))

	acted := keys(t, body)
	assert.EqualValues(t, 2, acted["next_step"])
	assert.NotContains(t, acted, "nextStep")

	status, body = doRequest(t, app, http.MethodGet, "/workflows?reference_type=budget&reference_id=B-42", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.EqualValues(t, 1, keys(t, body)["total_count"])

	status, body = doRequest(t, app, http.MethodPost, "/sla/check", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	checked := keys(t, body)
	assert.Contains(t, checked, "breached_count")
	assert.Contains(t, checked, "warning_count")
}

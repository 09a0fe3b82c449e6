package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/merchplan/approvals/pkg/directory"
	"github.com/merchplan/approvals/pkg/metrics"
	"github.com/merchplan/approvals/pkg/models"
	"github.com/merchplan/approvals/pkg/notification"
	"github.com/merchplan/approvals/pkg/persistence/file"
	"github.com/merchplan/approvals/pkg/projection"
	"github.com/merchplan/approvals/pkg/registry"
	"github.com/merchplan/approvals/pkg/sla"
	"github.com/merchplan/approvals/pkg/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	persistence := file.NewPersistence(t.TempDir())
	sink := notification.NewRecorder()
	resolver := directory.NewStatic(nil)

	reg := prometheus.NewRegistry()
	collectors := metrics.New(reg)

	engine := workflow.NewEngine(
		persistence.WorkflowRepository(),
		registry.Default(),
		sink,
		resolver,
		projection.Funcs{},
		workflow.WithLogger(logger),
		workflow.WithMetrics(collectors),
	)
	monitor := sla.NewMonitor(persistence.WorkflowRepository(), sink, resolver, sla.WithLogger(logger), sla.WithMetrics(collectors))

	return NewAPI(logger, persistence, engine, monitor, reg).App()
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t)

	status, body := get(t, app, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Approvals API", body)
}

func TestAPI_HealthProbes(t *testing.T) {
	app := setupTestApp(t)

	for _, path := range []string{"/livez", "/readyz"} {
		status, body := get(t, app, path)
		assert.Equal(t, http.StatusOK, status, path)
		assert.Equal(t, "OK", body, path)
	}
}

func TestAPI_Metrics(t *testing.T) {
	app := setupTestApp(t)

	payload, err := json.Marshal(map[string]any{
		"type":           "OTB_APPROVAL",
		"reference_id":   "OTB-1",
		"reference_type": "otb_plan",
		"initiated_by":   "planner-1",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/workflows", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	status, body := get(t, app, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `approvals_workflows_created_total{type="`+string(models.WorkflowTypeOTBApproval)+`"} 1`)
}

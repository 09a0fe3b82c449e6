// Package web provides HTTP handlers and REST API endpoints for approval workflows.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/merchplan/approvals/pkg/models"
	"github.com/merchplan/approvals/pkg/persistence"
	"github.com/merchplan/approvals/pkg/sla"
	"github.com/merchplan/approvals/pkg/workflow"
)

type APIHandlers struct {
	engine      *workflow.Engine
	checker     sla.Checker
	persistence persistence.Persistence
	validator   *validator.Validate
}

func NewAPIHandlers(
	engine *workflow.Engine,
	checker sla.Checker,
	persistence persistence.Persistence,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		engine:      engine,
		checker:     checker,
		persistence: persistence,
		validator:   validator,
	}
}

// Register mounts every endpoint on router.
func (h *APIHandlers) Register(router fiber.Router) {
	w := router.Group("/workflows")
	w.Get("/", h.ListWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/pending", h.GetPendingWorkflows)
	w.Get("/:id", h.GetWorkflow)
	w.Post("/:id/steps/:step/actions", h.ProcessAction)

	router.Post("/sla/check", h.CheckSLA)
	router.Get("/definitions", h.GetDefinitions)
	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.engine.CreateWorkflow(c.Context(), req.toEngine())
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	wf, err := h.engine.GetWorkflowDetails(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(wf)
}

// ListWorkflows returns the workflows that guarded one entity.
func (h *APIHandlers) ListWorkflows(c fiber.Ctx) error {
	referenceType := c.Query("reference_type")
	referenceID := c.Query("reference_id")

	if referenceType == "" || referenceID == "" {
		return badRequest(c, "reference_type and reference_id query parameters are required")
	}

	workflows, err := h.engine.WorkflowsForReference(c.Context(), referenceType, referenceID)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetPendingWorkflows(c fiber.Ctx) error {
	pending, err := h.engine.GetPendingWorkflows(c.Context(), c.Query("user_id"), c.Query("role"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   pending,
		"total_count": len(pending),
	})
}

func (h *APIHandlers) ProcessAction(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	stepNumber, err := strconv.Atoi(c.Params("step"))
	if err != nil || stepNumber < 1 {
		return badRequest(c, "Step number must be a positive integer")
	}

	var req ActionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.engine.ProcessAction(c.Context(), workflow.ActionRequest{
		WorkflowID: id,
		StepNumber: stepNumber,
		ActionBy:   req.ActionBy,
		Action:     models.Action(req.Action),
		Comment:    req.Comment,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(result)
}

// CheckSLA runs one scan on demand. Partial results are not returned on failure.
func (h *APIHandlers) CheckSLA(c fiber.Ctx) error {
	result, err := h.checker.Check(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetDefinitions(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"definitions": h.engine.Definitions(),
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Approvals API is healthy"
	httpStatus := http.StatusOK
	repositoryCheck := "ok"

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "Approvals API is unhealthy"
		httpStatus = http.StatusInternalServerError
		repositoryCheck = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

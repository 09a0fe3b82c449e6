package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/merchplan/approvals/pkg/workflow"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError maps the engine's error taxonomy onto problem responses.
// The detail carries the reason so clients can tell "not your turn" from
// "already decided" from "not found".
func handleEngineError(c fiber.Ctx, err error) error {
	detail, ok := workflow.Reason(err)
	if !ok {
		detail = err.Error()
	}

	var (
		status int
		kind   string
	)

	switch {
	case errors.Is(err, workflow.ErrUnknownWorkflowType):
		status, kind = fiber.StatusBadRequest, "unknown_workflow_type"
	case workflow.IsInvalidInput(err):
		status, kind = fiber.StatusBadRequest, "validation_error"
	case workflow.IsNotFound(err):
		status, kind = fiber.StatusNotFound, "not_found"
	case workflow.IsInvalidState(err):
		status, kind = fiber.StatusConflict, "invalid_state"
	default:
		return internalError(c, err)
	}

	problem := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(problem)
}

package web

import (
	"errors"

	"github.com/dukex/flowpages/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusNotFound).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func unauthorized(c fiber.Ctx) error {
	problem := problems.NewStatusProblem(fiber.StatusUnauthorized).
		WithInstance(c.Path()).
		WithType("unauthorized").
		WithDetail("missing or invalid bearer token")

	return c.Status(fiber.StatusUnauthorized).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		detail := err.Error()

		var serviceErr *services.ServiceError
		if errors.As(err, &serviceErr) && serviceErr.Message != "" {
			detail = serviceErr.Message
		}

		return badRequest(c, detail)

	case errors.Is(err, services.ErrAccessDenied):
		problem := problems.NewStatusProblem(fiber.StatusForbidden).
			WithInstance(c.Path()).
			WithType("access_denied").
			WithDetail("Access denied")

		return c.Status(fiber.StatusForbidden).JSON(problem)

	case errors.Is(err, services.ErrRunNotFound):
		problem := problems.NewStatusProblem(fiber.StatusNotFound).
			WithInstance(c.Path()).
			WithType("run_not_found").
			WithDetail("Run ID not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case errors.Is(err, services.ErrRunnerNotConfigured):
		problem := problems.NewStatusProblem(fiber.StatusNotFound).
			WithInstance(c.Path()).
			WithType("workflow_not_found").
			WithDetail("no workflow is hosted at this endpoint")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	default:
		return internalError(c, err)
	}
}

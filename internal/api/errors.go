package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/mbracero/fresco/pkg/schema"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

// handleServiceError maps structured error codes onto HTTP statuses.
func handleServiceError(c fiber.Ctx, err error) error {
	var ferr *schema.FrescoError
	if !errors.As(err, &ferr) {
		return internalError(c, err)
	}

	switch ferr.Code {
	case schema.ErrCodeNotFound:
		return problem(c, fiber.StatusNotFound, "not_found", ferr)
	case schema.ErrCodeValidation, schema.ErrCodeDanglingEdge, schema.ErrCodeTypeMismatch,
		schema.ErrCodeCycleDetected, schema.ErrCodeInterpolation:
		return problem(c, fiber.StatusBadRequest, "validation_error", ferr)
	case schema.ErrCodeConflict, schema.ErrCodeInvalidTransition:
		return problem(c, fiber.StatusConflict, "conflict", ferr)
	case schema.ErrCodeAuth:
		return problem(c, fiber.StatusUnauthorized, "auth_error", ferr)
	case schema.ErrCodeQuota:
		return problem(c, fiber.StatusTooManyRequests, "quota_exhausted", ferr)
	case schema.ErrCodeUnavailable, schema.ErrCodeCircuitOpen:
		return problem(c, fiber.StatusServiceUnavailable, "backend_unavailable", ferr)
	default:
		return internalError(c, err)
	}
}

func problem(c fiber.Ctx, status int, typ string, ferr *schema.FrescoError) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(typ).
		WithDetail(ferr.Message)

	return c.Status(status).JSON(p)
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p)
}

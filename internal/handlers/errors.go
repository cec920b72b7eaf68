package handlers

import (
	"errors"

	"tunesync-backend/internal/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// HandleError writes the JSON error response for err. Internal failures are
// logged in full and answered with a generic message.
func HandleError(c *fiber.Ctx, err error) error {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		log.Error().Err(err).Str("path", c.Path()).Msg("Unhandled error")
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "Internal server error"})
	}

	switch appErr.Kind {
	case apperr.KindValidation:
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: appErr.Message})
	case apperr.KindPermissionDenied, apperr.KindCapacityExceeded:
		return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{Error: appErr.Message})
	case apperr.KindNotFound:
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: appErr.Message})
	case apperr.KindConflict:
		body := fiber.Map{"error": appErr.Message}
		if appErr.Details != nil {
			body["room"] = appErr.Details
		}
		return c.Status(fiber.StatusConflict).JSON(body)
	default:
		log.Error().Err(err).
			Str("kind", appErr.Kind.String()).
			Str("path", c.Path()).
			Msg("Request failed")
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "Internal server error"})
	}
}

// ErrorHandler is the app-wide fiber error handler. Fiber errors keep their
// status and message; anything else is logged and answered with a 500.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(ErrorResponse{Error: fiberErr.Message})
	}

	log.Error().Err(err).
		Str("path", c.Path()).
		Str("ip", c.IP()).
		Msg("Error handling request")
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "Internal server error"})
}

func badBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "Invalid request body"})
}

package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/geoincidence/internal/core/domain"
)

// APIError is a structured error response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`    // Error code: invalid_coordinates, unsupported_crs, internal_error, etc.
	Message   string `json:"message"` // Human-readable message
	RequestID string `json:"request_id,omitempty"`
}

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	reqID, _ := c.Locals("requestid").(string)
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: reqID,
	})
}

// errBadRequest returns a 400 error.
func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, 400, "bad_request", msg)
}

// errInvalidCoordinates returns a 400 error for malformed or unprojectable input.
func errInvalidCoordinates(c *fiber.Ctx, msg string) error {
	return newError(c, 400, "invalid_coordinates", msg)
}

// errUnsupportedCRS returns a 400 error for an unknown reference system.
func errUnsupportedCRS(c *fiber.Ctx, msg string) error {
	return newError(c, 400, "unsupported_crs", msg)
}

// errInternal returns a 500 error.
func errInternal(c *fiber.Ctx, msg string) error {
	return newError(c, 500, "internal_error", msg)
}

// writeDomainError maps use case errors onto API errors. Context errors are
// returned unchanged so the timeout middleware can answer 408.
func writeDomainError(c *fiber.Ctx, err error) error {
	var v *domain.ValidationError
	switch {
	case errors.As(err, &v):
		return errInvalidCoordinates(c, v.Message)
	case errors.Is(err, domain.ErrUnknownCRS):
		return errUnsupportedCRS(c, err.Error())
	case errors.Is(err, domain.ErrRoundSuperseded):
		return newError(c, 409, "superseded", err.Error())
	}
	if c.UserContext().Err() != nil {
		return err
	}
	return errInternal(c, err.Error())
}

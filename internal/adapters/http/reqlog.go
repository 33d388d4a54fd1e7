package http

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/geoincidence/internal/pkg/logging"
)

// RequestIDLogMiddleware injects a request-scoped *slog.Logger carrying the
// Fiber request ID into the user context, where use cases retrieve it with
// logging.FromContext.
func RequestIDLogMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ridStr, ok := c.Locals("requestid").(string)
		if !ok || ridStr == "" {
			return c.Next()
		}

		reqLogger := slog.Default().With("request_id", ridStr)
		c.SetUserContext(logging.WithLogger(c.UserContext(), reqLogger))

		return c.Next()
	}
}

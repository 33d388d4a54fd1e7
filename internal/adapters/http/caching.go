package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CachingMiddleware sets Cache-Control headers on GET responses based on endpoint.
// Adds sensible defaults if not already set by the handler.
func CachingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		// Only set on successful GET requests
		if c.Method() != fiber.MethodGet || c.Response().StatusCode() != fiber.StatusOK {
			return err
		}

		// Don't override if already set
		if existing := string(c.Response().Header.Peek(fiber.HeaderCacheControl)); existing != "" {
			return err
		}

		path := c.Path()
		var ttl string

		switch {
		case path == "/v1/health" || path == "/v1/ready":
			ttl = "public, max-age=10"

		case path == "/v1/incidence" || strings.HasPrefix(path, "/ws/"):
			// Upstream layers change without notice
			ttl = "no-store"

		case path == "/v1/services":
			ttl = "public, max-age=3600"

		case path == "/v1/transform":
			ttl = "public, max-age=86400"

		case path == "/metrics":
			ttl = "no-cache"

		case strings.HasPrefix(path, "/docs"):
			ttl = "public, max-age=300"
		}

		if ttl != "" {
			c.Set(fiber.HeaderCacheControl, ttl)
		}

		return err
	}
}

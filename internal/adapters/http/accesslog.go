package http

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// AccessLogMiddleware logs HTTP requests with structured slog output.
func AccessLogMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		path := c.Path()
		method := c.Method()

		err := c.Next()

		// Set by the requestid middleware, which also echoes client-supplied IDs
		requestID, _ := c.Locals("requestid").(string)
		if requestID == "" {
			requestID = c.Get(fiber.HeaderXRequestID, "unknown")
		}

		status := c.Response().StatusCode()
		latency := time.Since(start)
		bytesOut := len(c.Response().Body())

		attrs := []slog.Attr{
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", status),
			slog.Int64("latency_ms", latency.Milliseconds()),
			slog.Int("bytes_out", bytesOut),
			slog.String("request_id", requestID),
		}

		// Determine log level based on status code
		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		// Add error if one occurred
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
			level = slog.LevelError
		}

		slog.LogAttrs(c.UserContext(), level, fmt.Sprintf("%s %s", method, path), attrs...)

		return err
	}
}

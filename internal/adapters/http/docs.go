package http

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/geoincidence/api"
)

// swaggerUIPage renders Swagger UI for the document at specURL.
func swaggerUIPage(title, specURL string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>%s</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
</head>
<body style="margin:0">
  <div id="swagger-ui"></div>
  <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({url: %q, dom_id: '#swagger-ui', docExpansion: 'list', tryItOutEnabled: true});
  </script>
</body>
</html>`, title, specURL)
}

// SetupDocs serves the embedded OpenAPI document as YAML and JSON, plus a
// Swagger UI page at /docs. A document that fails to load is logged and
// only the raw YAML is served.
func SetupDocs(app *fiber.App) {
	title := "Geoincidence API"
	var asJSON []byte

	spec, err := openapi3.NewLoader().LoadFromData(api.OpenAPI)
	if err == nil {
		title = spec.Info.Title
		asJSON, err = json.Marshal(spec)
	}
	if err != nil {
		slog.Warn("openapi document unavailable as JSON", "error", err)
	}

	page := swaggerUIPage(title, "/docs/openapi.yaml")
	app.Get("/docs", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		return c.SendString(page)
	})

	app.Get("/docs/openapi.yaml", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "application/yaml")
		return c.Send(api.OpenAPI)
	})

	app.Get("/docs/openapi.json", func(c *fiber.Ctx) error {
		if asJSON == nil {
			return errInternal(c, "openapi document unavailable")
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
		return c.Send(asJSON)
	})
}

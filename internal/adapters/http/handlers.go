package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/geoincidence/internal/core/domain"
	"github.com/samirrijal/geoincidence/internal/registry"
)

// ServicesResponse lists the registry without credentials.
type ServicesResponse struct {
	Services []registry.PublicService `json:"services"`
	Total    int                      `json:"total"`
}

// TransformResponse pairs the parsed input with its projection.
type TransformResponse struct {
	Input  domain.Coordinate `json:"input"`
	Output domain.Coordinate `json:"output"`
}

// IncidenceHandler runs a full query round for ?lat=&lon=.
func IncidenceHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		lat, lon := c.Query("lat"), c.Query("lon")
		if lat == "" || lon == "" {
			return errInvalidCoordinates(c, "lat and lon query parameters are required")
		}

		report, err := deps.Incidence.Run(c.UserContext(), lat, lon, nil)
		if err != nil {
			return writeDomainError(c, err)
		}

		c.Set(fiber.HeaderCacheControl, "no-store")
		return c.JSON(report)
	}
}

// ServicesHandler returns the public registry view in query order.
func ServicesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		services := registry.PublicView(deps.Incidence.Services())
		return c.JSON(ServicesResponse{Services: services, Total: len(services)})
	}
}

// TransformHandler converts ?x=&y= between reference systems. from defaults to
// EPSG:4326 and to defaults to EPSG:31983.
func TransformHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		x, y := c.Query("x"), c.Query("y")
		if x == "" || y == "" {
			return errInvalidCoordinates(c, "x and y query parameters are required")
		}

		from, err := domain.ParseCRS(c.Query("from", domain.EPSG4326.String()))
		if err != nil {
			return errUnsupportedCRS(c, err.Error())
		}
		to, err := domain.ParseCRS(c.Query("to", domain.EPSG31983.String()))
		if err != nil {
			return errUnsupportedCRS(c, err.Error())
		}

		out, err := deps.Incidence.Transform(c.UserContext(), x, y, from, to)
		if err != nil {
			return writeDomainError(c, err)
		}
		in, _ := domain.ParseCoordinate(x, y, from)
		return c.JSON(TransformResponse{Input: in, Output: out})
	}
}

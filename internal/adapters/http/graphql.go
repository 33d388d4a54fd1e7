package http

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/geoincidence/internal/core/domain"
	"github.com/samirrijal/geoincidence/internal/registry"
)

// buildSchema creates the GraphQL schema wired to the incidence service.
// Field names follow the REST JSON tags so both surfaces read alike.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	coordinateType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Coordinate",
		Fields: graphql.Fields{
			"x": &graphql.Field{Type: graphql.Float},
			"y": &graphql.Field{Type: graphql.Float},
			"crs": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if c, ok := p.Source.(domain.Coordinate); ok {
						return c.CRS.String(), nil
					}
					return nil, nil
				},
			},
		},
	})

	attributeType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Attribute",
		Fields: graphql.Fields{
			"key": &graphql.Field{Type: graphql.String},
			"value": &graphql.Field{
				Type:        graphql.String,
				Description: "Display text; null when the provider sent null",
			},
			"kind": &graphql.Field{Type: graphql.String},
		},
	})

	outcomeType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Outcome",
		Fields: graphql.Fields{
			"layer_name":       &graphql.Field{Type: graphql.String},
			"kind":             &graphql.Field{Type: graphql.String},
			"status":           &graphql.Field{Type: graphql.String},
			"has_intersection": &graphql.Field{Type: graphql.Boolean},
			"error":            &graphql.Field{Type: graphql.String},
			"elapsed_ms":       &graphql.Field{Type: graphql.Int},
			"attributes": &graphql.Field{
				Type: graphql.NewList(attributeType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					var attrs *domain.Attributes
					switch o := p.Source.(type) {
					case domain.QueryOutcome:
						attrs = o.Attributes
					case *domain.QueryOutcome:
						attrs = o.Attributes
					}
					if attrs == nil {
						return nil, nil
					}
					return attributeRows(attrs), nil
				},
			},
		},
	})

	summaryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Summary",
		Fields: graphql.Fields{
			"total":        &graphql.Field{Type: graphql.Int},
			"intersecting": &graphql.Field{Type: graphql.Int},
			"clear":        &graphql.Field{Type: graphql.Int},
			"failed":       &graphql.Field{Type: graphql.Int},
		},
	})

	reportType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Report",
		Fields: graphql.Fields{
			"input":        &graphql.Field{Type: geoPointType},
			"projected":    &graphql.Field{Type: coordinateType},
			"outcomes":     &graphql.Field{Type: graphql.NewList(outcomeType)},
			"summary":      &graphql.Field{Type: summaryType},
			"started_at":   &graphql.Field{Type: graphql.DateTime},
			"completed_at": &graphql.Field{Type: graphql.DateTime},
		},
	})

	serviceType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Service",
		Fields: graphql.Fields{
			"name":          &graphql.Field{Type: graphql.String},
			"url":           &graphql.Field{Type: graphql.String},
			"kind":          &graphql.Field{Type: graphql.String},
			"requires_auth": &graphql.Field{Type: graphql.Boolean},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"services": &graphql.Field{
				Type:        graphql.NewList(serviceType),
				Description: "List the services checked by each round, in order",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return registry.PublicView(deps.Incidence.Services()), nil
				},
			},
			"incidence": &graphql.Field{
				Type:        reportType,
				Description: "Run a query round for a latitude/longitude pair",
				Args: graphql.FieldConfigArgument{
					"lat": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"lon": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					ctx, cancel := context.WithTimeout(p.Context, deps.roundTimeout())
					defer cancel()
					return deps.Incidence.Run(ctx, p.Args["lat"].(string), p.Args["lon"].(string), nil)
				},
			},
			"transform": &graphql.Field{
				Type:        coordinateType,
				Description: "Convert a coordinate between EPSG:4326 and EPSG:31983",
				Args: graphql.FieldConfigArgument{
					"x":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"y":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"from": &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: "EPSG:4326"},
					"to":   &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: "EPSG:31983"},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					from, err := domain.ParseCRS(p.Args["from"].(string))
					if err != nil {
						return nil, err
					}
					to, err := domain.ParseCRS(p.Args["to"].(string))
					if err != nil {
						return nil, err
					}
					return deps.Incidence.Transform(p.Context, p.Args["x"].(string), p.Args["y"].(string), from, to)
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

type attributeRow struct {
	Key   string  `json:"key"`
	Value *string `json:"value"`
	Kind  string  `json:"kind"`
}

func attributeRows(attrs *domain.Attributes) []attributeRow {
	if attrs == nil {
		return nil
	}
	rows := make([]attributeRow, 0, attrs.Len())
	for _, f := range attrs.Fields() {
		row := attributeRow{Key: f.Key, Kind: f.Value.Kind.String()}
		if !f.Value.IsNull() {
			text := f.Value.Text()
			row.Value = &text
		}
		rows = append(rows, row)
	}
	return rows
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		c.Set(fiber.HeaderCacheControl, "no-store")
		return c.JSON(result)
	}
}

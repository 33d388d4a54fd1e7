// Package api holds the OpenAPI description of the HTTP API.
package api

import _ "embed"

// OpenAPI is the OpenAPI 3 document for the REST, GraphQL and WebSocket API.
//
//go:embed openapi.yaml
var OpenAPI []byte

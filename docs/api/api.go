// Package api embeds the OpenAPI description of the gateway's REST surface.
package api

import _ "embed"

//go:embed openapi.yaml
var OpenAPISpec []byte

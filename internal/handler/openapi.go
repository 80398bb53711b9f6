package handler

import (
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

// OpenAPIHandler serves the OpenAPI 3 description of the public game-server
// surface. The document is built once at startup; the operator surface is
// deliberately undocumented here.
type OpenAPIHandler struct {
	doc *openapi3.T
}

// NewOpenAPIHandler builds the static spec document.
func NewOpenAPIHandler(version string) *OpenAPIHandler {
	return &OpenAPIHandler{doc: buildSpec(version)}
}

// ServeSpec returns the OpenAPI document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.doc)
}

func buildSpec(version string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "Gatekeep API",
			Description: "Session-issuing authentication gateway for game servers.",
			Version:     version,
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["sessionToken"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:   "http",
			Scheme: "bearer",
		},
	}

	doc.Components.Schemas["ErrorResponse"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"code":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
							"reason":  &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
							"message": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
						},
					},
				},
			},
		},
	}

	doc.Components.Schemas["Session"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"sessionToken": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"tier": &openapi3.SchemaRef{Value: &openapi3.Schema{
					Type: &openapi3.Types{"string"},
					Enum: []interface{}{"free", "standard", "premium", "enterprise"},
				}},
				"scopes": &openapi3.SchemaRef{Value: &openapi3.Schema{
					Type:  &openapi3.Types{"array"},
					Items: &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				}},
				"ttl":       &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}},
				"expiresAt": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}},
			},
		},
	}

	doc.Components.Schemas["Refreshed"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"sessionToken": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"ttl":          &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}},
				"expiresAt":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}},
			},
		},
	}

	doc.Components.Schemas["OK"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"ok": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}},
			},
		},
	}

	doc.Paths = openapi3.NewPaths()

	validateBody := &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"apiKey", "universeId"},
			Properties: openapi3.Schemas{
				"apiKey":     &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"universeId": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"placeId":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"jobId":      &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
			},
		},
	}

	doc.Paths.Set("/v1/auth/validate", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"auth"},
			Summary:     "Exchange an API key for a session token",
			OperationID: "validate",
			RequestBody: &openapi3.RequestBodyRef{
				Value: &openapi3.RequestBody{
					Required: true,
					Content:  openapi3.NewContentWithJSONSchemaRef(validateBody),
				},
			},
			Responses: newResponses("200", "Session issued",
				openapi3.NewSchemaRef("#/components/schemas/Session", nil),
				"400", "401", "403", "404"),
		},
	})

	doc.Paths.Set("/v1/auth/refresh", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"auth"},
			Summary:     "Extend a live session's expiry",
			OperationID: "refresh",
			Security:    &openapi3.SecurityRequirements{{"sessionToken": {}}},
			Responses: newResponses("200", "Session extended",
				openapi3.NewSchemaRef("#/components/schemas/Refreshed", nil),
				"401"),
		},
	})

	doc.Paths.Set("/v1/auth/revoke", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"auth"},
			Summary:     "Terminate a session",
			OperationID: "revoke",
			Security:    &openapi3.SecurityRequirements{{"sessionToken": {}}},
			Responses: newResponses("200", "Session revoked",
				openapi3.NewSchemaRef("#/components/schemas/OK", nil),
				"401"),
		},
	})

	usageBody := &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"apiCalls":      &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}},
				"transportMsgs": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}},
				"peakCcu":       &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}},
			},
		},
	}

	doc.Paths.Set("/v1/usage/report", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"usage"},
			Summary:     "Submit fire-and-forget usage telemetry",
			OperationID: "reportUsage",
			Security:    &openapi3.SecurityRequirements{{"sessionToken": {}}},
			RequestBody: &openapi3.RequestBodyRef{
				Value: &openapi3.RequestBody{
					Content: openapi3.NewContentWithJSONSchemaRef(usageBody),
				},
			},
			Responses: newResponses("202", "Report accepted",
				openapi3.NewSchemaRef("#/components/schemas/OK", nil),
				"401"),
		},
	})

	return doc
}

// newResponses builds a response set with one success response plus the
// standard error envelope for each given error status.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef, errStatuses ...string) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", nil)
	for _, st := range errStatuses {
		desc := "Error"
		responses.Set(st, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}

	return responses
}

// Package openapi generates the OpenAPI document describing the admin
// surface's HTTP endpoints (enrichment, see SPEC_FULL.md §C.5), the way
// the teacher's internal/openapi/generator.go describes its own REST
// surface for each connected database service.
package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"
)

// Generate builds the OpenAPI 3.1 document for the admin surface mounted at
// baseURL.
func Generate(baseURL string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "servicenow admin API",
			Description: "Triggers table reconciliation against a ServiceNow-style instance and reports the resulting pending-action plan.",
			Version:     "1.0.0",
		},
		Servers: openapi3.Servers{{URL: baseURL}},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}
	doc.Security = openapi3.SecurityRequirements{{"bearerAuth": {}}}

	doc.Paths = openapi3.NewPaths()

	doc.Components.Schemas["ErrorResponse"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"code":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
							"message": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
							"context": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
						},
					},
				},
			},
		},
	}

	actionSchema := &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"kind":   {Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"target": {Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"reason": {Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
			},
		},
	}
	planSchema := &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"actions": {
					Value: &openapi3.Schema{
						Type:  &openapi3.Types{"array"},
						Items: actionSchema,
					},
				},
			},
		},
	}
	doc.Components.Schemas["Plan"] = planSchema

	doc.Paths.Set("/healthz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"health"},
			Summary:     "Liveness probe",
			OperationID: "healthz",
			Security:    &openapi3.SecurityRequirements{},
			Responses: newResponses("200", "ok", &openapi3.SchemaRef{
				Value: &openapi3.Schema{
					Type:       &openapi3.Types{"object"},
					Properties: openapi3.Schemas{"status": {Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}},
				},
			}),
		},
	})

	syncRequestSchema := &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"table_yaml": {Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"commit":     {Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}},
			},
			Required: []string{"table_yaml"},
		},
	}

	doc.Paths.Set("/v1/sync/table", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"sync"},
			Summary:     "Plan or commit a table sync",
			Description: "Diffs a YAML table descriptor against the instance, optionally committing the result.",
			OperationID: "syncTable",
			RequestBody: &openapi3.RequestBodyRef{
				Value: &openapi3.RequestBody{
					Required: true,
					Content:  openapi3.NewContentWithJSONSchemaRef(syncRequestSchema),
				},
			},
			Responses: newResponses("200", "pending or applied plan", planSchema),
		},
	})

	return doc
}

// newResponses builds a success response plus the standard error responses,
// grounded on the teacher's own newResponses helper.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", nil)
	badReqDesc := "Bad request"
	responses.Set("400", &openapi3.ResponseRef{
		Value: &openapi3.Response{Description: &badReqDesc, Content: openapi3.NewContentWithJSONSchemaRef(errorRef)},
	})
	unauthDesc := "Unauthorized"
	responses.Set("401", &openapi3.ResponseRef{
		Value: &openapi3.Response{Description: &unauthDesc, Content: openapi3.NewContentWithJSONSchemaRef(errorRef)},
	})

	return responses
}

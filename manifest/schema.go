package manifest

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// manifestSchema is the JSON-Schema for manifest documents, checked before
// decoding so structural errors surface with field paths.
var manifestSchema = map[string]interface{}{
	"$schema":              "http://json-schema.org/draft-07/schema#",
	"type":                 "object",
	"required":             []interface{}{"manifestVersion", "id", "request", "response"},
	"additionalProperties": false,
	"properties": map[string]interface{}{
		"manifestVersion": map[string]interface{}{"type": "string", "minLength": 1},
		"id":              map[string]interface{}{"type": "string", "minLength": 1},
		"title":           map[string]interface{}{"type": "string"},
		"description":     map[string]interface{}{"type": "string"},
		"prepareUrl":      map[string]interface{}{"type": "string"},
		"request": map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"method", "url"},
			"properties": map[string]interface{}{
				"method":  map[string]interface{}{"type": "string"},
				"url":     map[string]interface{}{"type": "string", "minLength": 1},
				"version": map[string]interface{}{"type": "string"},
				"headers": map[string]interface{}{
					"type":                 "object",
					"additionalProperties": map[string]interface{}{"type": "string"},
				},
				"body": map[string]interface{}{"type": "string"},
				"vars": map[string]interface{}{
					"type": "object",
					"additionalProperties": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"description": map[string]interface{}{"type": "string"},
							"required":    map[string]interface{}{"type": "boolean"},
							"pattern":     map[string]interface{}{"type": "string"},
							"length":      map[string]interface{}{"type": "integer", "minimum": 1},
							"default":     map[string]interface{}{"type": []interface{}{"string", "null"}},
						},
					},
				},
			},
		},
		"response": map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"status"},
			"properties": map[string]interface{}{
				"status":  map[string]interface{}{"type": "integer"},
				"version": map[string]interface{}{"type": "string"},
				"message": map[string]interface{}{"type": "string"},
				"headers": map[string]interface{}{
					"type":                 "object",
					"additionalProperties": map[string]interface{}{"type": "string"},
				},
				"body": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"format": map[string]interface{}{
							"type": "string",
							"enum": []interface{}{"json", "html", "text"},
						},
						"matches": map[string]interface{}{
							"type": "array",
							"items": map[string]interface{}{
								"type": "object",
								"properties": map[string]interface{}{
									"name":     map[string]interface{}{"type": "string"},
									"jsonPath": map[string]interface{}{"type": "string"},
									"xPath":    map[string]interface{}{"type": "string"},
									"contains": map[string]interface{}{"type": "string"},
									"equals":   map[string]interface{}{"type": "string"},
								},
							},
						},
					},
				},
			},
		},
	},
}

var (
	compiledSchema     *gojsonschema.Schema
	compileSchemaOnce  sync.Once
	compileSchemaError error
)

func schema() (*gojsonschema.Schema, error) {
	compileSchemaOnce.Do(func() {
		compiledSchema, compileSchemaError = gojsonschema.NewSchema(
			gojsonschema.NewGoLoader(manifestSchema))
	})
	return compiledSchema, compileSchemaError
}

// ParseJSON validates a raw manifest document against the schema, decodes
// it and runs semantic validation.
func ParseJSON(doc []byte) (*Manifest, error) {
	sch, err := schema()
	if err != nil {
		return nil, fmt.Errorf("failed to compile manifest schema: %w", err)
	}

	result, err := sch.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, &ManifestError{Field: "document", Reason: err.Error()}
	}
	if !result.Valid() {
		var b strings.Builder
		for _, e := range result.Errors() {
			if b.Len() > 0 {
				b.WriteString("; ")
			}
			b.WriteString(e.String())
		}
		return nil, &ManifestError{Field: "document", Reason: b.String()}
	}

	var m Manifest
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, &ManifestError{Field: "document", Reason: err.Error()}
	}
	if m.Request.Version == "" {
		m.Request.Version = HTTP11
	}
	if m.Response.Version == "" {
		m.Response.Version = HTTP11
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/mediaflow/config"
)

// catalogMetaSchema constrains the exported catalog.
const catalogMetaSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["$schema", "$id", "components"],
  "properties": {
    "components": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["kind", "version", "description", "roles", "ports", "controls"],
        "properties": {
          "kind": {"type": "string", "pattern": "^[a-z][a-z0-9_-]*$"},
          "version": {"type": "string", "pattern": "^[0-9]+\\.[0-9]+\\.[0-9]+$"},
          "roles": {"type": "array", "minItems": 1, "items": {"type": "string"}},
          "ports": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["index", "direction", "stream_type", "min_buffers", "buffer_size"],
              "properties": {
                "index": {"type": "integer", "minimum": 0},
                "direction": {"enum": ["input", "output"]},
                "min_buffers": {"type": "integer", "minimum": 1},
                "buffer_size": {"type": "integer", "minimum": 1}
              }
            }
          },
          "controls": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["name", "type"],
              "properties": {
                "type": {"enum": ["composite", "integer", "menu", "boolean"]}
              }
            }
          }
        }
      }
    }
  }
}`

// validateCatalog validates the catalog against its meta-schema
func validateCatalog(catalog Catalog) error {
	// Convert catalog to JSON for validation
	data, err := json.Marshal(catalog)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(catalogMetaSchema),
		gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if !result.Valid() {
		// Build error message from validation errors
		errMsg := fmt.Sprintf("catalog validation failed for %s:\n", catalog.ID)
		for _, desc := range result.Errors() {
			errMsg += fmt.Sprintf("  - %s: %s\n", desc.Field(), desc.Description())
		}
		return fmt.Errorf("%s", errMsg)
	}

	return nil
}

// validateDocument checks a pipeline YAML file against the exported schema
// only; semantic checks are left to mediaflow --validate.
func validateDocument(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return config.ValidateDocument(doc)
}

// internal/models/manifest.go
package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// manifestSchema is the JSON schema a model manifest must satisfy
const manifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "version", "format"],
  "properties": {
    "id":         {"type": "string", "minLength": 1, "pattern": "^[A-Za-z0-9._-]+$"},
    "version":    {"type": "string", "minLength": 1},
    "format":     {"type": "string", "minLength": 1},
    "task_type":  {"type": "string"},
    "size":       {"type": "integer", "minimum": 0},
    "parameters": {"type": "integer", "minimum": 0},
    "hash":       {"type": "string"},
    "checksum":   {"type": "string"},
    "tags":       {"type": "array", "items": {"type": "string"}},
    "categories": {"type": "array", "items": {"type": "string"}},
    "backend_requirements": {
      "type": "object",
      "properties": {
        "supported": {"type": "array", "items": {"type": "string"}},
        "preferred": {"type": "string"},
        "features":  {"type": "array", "items": {"type": "string"}}
      }
    },
    "system_requirements": {
      "type": "object",
      "properties": {
        "min_memory":  {"type": "number", "minimum": 0},
        "min_storage": {"type": "number", "minimum": 0},
        "gpu":         {"type": "boolean"}
      }
    },
    "performance": {
      "type": "object",
      "properties": {
        "inference_time": {"type": "integer", "minimum": 0},
        "memory_usage":   {"type": "number", "minimum": 0},
        "accuracy":       {"type": "number", "minimum": 0, "maximum": 1}
      }
    }
  }
}`

var manifestLoader = gojsonschema.NewStringLoader(manifestSchema)

// ParseManifest validates a JSON manifest against the schema and decodes it
func ParseManifest(data []byte) (*Metadata, error) {
	result, err := gojsonschema.Validate(manifestLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidMetadata, strings.Join(msgs, "; "))
	}

	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &md, nil
}

// RegisterManifest validates and registers a JSON manifest
func (r *Registry) RegisterManifest(data []byte) (*Metadata, error) {
	md, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	if err := r.Register(*md); err != nil {
		return nil, err
	}
	return r.Get(md.ID, md.Version)
}

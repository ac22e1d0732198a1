package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Request body schemas. Limits mirror the generation and benchmark bounds.
const (
	analyzeSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["binary"],
  "properties": {
    "binary": {"type": "string", "maxLength": 1048576}
  },
  "additionalProperties": false
}`

	compareSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "length": {"type": "integer", "minimum": 8, "maximum": 4096},
    "mode":   {"type": "string", "enum": ["simulator", "hardware", "ibm_hardware"]},
    "shots":  {"type": "integer", "minimum": 1, "maximum": 10000},
    "seed":   {"type": "integer"}
  },
  "additionalProperties": false
}`

	benchmarkSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["method"],
  "properties": {
    "method":     {"type": "string", "enum": ["classical", "quantum"]},
    "length":     {"type": "integer", "minimum": 8, "maximum": 4096},
    "iterations": {"type": "integer", "minimum": 1, "maximum": 100},
    "mode":       {"type": "string", "enum": ["simulator", "hardware", "ibm_hardware"]},
    "shots":      {"type": "integer", "minimum": 1, "maximum": 10000}
  },
  "additionalProperties": false
}`
)

// schemas holds the compiled request schemas.
type schemas struct {
	analyze   *jsonschema.Schema
	compare   *jsonschema.Schema
	benchmark *jsonschema.Schema
}

func compileSchemas() (schemas, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	sources := map[string]string{
		"schemas/analyze.json":   analyzeSchemaJSON,
		"schemas/compare.json":   compareSchemaJSON,
		"schemas/benchmark.json": benchmarkSchemaJSON,
	}
	for name, doc := range sources {
		if err := compiler.AddResource(name, strings.NewReader(doc)); err != nil {
			return schemas{}, fmt.Errorf("api: add schema %s: %w", name, err)
		}
	}

	var out schemas
	var err error
	if out.analyze, err = compiler.Compile("schemas/analyze.json"); err != nil {
		return schemas{}, fmt.Errorf("api: compile analyze schema: %w", err)
	}
	if out.compare, err = compiler.Compile("schemas/compare.json"); err != nil {
		return schemas{}, fmt.Errorf("api: compile compare schema: %w", err)
	}
	if out.benchmark, err = compiler.Compile("schemas/benchmark.json"); err != nil {
		return schemas{}, fmt.Errorf("api: compile benchmark schema: %w", err)
	}
	return out, nil
}

// validateJSON checks raw against schema before it is bound to a struct.
func validateJSON(schema *jsonschema.Schema, raw []byte) error {
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return errors.New(describe(verr))
		}
		return err
	}
	return nil
}

// describe flattens a validation error tree into "location: message" pairs
// from the leaf causes.
func describe(verr *jsonschema.ValidationError) string {
	var parts []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			location := e.InstanceLocation
			if location == "" {
				location = "/"
			}
			parts = append(parts, location+": "+e.Message)
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)
	return strings.Join(parts, "; ")
}

func decodeStrict(raw []byte, dst any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

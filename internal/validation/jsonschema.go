package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/bpmnkit/pkg/schema"
)

const workflowSpecSchemaURL = "https://bpmnkit.dev/schemas/workflow-spec.json"

// workflowSpecSchemaJSON is the JSON Schema for WorkflowSpec documents.
// Embedded as a constant to avoid filesystem dependencies.
const workflowSpecSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://bpmnkit.dev/schemas/workflow-spec.json",
  "type": "object",
  "required": ["processName", "participants", "trigger", "activities", "endEvent"],
  "properties": {
    "processName": { "type": "string", "minLength": 1, "maxLength": 512 },
    "processDescription": { "type": "string" },
    "participants": {
      "type": "array",
      "minItems": 1,
      "uniqueItems": true,
      "items": { "$ref": "#/$defs/label" }
    },
    "trigger": { "$ref": "#/$defs/label" },
    "activities": {
      "type": "array",
      "items": { "$ref": "#/$defs/label" }
    },
    "decisionPoints": {
      "type": "array",
      "items": { "$ref": "#/$defs/label" }
    },
    "endEvent": { "$ref": "#/$defs/label" },
    "additionalElements": {
      "type": "array",
      "items": { "type": "string" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "label": { "type": "string", "minLength": 1, "maxLength": 512 }
  }
}`

// Violation is one leaf failure reported by the JSON Schema validator.
type Violation struct {
	Path    string
	Message string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// JSONSchemaValidator validates documents against the WorkflowSpec schema and
// against caller-supplied schemas. It is safe for concurrent use.
type JSONSchemaValidator struct {
	specSchema *jsonschema.Schema

	// mu guards the cache of dynamically compiled schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the spec schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newInputCompiler()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSpecSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow spec schema: %w", err)
	}
	if err := c.AddResource(workflowSpecSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add workflow spec schema resource: %w", err)
	}

	specSchema, err := c.Compile(workflowSpecSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow spec schema: %w", err)
	}

	return &JSONSchemaValidator{
		specSchema: specSchema,
		cache:      make(map[string]*jsonschema.Schema),
	}, nil
}

// SpecViolations checks a decoded JSON document against the WorkflowSpec
// schema and returns every leaf violation.
func (v *JSONSchemaValidator) SpecViolations(doc any) []Violation {
	err := v.specSchema.Validate(doc)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []Violation{{Path: "/", Message: err.Error()}}
	}
	return collectViolations(verr)
}

// ValidateInput validates input against a JSON Schema provided as raw bytes.
// The schema is compiled and cached for subsequent calls with the same schema.
func (v *JSONSchemaValidator) ValidateInput(input any, inputSchema []byte) error {
	if len(inputSchema) == 0 {
		return nil // no schema means no validation needed
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}

	// Convert input to JSON-compatible value (json.Number for numbers).
	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toSchemaError(err)
	}
	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL and a fresh compiler.
	url := fmt.Sprintf("bpmnkit://input-schema/%d", len(v.cache))
	c := newInputCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// newInputCompiler creates a Compiler with format assertions enabled.
func newInputCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toSchemaError converts a jsonschema.ValidationError into a *schema.Error.
func toSchemaError(err error) *schema.Error {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	msgs := make([]string, 0, len(violations))
	for _, v := range violations {
		msgs = append(msgs, v.String())
	}

	switch len(msgs) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, msgs[0]).
			WithDetails(map[string]any{"violations": msgs})
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(msgs)).
			WithDetails(map[string]any{"violations": msgs})
	}
}

// collectViolations walks a ValidationError tree and collects leaf errors
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []Violation {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []Violation{{Path: loc, Message: verr.Error()}}
	}

	var violations []Violation
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}

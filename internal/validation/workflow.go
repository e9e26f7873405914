package validation

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/bpmnkit/internal/bpmn"
	"github.com/rendis/bpmnkit/pkg/schema"
)

// SpecValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (blank, duplicate and oversized labels, missing sections)
// 3. Graph (cycles, reachability, degenerate gateways, empty pools)
//
// The synthesizer accepts malformed specs and repairs them, so only a
// document that is not a JSON object, or a graph that cannot be drawn, is
// an error. Everything else is reported as a warning.
type SpecValidator struct {
	jsonSchema *JSONSchemaValidator
}

// NewSpecValidator creates a SpecValidator.
func NewSpecValidator() (*SpecValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &SpecValidator{jsonSchema: jsv}, nil
}

// Validate runs the full pipeline over a raw JSON document and returns the
// decoded spec alongside the aggregated result. The spec is nil when the
// document cannot be decoded.
func (sv *SpecValidator) Validate(doc []byte) (*schema.WorkflowSpec, *schema.ValidationResult) {
	result := &schema.ValidationResult{}

	// Stage 1: Structural (JSON Schema).
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, fmt.Sprintf("document is not valid JSON: %s", err.Error()))
		return nil, result
	}
	if _, ok := value.(map[string]any); !ok {
		result.AddError("/", schema.ErrCodeValidation, "workflow spec must be a JSON object")
		return nil, result
	}
	for _, v := range sv.jsonSchema.SpecViolations(value) {
		result.AddWarning(v.Path, schema.ErrCodeValidation, v.Message)
	}

	var spec schema.WorkflowSpec
	if err := json.Unmarshal(doc, &spec); err != nil {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return nil, result
	}

	// Stage 2: Semantic.
	result.Merge(validateSemantic(spec))

	// Stage 3: Graph.
	result.Merge(validateGraph(bpmn.BuildGraph(spec)))

	return &spec, result
}

// ValidateSpec runs the pipeline over an already decoded spec. Nil lists are
// omitted from the document so they read as absent rather than null.
func (sv *SpecValidator) ValidateSpec(spec schema.WorkflowSpec) *schema.ValidationResult {
	doc, err := json.Marshal(spec)
	if err == nil {
		var fields map[string]json.RawMessage
		if err = json.Unmarshal(doc, &fields); err == nil {
			for k, v := range fields {
				if string(v) == "null" {
					delete(fields, k)
				}
			}
			doc, err = json.Marshal(fields)
		}
	}
	if err != nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, err.Error())
		return r
	}
	_, result := sv.Validate(doc)
	return result
}

// ValidateInput delegates to the underlying JSONSchemaValidator.
func (sv *SpecValidator) ValidateInput(input any, inputSchema []byte) error {
	return sv.jsonSchema.ValidateInput(input, inputSchema)
}

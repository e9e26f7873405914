package validation

import "github.com/rendis/bpmnkit/pkg/schema"

// Validator checks workflow specs before synthesis.
// Uses JSON Schema Draft 2020-12 for structural checks.
type Validator interface {
	Validate(doc []byte) (*schema.WorkflowSpec, *schema.ValidationResult)
	ValidateInput(input any, inputSchema []byte) error
}

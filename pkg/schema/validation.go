package schema

import (
	"fmt"
	"slices"
)

// Severity of a validation issue. Warnings never block synthesis.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationIssue is one finding about a spec or a BPMN document. Spec
// findings carry a Path into the spec ("activities[2]", "/participants");
// document findings name the offending BPMN element instead.
type ValidationIssue struct {
	Path     string   `json:"path,omitempty"`
	Element  string   `json:"element,omitempty"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (i ValidationIssue) String() string {
	if i.Element != "" {
		return fmt.Sprintf("element %s: %s", i.Element, i.Message)
	}
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// ValidationResult collects the issues found by one validation or
// verification pass.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid reports whether there are no errors. A nil result is valid.
func (r *ValidationResult) Valid() bool {
	return r == nil || len(r.Errors) == 0
}

func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		Path: path, Code: code, Message: message, Severity: SeverityError,
	})
}

func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		Path: path, Code: code, Message: message, Severity: SeverityWarning,
	})
}

// AddElementError records an error against a BPMN element id.
func (r *ValidationResult) AddElementError(element, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		Element: element, Code: code, Message: message, Severity: SeverityError,
	})
}

// AddElementWarning records a warning against a BPMN element id.
func (r *ValidationResult) AddElementWarning(element, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		Element: element, Code: code, Message: message, Severity: SeverityWarning,
	})
}

// Merge appends the issues of other.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Elements returns the sorted distinct element ids named by errors.
func (r *ValidationResult) Elements() []string {
	var ids []string
	for _, issue := range r.Errors {
		if issue.Element != "" && !slices.Contains(ids, issue.Element) {
			ids = append(ids, issue.Element)
		}
	}
	slices.Sort(ids)
	return ids
}

// ToError returns nil when the result is valid. Otherwise it returns a
// VALIDATION_ERROR carrying every issue in its details; a lone element-level
// error also sets Element.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	first := r.Errors[0]
	msg := first.Message
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", len(r.Errors))
	}

	details := map[string]any{
		"error_count":   len(r.Errors),
		"warning_count": len(r.Warnings),
		"errors":        r.Errors,
		"warnings":      r.Warnings,
	}
	if ids := r.Elements(); len(ids) > 0 {
		details["elements"] = ids
	}

	err := NewError(ErrCodeValidation, msg).WithDetails(details)
	if len(r.Errors) == 1 && first.Element != "" {
		err.WithElement(first.Element)
	}
	return err
}

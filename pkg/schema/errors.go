package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeSynthesis  = "SYNTHESIS_ERROR"
	ErrCodeParse      = "PARSE_ERROR"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeConflict   = "CONFLICT"
	ErrCodeStore      = "STORE_ERROR"
)

// Error is the structured error type shared by every bpmnkit package.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Element string         `json:"element,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Element != "" {
		return fmt.Sprintf("[%s] element %s: %s", e.Code, e.Element, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithElement attaches the id of the offending BPMN element.
func (e *Error) WithElement(id string) *Error {
	e.Element = id
	return e
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// IsCode reports whether err is an *Error carrying the given code.
func IsCode(err error, code string) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == code
}

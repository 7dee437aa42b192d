package config

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingRequiredField indicates a required environment variable is unset.
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrInvalidValue indicates a field has an invalid value.
	ErrInvalidValue = errors.New("invalid field value")
)

// FieldError wraps a single configuration field's validation failure.
type FieldError struct {
	Field string
	Err   error
}

// Error returns a formatted message for one field.
func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *FieldError) Unwrap() error {
	return e.Err
}

// NewFieldError creates a FieldError.
func NewFieldError(field string, err error) *FieldError {
	return &FieldError{Field: field, Err: err}
}

// LoadError aggregates every field error found while loading configuration,
// so startup can report all problems at once instead of failing on the first.
type LoadError struct {
	Fields []*FieldError
}

// Error formats all accumulated field errors.
func (e *LoadError) Error() string {
	if len(e.Fields) == 1 {
		return fmt.Sprintf("configuration invalid: %v", e.Fields[0])
	}
	msg := fmt.Sprintf("configuration invalid (%d errors):", len(e.Fields))
	for _, f := range e.Fields {
		msg += fmt.Sprintf("\n  - %v", f)
	}
	return msg
}

// Add appends a field error, allocating Fields lazily.
func (e *LoadError) Add(field string, err error) {
	e.Fields = append(e.Fields, NewFieldError(field, err))
}

// HasErrors reports whether any field error was accumulated.
func (e *LoadError) HasErrors() bool {
	return len(e.Fields) > 0
}

// OrNil returns e as an error, or nil if no field errors were accumulated.
func (e *LoadError) OrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

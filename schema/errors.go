package schema

import (
	"fmt"
	"strings"
)

// Field error reasons.
const (
	ReasonMissingRequired = "missing required field"
	ReasonTypeCast        = "type cast failure"
	ReasonOutOfRange      = "out of range"
)

// FieldError describes the failure of a single field during normalisation.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

func (e FieldError) String() string {
	if e.Detail != "" {
		return fmt.Sprintf("%v: %v (%v)", e.Field, e.Reason, e.Detail)
	}
	return fmt.Sprintf("%v: %v", e.Field, e.Reason)
}

// ValidationError is returned when one or more fields fail normalisation.
// The record itself is never partially substituted; the caller decides whether
// to drop, quarantine or abort.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for idx, f := range e.Fields {
		msgs[idx] = f.String()
	}
	return fmt.Sprintf("validation failed for %v field(s): %v", len(e.Fields), strings.Join(msgs, "; "))
}

// Add appends a field error and returns the receiver for chaining.
func (e *ValidationError) Add(field, reason, detail string) *ValidationError {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason, Detail: detail})
	return e
}

// HasErrors reports whether any field failed.
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

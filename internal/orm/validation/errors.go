package validation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/conduit-lang/crudkit/internal/orm/result"
)

// ValidationErrors collects the problems found in one incoming DTO, keyed by
// client property name
type ValidationErrors struct {
	Fields map[string][]string `json:"fields"`
}

// NewValidationErrors creates a new ValidationErrors instance
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Fields: make(map[string][]string),
	}
}

// Add adds a validation error for a specific field
func (ve *ValidationErrors) Add(field, message string) {
	if ve.Fields == nil {
		ve.Fields = make(map[string][]string)
	}
	ve.Fields[field] = append(ve.Fields[field], message)
}

// AddFieldError adds a FieldError to the validation errors
func (ve *ValidationErrors) AddFieldError(err FieldError) {
	ve.Add(err.Field, err.Message)
}

// HasErrors returns true if there are any validation errors
func (ve *ValidationErrors) HasErrors() bool {
	return ve != nil && len(ve.Fields) > 0
}

// Count returns the total number of validation errors across all fields
func (ve *ValidationErrors) Count() int {
	count := 0
	for _, messages := range ve.Fields {
		count += len(messages)
	}
	return count
}

// Issues flattens the errors into result issues ordered by field name
func (ve *ValidationErrors) Issues() []result.ValidationIssue {
	fields := make([]string, 0, len(ve.Fields))
	for field := range ve.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	issues := make([]result.ValidationIssue, 0, ve.Count())
	for _, field := range fields {
		for _, msg := range ve.Fields[field] {
			issues = append(issues, result.ValidationIssue{Property: field, Issue: msg})
		}
	}
	return issues
}

// Result converts the errors into a failed step result, or OK when empty
func (ve *ValidationErrors) Result() result.Result {
	if !ve.HasErrors() {
		return result.OK()
	}
	return result.Invalid(ve.Issues()...)
}

// Error implements the error interface
func (ve *ValidationErrors) Error() string {
	if !ve.HasErrors() {
		return "validation failed"
	}

	issues := ve.Issues()
	if len(issues) == 1 {
		return fmt.Sprintf("validation failed: %s", issues[0])
	}

	messages := make([]string, len(issues))
	for i, issue := range issues {
		messages[i] = "  - " + issue.String()
	}
	return fmt.Sprintf("validation failed:\n%s", strings.Join(messages, "\n"))
}

// MarshalJSON implements json.Marshaler for custom JSON serialization
func (ve *ValidationErrors) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Error  string              `json:"error"`
		Fields map[string][]string `json:"fields"`
	}{
		Error:  "validation_failed",
		Fields: ve.Fields,
	})
}

// FieldError represents a validation error on a specific field
type FieldError struct {
	Field   string
	Message string
}

// Error implements the error interface
func (fe FieldError) Error() string {
	return fmt.Sprintf("%s: %s", fe.Field, fe.Message)
}

// NewFieldError creates a new FieldError
func NewFieldError(field, message string) FieldError {
	return FieldError{
		Field:   field,
		Message: message,
	}
}

package common

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError is returned before any mutation when caller-supplied data
// is rejected. Fields maps an offending field (or id) to its messages.
type ValidationError struct {
	Message string
	Fields  map[string][]string
}

// NewValidationError builds a ValidationError carrying the given field messages.
func NewValidationError(msg string, fields map[string][]string) *ValidationError {
	return &ValidationError{Message: msg, Fields: fields}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Fields[k], ", ")))
	}
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(parts, "; "))
}

// Unwrap lets errors.Is(err, ErrorInvalidData) match validation failures.
func (e *ValidationError) Unwrap() error {
	return ErrorInvalidData
}

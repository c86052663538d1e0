// Package validate carries field-level input errors across package boundaries.
package validate

import (
	"errors"
	"sort"
	"strings"
)

// ErrValidation matches any *Error via errors.Is.
var ErrValidation = errors.New("validation failed")

// Error lists invalid fields and a reason for each.
type Error struct {
	Fields map[string]string
}

// Field returns a single-field validation error.
func Field(name, reason string) *Error {
	return &Error{Fields: map[string]string{name: reason}}
}

// Add records a field failure.
func (e *Error) Add(name, reason string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[name] = reason
}

// Err returns e when it holds at least one field, nil otherwise.
func (e *Error) Err() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *Error) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *Error) Is(target error) bool {
	return target == ErrValidation
}

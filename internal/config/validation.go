// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"cmp"
	"fmt"
	"strings"
)

// Path represents a path to a config field for error reporting.
// It builds paths like "worker.readiness_timeout" for clear error messages.
type Path struct {
	segments []string
}

// NewPath creates a new path with a root segment.
func NewPath(root string) *Path {
	return &Path{segments: []string{root}}
}

// Child returns a new path with the child segment appended.
func (p *Path) Child(name string) *Path {
	newSegments := make([]string, len(p.segments)+1)
	copy(newSegments, p.segments)
	newSegments[len(p.segments)] = name
	return &Path{segments: newSegments}
}

// String returns the dot-separated path string.
func (p *Path) String() string {
	return strings.Join(p.segments, ".")
}

// FieldError represents a validation error for a specific config field.
type FieldError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []*FieldError

// Error implements the error interface, formatting all errors.
func (ve ValidationErrors) Error() string {
	var b strings.Builder
	for i, e := range ve {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(e.Error())
	}
	return b.String()
}

// OrNil returns nil if there are no errors, otherwise returns the ValidationErrors.
func (ve ValidationErrors) OrNil() error {
	if len(ve) == 0 {
		return nil
	}
	return ve
}

// MustBeInRange returns a FieldError when the value falls outside [min, max].
func MustBeInRange[T cmp.Ordered](path *Path, value, minVal, maxVal T) *FieldError {
	if value < minVal || value > maxVal {
		return &FieldError{
			Field:   path.String(),
			Message: fmt.Sprintf("must be between %v and %v, got %v", minVal, maxVal, value),
		}
	}
	return nil
}

// MustBeNonNegative returns a FieldError when the value is negative.
func MustBeNonNegative[T cmp.Ordered](path *Path, value T) *FieldError {
	var zero T
	if value < zero {
		return &FieldError{
			Field:   path.String(),
			Message: fmt.Sprintf("must not be negative, got %v", value),
		}
	}
	return nil
}

// MustBePositive returns a FieldError when the value is zero or negative.
func MustBePositive[T cmp.Ordered](path *Path, value T) *FieldError {
	var zero T
	if value <= zero {
		return &FieldError{
			Field:   path.String(),
			Message: fmt.Sprintf("must be positive, got %v", value),
		}
	}
	return nil
}

// MustNotBeEmpty returns a FieldError when the string is empty.
func MustNotBeEmpty(path *Path, value string) *FieldError {
	if strings.TrimSpace(value) == "" {
		return &FieldError{
			Field:   path.String(),
			Message: "must not be empty",
		}
	}
	return nil
}

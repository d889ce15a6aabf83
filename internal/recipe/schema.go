// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package recipe

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// ValidateConfig checks input against the schema and returns a new config map
// with declared defaults filled in for omitted fields. All offending fields
// are reported in one error.
func ValidateConfig(schema []Field, input map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(schema))
	var problems []string

	known := make(map[string]bool, len(schema))
	for _, f := range schema {
		known[f.Name] = true

		raw, ok := input[f.Name]
		if !ok {
			if f.Default != nil {
				out[f.Name] = f.Default
				continue
			}
			if f.Required {
				problems = append(problems, fmt.Sprintf("%s: required field is missing", f.Name))
			}
			continue
		}

		val, err := coerce(f, raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", f.Name, err))
			continue
		}
		out[f.Name] = val
	}

	for name := range input {
		if !known[name] {
			problems = append(problems, fmt.Sprintf("%s: unknown field", name))
		}
	}

	if len(problems) > 0 {
		slices.Sort(problems)
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return out, nil
}

// coerce converts a raw input value to the field's declared type. JSON
// decoding hands numbers over as float64, so integral floats are accepted for
// int fields.
func coerce(f Field, raw any) (any, error) {
	switch f.Type {
	case FieldTypeString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", raw)
		}
		if len(f.Enum) > 0 && !slices.Contains(f.Enum, s) {
			return nil, fmt.Errorf("must be one of [%s], got %q", strings.Join(f.Enum, ", "), s)
		}
		return s, nil

	case FieldTypeInt:
		var n int
		switch v := raw.(type) {
		case int:
			n = v
		case int64:
			n = int(v)
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("expected integer, got %v", v)
			}
			n = int(v)
		default:
			return nil, fmt.Errorf("expected integer, got %T", raw)
		}
		if f.Min != nil && n < *f.Min {
			return nil, fmt.Errorf("must be at least %d, got %d", *f.Min, n)
		}
		if f.Max != nil && n > *f.Max {
			return nil, fmt.Errorf("must be at most %d, got %d", *f.Max, n)
		}
		return n, nil

	case FieldTypeBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", raw)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown field type %q", f.Type)
}

// StringValue reads a string field from a validated config map.
func StringValue(config map[string]any, name string) string {
	if v, ok := config[name].(string); ok {
		return v
	}
	return ""
}

// IntValue reads an int field from a validated config map.
func IntValue(config map[string]any, name string) int {
	switch v := config[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// BoolValue reads a bool field from a validated config map.
func BoolValue(config map[string]any, name string) bool {
	if v, ok := config[name].(bool); ok {
		return v
	}
	return false
}

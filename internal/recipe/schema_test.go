// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"
)

func testSchema() []Field {
	return []Field{
		{Name: "storage", Type: FieldTypeString, Default: "1Gi"},
		{Name: "max_connections", Type: FieldTypeInt, Default: 100, Min: ptr.To(10), Max: ptr.To(500)},
		{Name: "mode", Type: FieldTypeString, Default: "standalone", Enum: []string{"standalone", "replica"}},
		{Name: "debug", Type: FieldTypeBool, Default: false},
		{Name: "admin_email", Type: FieldTypeString, Required: true},
	}
}

func TestValidateConfig_FillsDefaults(t *testing.T) {
	out, err := ValidateConfig(testSchema(), map[string]any{"admin_email": "a@b.c"})
	require.NoError(t, err)

	assert.Equal(t, "1Gi", out["storage"])
	assert.Equal(t, 100, out["max_connections"])
	assert.Equal(t, "standalone", out["mode"])
	assert.Equal(t, false, out["debug"])
	assert.Equal(t, "a@b.c", out["admin_email"])
}

func TestValidateConfig_CoercesJSONNumbers(t *testing.T) {
	// JSON decoding yields float64 for every number.
	out, err := ValidateConfig(testSchema(), map[string]any{
		"admin_email":     "a@b.c",
		"max_connections": float64(250),
	})
	require.NoError(t, err)
	assert.Equal(t, 250, out["max_connections"])
}

func TestValidateConfig_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]any
	}{
		{"missing required", map[string]any{}},
		{"unknown field", map[string]any{"admin_email": "a@b.c", "bogus": 1}},
		{"wrong type", map[string]any{"admin_email": "a@b.c", "debug": "yes"}},
		{"below min", map[string]any{"admin_email": "a@b.c", "max_connections": 1}},
		{"above max", map[string]any{"admin_email": "a@b.c", "max_connections": 10000}},
		{"enum violation", map[string]any{"admin_email": "a@b.c", "mode": "cluster"}},
		{"fractional int", map[string]any{"admin_email": "a@b.c", "max_connections": 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateConfig(testSchema(), tt.input)
			assert.Error(t, err)
		})
	}
}

func TestValidateConfig_NilInputUsesDefaults(t *testing.T) {
	schema := []Field{{Name: "storage", Type: FieldTypeString, Default: "1Gi"}}
	out, err := ValidateConfig(schema, nil)
	require.NoError(t, err)
	assert.Equal(t, "1Gi", out["storage"])
}

func TestAccessors(t *testing.T) {
	cfg := map[string]any{"s": "v", "i": 42, "b": true}
	assert.Equal(t, "v", StringValue(cfg, "s"))
	assert.Equal(t, "", StringValue(cfg, "missing"))
	assert.Equal(t, 42, IntValue(cfg, "i"))
	assert.Equal(t, 0, IntValue(cfg, "missing"))
	assert.Equal(t, true, BoolValue(cfg, "b"))
	assert.Equal(t, false, BoolValue(cfg, "missing"))
}

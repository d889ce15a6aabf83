// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog registers the built-in recipes.
package catalog

import (
	"fmt"

	"github.com/homestack/homestack/internal/recipe"
)

// NewRegistry builds the registry with every built-in recipe registered and
// the cross-recipe invariants checked.
func NewRegistry() (*recipe.Registry, error) {
	reg := recipe.NewRegistry()
	for _, def := range []*recipe.Definition{
		PostgreSQL(),
		Valkey(),
		MinIO(),
		N8N(),
		Mailpit(),
	} {
		if err := reg.Register(def); err != nil {
			return nil, fmt.Errorf("failed to register recipe: %w", err)
		}
	}
	if err := reg.Finalize(); err != nil {
		return nil, fmt.Errorf("recipe catalog is inconsistent: %w", err)
	}
	return reg, nil
}

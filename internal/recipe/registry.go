// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package recipe

import (
	"fmt"
	"sync"
)

// Registry is the in-memory recipe catalog. It is constructed once at process
// start and passed by reference to the engine and worker; there is no global
// registry singleton.
type Registry struct {
	mu        sync.RWMutex
	defs      map[string]*Definition
	order     []string
	finalized bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		defs: make(map[string]*Definition),
	}
}

// Register adds a definition after validating it. Duplicate slugs are
// rejected so two recipes can never shadow each other.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return fmt.Errorf("cannot register a nil recipe")
	}
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return fmt.Errorf("registry is finalized, cannot register recipe %q", def.Slug)
	}
	if _, exists := r.defs[def.Slug]; exists {
		return fmt.Errorf("duplicate recipe slug %q", def.Slug)
	}
	r.defs[def.Slug] = def
	r.order = append(r.order, def.Slug)
	return nil
}

// Finalize runs the cross-recipe checks and seals the registry:
//   - every recipe referenced in a dependency spec must itself be registered
//   - a depended-on recipe must expose ConnectionInfo
//   - a depended-on recipe must not declare dependencies of its own, because
//     dependency resolution is single-level; a deep chain would reach build()
//     with missing connection info, so it is rejected at load time instead
func (r *Registry) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, slug := range r.order {
		def := r.defs[slug]
		for alias, dep := range def.Dependencies {
			target, ok := r.defs[dep.Recipe]
			if !ok {
				return fmt.Errorf("recipe %q: dependency %q references unregistered recipe %q", slug, alias, dep.Recipe)
			}
			if target.ConnectionInfo == nil {
				return fmt.Errorf("recipe %q: dependency %q recipe %q does not expose connection info", slug, alias, dep.Recipe)
			}
			if len(target.Dependencies) > 0 {
				return fmt.Errorf("recipe %q: dependency %q recipe %q declares its own dependencies; nested dependency chains are not supported", slug, alias, dep.Recipe)
			}
			if _, err := ValidateConfig(target.ConfigSchema, dep.DefaultConfig); err != nil {
				return fmt.Errorf("recipe %q: dependency %q default config: %w", slug, alias, err)
			}
		}
	}
	r.finalized = true
	return nil
}

// Get returns the definition for a slug.
func (r *Registry) Get(slug string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[slug]
	return def, ok
}

// List returns all definitions in registration order.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.order))
	for _, slug := range r.order {
		out = append(out, r.defs[slug])
	}
	return out
}

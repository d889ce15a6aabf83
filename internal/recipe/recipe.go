// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

// Package recipe defines the typed recipe abstraction: definitions, the
// registry, resource builders and the archetype generators that turn a
// declarative descriptor into a full recipe.
package recipe

import (
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/client"
)

// FieldType is the closed set of config field value types.
type FieldType string

const (
	FieldTypeString FieldType = "string"
	FieldTypeInt    FieldType = "int"
	FieldTypeBool   FieldType = "bool"
)

// Field is one user-tunable entry in a recipe's config schema.
type Field struct {
	Name        string
	Type        FieldType
	Description string
	// Default is filled in for omitted fields during validation.
	Default any
	// Required fields without a default must be supplied by the caller.
	Required bool
	// Enum restricts a string field to the listed values.
	Enum []string
	// Min and Max bound an int field when set.
	Min *int
	Max *int
}

// SecretSpec declares one named credential of a recipe.
type SecretSpec struct {
	Name string
	// Generate produces a cryptographically random value of Length when no
	// existing value is available.
	Generate bool
	Length   int
}

// DependencySpec declares a dependency alias of a recipe.
type DependencySpec struct {
	// Recipe is the slug of the depended-on recipe.
	Recipe string
	// DefaultConfig is used when the dependency is auto-deployed.
	DefaultConfig map[string]any
}

// IngressContext carries cluster-routed exposure settings. A nil context
// disables ingress emission; local deployments rely on the worker's
// port-forward mechanism instead.
type IngressContext struct {
	Domain    string
	ClassName string
	TLSSecret string
}

// BuildContext is the full input of a recipe build. Builds are pure: the same
// context always yields the same resource graph.
type BuildContext struct {
	Name      string
	Namespace string
	Config    map[string]any
	Secrets   map[string]string
	Deps      map[string]*ConnectionInfo
	Ingress   *IngressContext
}

// ConnectionInfo is the typed contract a recipe exposes for its dependents.
// It is never persisted; it is recomputed from current config and secrets on
// every build.
type ConnectionInfo struct {
	Host  string
	Port  int32
	Extra map[string]string
}

// HealthCheckKind selects how a deployment's health is probed.
type HealthCheckKind string

const (
	HealthCheckTCP  HealthCheckKind = "tcp"
	HealthCheckHTTP HealthCheckKind = "http"
)

// HealthCheck describes the recipe's health probe.
type HealthCheck struct {
	Kind HealthCheckKind
	Port int32
	// Path applies to HTTP checks only.
	Path string
}

// Probe describes container readiness/liveness probing for builders.
type Probe struct {
	// Exec command, used when Path is empty.
	Command []string
	// Path switches the probe to HTTP GET on Port.
	Path string
	Port int32
	// TCP switches the probe to a TCP socket check on Port.
	TCP                 bool
	InitialDelaySeconds int32
	PeriodSeconds       int32
}

// Definition is an immutable, process-wide recipe registered once at startup.
type Definition struct {
	Slug        string
	Version     string
	DisplayName string
	Description string
	Category    string
	IconURL     string

	ConfigSchema []Field
	Secrets      []SecretSpec
	Dependencies map[string]DependencySpec

	// Build assembles the ordered resource graph for one deployment instance.
	Build func(ctx BuildContext) ([]client.Object, error)
	// ConnectionInfo computes the contract exposed to dependents. Optional;
	// recipes nobody depends on may omit it.
	ConnectionInfo func(ctx BuildContext) *ConnectionInfo
	// HealthCheck is optional probe metadata.
	HealthCheck *HealthCheck
}

// Validate checks the structural invariants of a definition that do not
// require the registry (cross-recipe checks live in Registry.Finalize).
func (d *Definition) Validate() error {
	if d.Slug == "" {
		return fmt.Errorf("recipe slug must not be empty")
	}
	if d.DisplayName == "" {
		return fmt.Errorf("recipe %q: display name must not be empty", d.Slug)
	}
	if d.Version == "" {
		return fmt.Errorf("recipe %q: version must not be empty", d.Slug)
	}
	if d.Build == nil {
		return fmt.Errorf("recipe %q: build function must not be nil", d.Slug)
	}
	seen := make(map[string]bool, len(d.ConfigSchema))
	for _, f := range d.ConfigSchema {
		if f.Name == "" {
			return fmt.Errorf("recipe %q: config field with empty name", d.Slug)
		}
		if seen[f.Name] {
			return fmt.Errorf("recipe %q: duplicate config field %q", d.Slug, f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case FieldTypeString, FieldTypeInt, FieldTypeBool:
		default:
			return fmt.Errorf("recipe %q: config field %q has unknown type %q", d.Slug, f.Name, f.Type)
		}
	}
	for _, s := range d.Secrets {
		if s.Name == "" {
			return fmt.Errorf("recipe %q: secret with empty name", d.Slug)
		}
		if s.Generate && s.Length <= 0 {
			return fmt.Errorf("recipe %q: generated secret %q must declare a positive length", d.Slug, s.Name)
		}
	}
	for alias, dep := range d.Dependencies {
		if alias == "" {
			return fmt.Errorf("recipe %q: dependency with empty alias", d.Slug)
		}
		if dep.Recipe == "" {
			return fmt.Errorf("recipe %q: dependency %q does not name a recipe", d.Slug, alias)
		}
	}
	return nil
}

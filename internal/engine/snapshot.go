// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/homestack/homestack/internal/recipe"
	"github.com/homestack/homestack/internal/store"
)

// Snapshot is a portable description of every deployment in a workspace.
// Dependencies are referenced by service name, not deployment id, so a
// snapshot can be imported into a different workspace or installation.
type Snapshot struct {
	Version  int               `json:"version" validate:"eq=1"`
	Services []SnapshotService `json:"services" validate:"required,dive"`
}

// SnapshotService is one deployment within a snapshot.
type SnapshotService struct {
	Name      string         `json:"name" validate:"required"`
	Recipe    string         `json:"recipe" validate:"required"`
	Config    map[string]any `json:"config,omitempty"`
	DependsOn []string       `json:"dependsOn,omitempty"`
}

// SnapshotVersion is the only snapshot format this build reads and writes.
const SnapshotVersion = 1

var snapshotValidator = validator.New(validator.WithRequiredStructEnabled())

// ExportWorkspace captures the workspace's non-stopped deployments as a
// snapshot. Secrets never leave the cluster; an import regenerates them.
func (e *Engine) ExportWorkspace(ctx context.Context, tenantID, workspaceID string) (*Snapshot, error) {
	ws, err := e.workspace(ctx, tenantID, workspaceID)
	if err != nil {
		return nil, err
	}
	all, err := e.store.ListDeployments(ctx, ws.ID)
	if err != nil {
		return nil, err
	}

	nameByID := make(map[string]string, len(all))
	for _, dep := range all {
		nameByID[dep.ID] = dep.Name
	}

	snap := &Snapshot{Version: SnapshotVersion}
	for _, dep := range all {
		if dep.Status == store.StatusStopped {
			continue
		}
		config, err := dep.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read config of %q: %w", dep.Name, err)
		}
		var deps []string
		for _, id := range dep.DependsOn() {
			if name, ok := nameByID[id]; ok {
				deps = append(deps, name)
			}
		}
		sort.Strings(deps)
		snap.Services = append(snap.Services, SnapshotService{
			Name:      dep.Name,
			Recipe:    dep.RecipeSlug,
			Config:    config,
			DependsOn: deps,
		})
	}
	sort.Slice(snap.Services, func(i, j int) bool {
		return snap.Services[i].Name < snap.Services[j].Name
	})
	return snap, nil
}

// ValidateSnapshot checks a snapshot completely before any deployment starts:
// structure, recipe existence, per-service config validity, duplicate names,
// dangling dependsOn references and dependency cycles. Import is all-or-
// nothing at validation time.
func (e *Engine) ValidateSnapshot(snap *Snapshot) error {
	if err := snapshotValidator.Struct(snap); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	seen := make(map[string]bool, len(snap.Services))
	var problems []string
	for _, svc := range snap.Services {
		if seen[svc.Name] {
			problems = append(problems, fmt.Sprintf("duplicate service name %q", svc.Name))
			continue
		}
		seen[svc.Name] = true

		def, ok := e.registry.Get(svc.Recipe)
		if !ok {
			problems = append(problems, fmt.Sprintf("service %q: unknown recipe %q", svc.Name, svc.Recipe))
			continue
		}
		if _, err := recipe.ValidateConfig(def.ConfigSchema, svc.Config); err != nil {
			problems = append(problems, fmt.Sprintf("service %q: %v", svc.Name, err))
		}
	}
	for _, svc := range snap.Services {
		for _, ref := range svc.DependsOn {
			if !seen[ref] {
				problems = append(problems, fmt.Sprintf("service %q depends on unknown service %q", svc.Name, ref))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSnapshot, strings.Join(problems, "; "))
	}

	if cycle := findCycle(snap.Services); len(cycle) > 0 {
		return fmt.Errorf("%w: dependency cycle %s", ErrInvalidSnapshot, strings.Join(cycle, " -> "))
	}
	return nil
}

// ImportWorkspace validates a snapshot and deploys its services in dependency
// order. Services that are already deployed under the same name are skipped,
// which makes repeated imports of the same snapshot idempotent.
func (e *Engine) ImportWorkspace(ctx context.Context, tenantID, workspaceID string, snap *Snapshot) ([]*Receipt, error) {
	if err := e.ValidateSnapshot(snap); err != nil {
		return nil, err
	}
	if _, err := e.workspace(ctx, tenantID, workspaceID); err != nil {
		return nil, err
	}

	var receipts []*Receipt
	for _, svc := range topoOrder(snap.Services) {
		receipt, err := e.InitiateDeployment(ctx, tenantID, workspaceID, svc.Recipe, svc.Name, svc.Config)
		if errors.Is(err, ErrAlreadyDeployed) {
			e.logger.Info("Snapshot service already deployed, skipping", "name", svc.Name)
			continue
		}
		if err != nil {
			return receipts, fmt.Errorf("failed to deploy snapshot service %q: %w", svc.Name, err)
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

// topoOrder orders services so every dependency precedes its dependents
// (Kahn's algorithm). Validation has already rejected cycles; any residual
// cyclic nodes are appended at the end rather than dropped.
func topoOrder(services []SnapshotService) []SnapshotService {
	byName := make(map[string]SnapshotService, len(services))
	indegree := make(map[string]int, len(services))
	dependents := make(map[string][]string, len(services))
	for _, svc := range services {
		byName[svc.Name] = svc
		indegree[svc.Name] = len(svc.DependsOn)
		for _, ref := range svc.DependsOn {
			dependents[ref] = append(dependents[ref], svc.Name)
		}
	}

	var ready []string
	for _, svc := range services {
		if indegree[svc.Name] == 0 {
			ready = append(ready, svc.Name)
		}
	}
	sort.Strings(ready)

	ordered := make([]SnapshotService, 0, len(services))
	placed := make(map[string]bool, len(services))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byName[name])
		placed[name] = true
		for _, next := range dependents[name] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	for _, svc := range services {
		if !placed[svc.Name] {
			ordered = append(ordered, svc)
		}
	}
	return ordered
}

// findCycle returns one dependency cycle as a name path, or nil.
func findCycle(services []SnapshotService) []string {
	deps := make(map[string][]string, len(services))
	for _, svc := range services {
		deps[svc.Name] = svc.DependsOn
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(deps))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		state[name] = visiting
		stack = append(stack, name)
		for _, ref := range deps[name] {
			switch state[ref] {
			case visiting:
				for i, n := range stack {
					if n == ref {
						return append(append([]string{}, stack[i:]...), ref)
					}
				}
			case unvisited:
				if cycle := visit(ref); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return nil
	}

	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if state[name] == unvisited {
			if cycle := visit(name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

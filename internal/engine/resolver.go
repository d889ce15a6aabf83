// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/homestack/homestack/internal/audit"
	"github.com/homestack/homestack/internal/recipe"
	"github.com/homestack/homestack/internal/secrets"
	"github.com/homestack/homestack/internal/store"
)

// resolve finds or auto-deploys every declared dependency of a recipe within
// the workspace and returns their connection info keyed by alias, plus the
// ids of all dependency deployments (existing and newly created).
//
// Resolution is single-level: a dependency's own dependencies are not
// resolved. The registry rejects recipes that would need that at load time.
func (e *Engine) resolve(ctx context.Context, def *recipe.Definition, ws *store.Workspace) (map[string]*recipe.ConnectionInfo, []string, error) {
	resolved := make(map[string]*recipe.ConnectionInfo, len(def.Dependencies))
	depIDs := make([]string, 0, len(def.Dependencies))

	for alias, spec := range def.Dependencies {
		depDef, ok := e.registry.Get(spec.Recipe)
		if !ok {
			return nil, nil, fmt.Errorf("%w: dependency %q needs recipe %q", ErrDependencyNotFound, alias, spec.Recipe)
		}
		if depDef.ConnectionInfo == nil {
			return nil, nil, fmt.Errorf("%w: dependency %q recipe %q", ErrDependencyMisconfigured, alias, spec.Recipe)
		}

		existing, err := e.store.FindDeploymentByName(ctx, ws.ID, alias)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, nil, err
		}

		switch {
		case existing != nil && existing.Status.Active() && existing.Status != store.StatusFailed:
			info, err := e.connectExisting(ctx, depDef, existing)
			if err != nil {
				return nil, nil, err
			}
			resolved[alias] = info
			depIDs = append(depIDs, existing.ID)

		case existing != nil:
			// A stopped or failed instance holds the name; re-kick it rather
			// than racing the unique name constraint with a second row. The
			// row goes back to pending first because the deploy handler skips
			// stopped records.
			info, err := e.connectExisting(ctx, depDef, existing)
			if err != nil {
				return nil, nil, err
			}
			if err := e.store.SetDeploymentStatus(ctx, existing.ID, store.StatusPending, ""); err != nil {
				return nil, nil, err
			}
			existing.Status = store.StatusPending
			if err := e.enqueue(ctx, store.JobDeploy, existing, store.PriorityDependency); err != nil {
				return nil, nil, err
			}
			resolved[alias] = info
			depIDs = append(depIDs, existing.ID)

		default:
			info, id, err := e.autoDeploy(ctx, depDef, spec, ws, alias)
			if err != nil {
				return nil, nil, err
			}
			resolved[alias] = info
			depIDs = append(depIDs, id)
		}
	}
	return resolved, depIDs, nil
}

// resolveExisting is the upgrade-path variant: it never auto-deploys. A
// missing dependency is logged and skipped so removing a dependency mid-life
// cannot hard-fail an unrelated config change.
func (e *Engine) resolveExisting(ctx context.Context, def *recipe.Definition, ws *store.Workspace) (map[string]*recipe.ConnectionInfo, []string, error) {
	resolved := make(map[string]*recipe.ConnectionInfo, len(def.Dependencies))
	depIDs := make([]string, 0, len(def.Dependencies))

	for alias, spec := range def.Dependencies {
		depDef, ok := e.registry.Get(spec.Recipe)
		if !ok {
			return nil, nil, fmt.Errorf("%w: dependency %q needs recipe %q", ErrDependencyNotFound, alias, spec.Recipe)
		}
		if depDef.ConnectionInfo == nil {
			return nil, nil, fmt.Errorf("%w: dependency %q recipe %q", ErrDependencyMisconfigured, alias, spec.Recipe)
		}

		existing, err := e.store.FindDeploymentByName(ctx, ws.ID, alias)
		if errors.Is(err, store.ErrNotFound) {
			e.logger.Warn("Dependency no longer deployed, upgrading without it",
				"alias", alias, "recipe", spec.Recipe, "workspace", ws.ID)
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		info, err := e.connectExisting(ctx, depDef, existing)
		if err != nil {
			return nil, nil, err
		}
		resolved[alias] = info
		depIDs = append(depIDs, existing.ID)
	}
	return resolved, depIDs, nil
}

// connectExisting reconstructs a dependency's connection info from its stored
// config and the live secret values in the cluster.
func (e *Engine) connectExisting(ctx context.Context, depDef *recipe.Definition, dep *store.Deployment) (*recipe.ConnectionInfo, error) {
	config, err := dep.Config()
	if err != nil {
		return nil, fmt.Errorf("failed to read config of dependency %q: %w", dep.Name, err)
	}
	validated, err := recipe.ValidateConfig(depDef.ConfigSchema, config)
	if err != nil {
		return nil, fmt.Errorf("stored config of dependency %q no longer validates: %w", dep.Name, err)
	}
	live, err := secrets.ReadLive(ctx, e.cluster, dep.Namespace, dep.Name)
	if err != nil {
		return nil, err
	}
	return depDef.ConnectionInfo(recipe.BuildContext{
		Name:      dep.Name,
		Namespace: dep.Namespace,
		Config:    validated,
		Secrets:   live,
	}), nil
}

// autoDeploy provisions a missing dependency: validate defaults, generate
// secrets, build, persist, enqueue at elevated priority. The returned
// connection info is computed from the just-generated secrets, which is
// consistent because the dependent's build embeds these same values.
func (e *Engine) autoDeploy(ctx context.Context, depDef *recipe.Definition, spec recipe.DependencySpec, ws *store.Workspace, alias string) (*recipe.ConnectionInfo, string, error) {
	validated, err := recipe.ValidateConfig(depDef.ConfigSchema, spec.DefaultConfig)
	if err != nil {
		return nil, "", fmt.Errorf("%w: dependency %q default config: %v", ErrInvalidConfiguration, alias, err)
	}
	secretValues, err := secrets.Generate(depDef.Secrets, nil)
	if err != nil {
		return nil, "", err
	}

	buildCtx := recipe.BuildContext{
		Name:      alias,
		Namespace: ws.Namespace,
		Config:    validated,
		Secrets:   secretValues,
	}
	graph, err := depDef.Build(buildCtx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build dependency %q: %w", alias, err)
	}
	graphJSON, err := recipe.EncodeGraph(graph)
	if err != nil {
		return nil, "", err
	}
	configJSON, err := json.Marshal(validated)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode dependency config: %w", err)
	}

	dep := &store.Deployment{
		ID:            uuid.NewString(),
		TenantID:      ws.TenantID,
		WorkspaceID:   ws.ID,
		Name:          alias,
		Namespace:     ws.Namespace,
		RecipeSlug:    depDef.Slug,
		RecipeVersion: depDef.Version,
		ConfigJSON:    string(configJSON),
		GraphJSON:     string(graphJSON),
		Status:        store.StatusPending,
	}
	if err := e.store.CreateDeployment(ctx, dep); err != nil {
		return nil, "", err
	}
	e.audit.Record(ctx, dep.ID, store.ActionCreated, nil, dep, "auto-deployed as dependency", audit.ActorEngine)

	if err := e.enqueue(ctx, store.JobDeploy, dep, store.PriorityDependency); err != nil {
		return nil, "", err
	}

	e.logger.Info("Dependency auto-deployed",
		"deployment", dep.ID, "recipe", depDef.Slug, "alias", alias, "workspace", ws.ID)

	return depDef.ConnectionInfo(buildCtx), dep.ID, nil
}

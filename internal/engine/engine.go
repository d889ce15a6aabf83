// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine orchestrates the deployment lifecycle: validation,
// dependency resolution, resource graph construction, persistence and job
// enqueue. Everything past the enqueue is asynchronous and belongs to the
// worker.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/homestack/homestack/internal/audit"
	"github.com/homestack/homestack/internal/labels"
	"github.com/homestack/homestack/internal/recipe"
	"github.com/homestack/homestack/internal/reconciler"
	"github.com/homestack/homestack/internal/secrets"
	"github.com/homestack/homestack/internal/store"
)

// Engine is the synchronous half of the control plane.
type Engine struct {
	registry       *recipe.Registry
	store          *store.Store
	cluster        client.Client
	reconciler     *reconciler.Reconciler
	audit          *audit.Recorder
	logger         *slog.Logger
	ingress        *recipe.IngressContext
	jobMaxAttempts int
}

// Options collects the engine's collaborators.
type Options struct {
	Registry *recipe.Registry
	Store    *store.Store
	Cluster  client.Client
	// Reconciler is used for namespace provisioning only; graph apply/delete
	// belongs to the worker.
	Reconciler *reconciler.Reconciler
	Audit      *audit.Recorder
	Logger     *slog.Logger
	// Ingress enables cluster-routed exposure; nil builds graphs without
	// ingress resources.
	Ingress        *recipe.IngressContext
	JobMaxAttempts int
}

// New creates an Engine.
func New(opts Options) *Engine {
	maxAttempts := opts.JobMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Engine{
		registry:       opts.Registry,
		store:          opts.Store,
		cluster:        opts.Cluster,
		reconciler:     opts.Reconciler,
		audit:          opts.Audit,
		logger:         opts.Logger,
		ingress:        opts.Ingress,
		jobMaxAttempts: maxAttempts,
	}
}

// Receipt is the synchronous answer of a lifecycle operation.
type Receipt struct {
	DeploymentID string                 `json:"deploymentId"`
	Status       store.DeploymentStatus `json:"status"`
	Message      string                 `json:"message"`
	AccessURL    string                 `json:"accessUrl,omitempty"`
}

// InitiateDeployment validates and persists a new deployment and enqueues its
// deploy job. name may be empty; the recipe slug is used then.
func (e *Engine) InitiateDeployment(ctx context.Context, tenantID, workspaceID, recipeSlug, name string, config map[string]any) (*Receipt, error) {
	def, ok := e.registry.Get(recipeSlug)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRecipeNotFound, recipeSlug)
	}

	ws, err := e.workspace(ctx, tenantID, workspaceID)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = def.Slug
	}

	existing, err := e.store.FindDeploymentByName(ctx, ws.ID, name)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.Status.Active() {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyDeployed, name)
	}

	validated, err := recipe.ValidateConfig(def.ConfigSchema, config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	resolved, depIDs, err := e.resolve(ctx, def, ws)
	if err != nil {
		return nil, err
	}

	secretValues, err := secrets.Generate(def.Secrets, nil)
	if err != nil {
		return nil, err
	}

	buildCtx := recipe.BuildContext{
		Name:      name,
		Namespace: ws.Namespace,
		Config:    validated,
		Secrets:   secretValues,
		Deps:      resolved,
		Ingress:   e.ingress,
	}
	graph, err := def.Build(buildCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to build resource graph for %q: %w", name, err)
	}

	graphJSON, err := recipe.EncodeGraph(graph)
	if err != nil {
		return nil, err
	}
	configJSON, err := json.Marshal(validated)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	dependsOnJSON, err := json.Marshal(depIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dependency list: %w", err)
	}

	accessURL := ""
	if host := recipe.IngressHost(graph); host != "" {
		accessURL = "https://" + host
	}

	dep := existing
	if dep == nil {
		dep = &store.Deployment{ID: uuid.NewString()}
	}
	dep.TenantID = tenantID
	dep.WorkspaceID = ws.ID
	dep.Name = name
	dep.Namespace = ws.Namespace
	dep.RecipeSlug = def.Slug
	dep.RecipeVersion = def.Version
	dep.ConfigJSON = string(configJSON)
	dep.GraphJSON = string(graphJSON)
	dep.Status = store.StatusPending
	dep.AccessURL = accessURL
	dep.DependsOnJSON = string(dependsOnJSON)
	dep.ErrorMessage = ""

	if existing == nil {
		err = e.store.CreateDeployment(ctx, dep)
	} else {
		// Redeploy of a stopped instance reuses its row and id.
		err = e.store.UpdateDeployment(ctx, dep)
	}
	if err != nil {
		return nil, err
	}

	e.audit.Record(ctx, dep.ID, store.ActionCreated, nil, dep, "deployment initiated", audit.ActorEngine)

	if err := e.enqueue(ctx, store.JobDeploy, dep, store.PriorityDefault); err != nil {
		return nil, err
	}

	e.logger.Info("Deployment initiated",
		"deployment", dep.ID, "recipe", def.Slug, "name", name, "workspace", ws.ID)

	return &Receipt{
		DeploymentID: dep.ID,
		Status:       dep.Status,
		Message:      fmt.Sprintf("%s deployment queued", def.DisplayName),
		AccessURL:    accessURL,
	}, nil
}

// InitiateUpgrade merges a partial config over the stored one, rebuilds the
// graph and enqueues an upgrade job. A nil or empty partial config is a
// restart.
func (e *Engine) InitiateUpgrade(ctx context.Context, tenantID, deploymentID string, partialConfig map[string]any) (*Receipt, error) {
	dep, err := e.deployment(ctx, tenantID, deploymentID)
	if err != nil {
		return nil, err
	}
	prev := *dep

	def, ok := e.registry.Get(dep.RecipeSlug)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRecipeNotFound, dep.RecipeSlug)
	}
	ws, err := e.workspace(ctx, tenantID, dep.WorkspaceID)
	if err != nil {
		return nil, err
	}

	merged, err := mergeConfig(dep.ConfigJSON, partialConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	validated, err := recipe.ValidateConfig(def.ConfigSchema, merged)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	// Reuse live credentials so an upgrade never rotates them; only secrets
	// missing from the cluster are regenerated.
	live, err := secrets.ReadLive(ctx, e.cluster, dep.Namespace, dep.Name)
	if err != nil {
		return nil, err
	}
	secretValues, err := secrets.Generate(def.Secrets, live)
	if err != nil {
		return nil, err
	}

	resolved, depIDs, err := e.resolveExisting(ctx, def, ws)
	if err != nil {
		return nil, err
	}

	buildCtx := recipe.BuildContext{
		Name:      dep.Name,
		Namespace: dep.Namespace,
		Config:    validated,
		Secrets:   secretValues,
		Deps:      resolved,
		Ingress:   e.ingress,
	}
	graph, err := def.Build(buildCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild resource graph for %q: %w", dep.Name, err)
	}
	graphJSON, err := recipe.EncodeGraph(graph)
	if err != nil {
		return nil, err
	}
	configJSON, err := json.Marshal(validated)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	dependsOnJSON, err := json.Marshal(depIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dependency list: %w", err)
	}

	configChanged := !jsonEqual(dep.ConfigJSON, string(configJSON))

	dep.ConfigJSON = string(configJSON)
	dep.GraphJSON = string(graphJSON)
	dep.DependsOnJSON = string(dependsOnJSON)
	dep.Status = store.StatusDeploying
	dep.ErrorMessage = ""
	if host := recipe.IngressHost(graph); host != "" {
		dep.AccessURL = "https://" + host
	}
	if err := e.store.UpdateDeployment(ctx, dep); err != nil {
		return nil, err
	}

	action := store.ActionRestarted
	reason := "restart requested"
	if configChanged {
		action = store.ActionConfigChanged
		reason = "configuration updated"
	}
	e.audit.Record(ctx, dep.ID, action, &prev, dep, reason, audit.ActorEngine)

	if err := e.enqueue(ctx, store.JobUpgrade, dep, store.PriorityDefault); err != nil {
		return nil, err
	}

	return &Receipt{
		DeploymentID: dep.ID,
		Status:       dep.Status,
		Message:      fmt.Sprintf("%s upgrade queued", def.DisplayName),
		AccessURL:    dep.AccessURL,
	}, nil
}

// InitiateRemoval marks the deployment for deletion and enqueues an undeploy
// job carrying the last known-good graph. It refuses while other active
// deployments depend on this one.
func (e *Engine) InitiateRemoval(ctx context.Context, tenantID, deploymentID string) (*Receipt, error) {
	dep, err := e.deployment(ctx, tenantID, deploymentID)
	if err != nil {
		return nil, err
	}
	prev := *dep

	blockers, err := e.dependents(ctx, dep)
	if err != nil {
		return nil, err
	}
	if len(blockers) > 0 {
		return nil, fmt.Errorf("%w: remove %v first", ErrHasDependents, blockers)
	}

	graphJSON := dep.GraphJSON
	if graphJSON == "" {
		// No graph was ever persisted (a create that never got as far as a
		// build); fall back to a fresh empty-config build so cluster cleanup
		// still has something to act on.
		graphJSON = e.fallbackGraph(dep)
	}

	dep.Status = store.StatusDeleting
	dep.ErrorMessage = ""
	if err := e.store.UpdateDeployment(ctx, dep); err != nil {
		return nil, err
	}
	e.audit.Record(ctx, dep.ID, store.ActionRemoved, &prev, dep, "removal initiated", audit.ActorEngine)

	payload := store.JobPayload{
		DeploymentID: dep.ID,
		Namespace:    dep.Namespace,
		Name:         dep.Name,
		GraphJSON:    graphJSON,
	}
	if _, _, err := e.store.Enqueue(ctx, store.JobUndeploy, payload, store.PriorityDefault, e.jobMaxAttempts); err != nil {
		return nil, err
	}

	return &Receipt{
		DeploymentID: dep.ID,
		Status:       dep.Status,
		Message:      fmt.Sprintf("%s removal queued", dep.Name),
	}, nil
}

// GetDeployment returns one deployment scoped to the tenant.
func (e *Engine) GetDeployment(ctx context.Context, tenantID, deploymentID string) (*store.Deployment, error) {
	return e.deployment(ctx, tenantID, deploymentID)
}

// ListDeployments returns a workspace's deployments.
func (e *Engine) ListDeployments(ctx context.Context, tenantID, workspaceID string) ([]store.Deployment, error) {
	ws, err := e.workspace(ctx, tenantID, workspaceID)
	if err != nil {
		return nil, err
	}
	return e.store.ListDeployments(ctx, ws.ID)
}

// ListEvents returns a deployment's audit trail.
func (e *Engine) ListEvents(ctx context.Context, tenantID, deploymentID string) ([]store.DeploymentEvent, error) {
	// Events outlive their deployment row, so no tenant check is possible
	// for removed deployments; existing rows are checked.
	if _, err := e.deployment(ctx, tenantID, deploymentID); err != nil && !errors.Is(err, ErrDeploymentNotFound) {
		return nil, err
	}
	return e.store.ListEvents(ctx, deploymentID)
}

// CreateWorkspace persists a workspace and provisions its cluster namespace.
func (e *Engine) CreateWorkspace(ctx context.Context, tenantID, name, namespace string) (*store.Workspace, error) {
	ws := &store.Workspace{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Name:      name,
		Namespace: namespace,
	}
	if err := e.store.CreateWorkspace(ctx, ws); err != nil {
		return nil, err
	}

	nsObj := &corev1.Namespace{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "Namespace"},
		ObjectMeta: metav1.ObjectMeta{
			Name: namespace,
			Labels: map[string]string{
				labels.LabelKeyWorkspace: ws.ID,
				labels.LabelKeyManagedBy: labels.LabelValueManagedBy,
			},
		},
	}
	if err := reconciler.AggregateError("namespace apply", e.reconciler.Apply(ctx, []client.Object{nsObj})); err != nil {
		return nil, err
	}
	return ws, nil
}

// ListWorkspaces returns the tenant's workspaces.
func (e *Engine) ListWorkspaces(ctx context.Context, tenantID string) ([]store.Workspace, error) {
	return e.store.ListWorkspaces(ctx, tenantID)
}

// GetWorkspace returns one workspace scoped to the tenant.
func (e *Engine) GetWorkspace(ctx context.Context, tenantID, workspaceID string) (*store.Workspace, error) {
	return e.workspace(ctx, tenantID, workspaceID)
}

func (e *Engine) workspace(ctx context.Context, tenantID, workspaceID string) (*store.Workspace, error) {
	ws, err := e.store.GetWorkspace(ctx, workspaceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrWorkspaceNotFound, workspaceID)
	}
	if err != nil {
		return nil, err
	}
	if ws.TenantID != tenantID {
		return nil, fmt.Errorf("%w: %q", ErrWorkspaceNotFound, workspaceID)
	}
	return ws, nil
}

func (e *Engine) deployment(ctx context.Context, tenantID, deploymentID string) (*store.Deployment, error) {
	dep, err := e.store.GetDeployment(ctx, deploymentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrDeploymentNotFound, deploymentID)
	}
	if err != nil {
		return nil, err
	}
	if dep.TenantID != tenantID {
		return nil, fmt.Errorf("%w: %q", ErrDeploymentNotFound, deploymentID)
	}
	return dep, nil
}

// dependents returns the names of active deployments in the same workspace
// that list dep as a dependency.
func (e *Engine) dependents(ctx context.Context, dep *store.Deployment) ([]string, error) {
	all, err := e.store.ListDeployments(ctx, dep.WorkspaceID)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, other := range all {
		if other.ID == dep.ID || !other.Status.Active() {
			continue
		}
		for _, id := range other.DependsOn() {
			if id == dep.ID {
				names = append(names, other.Name)
				break
			}
		}
	}
	return names, nil
}

func (e *Engine) enqueue(ctx context.Context, jobName string, dep *store.Deployment, priority int) error {
	payload := store.JobPayload{
		DeploymentID: dep.ID,
		Namespace:    dep.Namespace,
		Name:         dep.Name,
	}
	_, _, err := e.store.Enqueue(ctx, jobName, payload, priority, e.jobMaxAttempts)
	return err
}

func (e *Engine) fallbackGraph(dep *store.Deployment) string {
	def, ok := e.registry.Get(dep.RecipeSlug)
	if !ok {
		return "[]"
	}
	validated, err := recipe.ValidateConfig(def.ConfigSchema, nil)
	if err != nil {
		return "[]"
	}
	graph, err := def.Build(recipe.BuildContext{
		Name:      dep.Name,
		Namespace: dep.Namespace,
		Config:    validated,
		Secrets:   map[string]string{},
	})
	if err != nil {
		return "[]"
	}
	data, err := recipe.EncodeGraph(graph)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// mergeConfig merges partial over the stored config with RFC 7386 semantics:
// new keys win, nulls delete.
func mergeConfig(storedJSON string, partial map[string]any) (map[string]any, error) {
	if storedJSON == "" {
		storedJSON = "{}"
	}
	if partial == nil {
		partial = map[string]any{}
	}
	patch, err := json.Marshal(partial)
	if err != nil {
		return nil, err
	}
	mergedJSON, err := jsonpatch.MergePatch([]byte(storedJSON), patch)
	if err != nil {
		return nil, err
	}
	var merged map[string]any
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// jsonEqual compares two JSON documents structurally.
func jsonEqual(a, b string) bool {
	var av, bv any
	if err := json.Unmarshal([]byte(a), &av); err != nil {
		return a == b
	}
	if err := json.Unmarshal([]byte(b), &bv); err != nil {
		return a == b
	}
	ad, _ := json.Marshal(av)
	bd, _ := json.Marshal(bv)
	return string(ad) == string(bd)
}

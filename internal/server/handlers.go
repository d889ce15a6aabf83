// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the deployment engine over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/homestack/homestack/internal/engine"
	"github.com/homestack/homestack/internal/recipe"
)

// tenantHeader carries the caller's tenant id; absent means the default
// single-user tenant.
const (
	tenantHeader  = "X-Tenant-ID"
	defaultTenant = "default"
)

// Handler holds the engine and provides HTTP handlers.
type Handler struct {
	engine   *engine.Engine
	registry *recipe.Registry
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(eng *engine.Engine, registry *recipe.Registry, logger *slog.Logger) *Handler {
	return &Handler{
		engine:   eng,
		registry: registry,
		logger:   logger,
	}
}

// Routes sets up all HTTP routes and returns the configured handler.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	v1 := "/api/v1"

	mux.HandleFunc("GET /healthz", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET "+v1+"/recipes", h.ListRecipes)
	mux.HandleFunc("GET "+v1+"/recipes/{slug}", h.GetRecipe)

	mux.HandleFunc("POST "+v1+"/workspaces", h.CreateWorkspace)
	mux.HandleFunc("GET "+v1+"/workspaces", h.ListWorkspaces)
	mux.HandleFunc("GET "+v1+"/workspaces/{workspaceId}", h.GetWorkspace)
	mux.HandleFunc("GET "+v1+"/workspaces/{workspaceId}/export", h.ExportWorkspace)
	mux.HandleFunc("POST "+v1+"/workspaces/{workspaceId}/import", h.ImportWorkspace)

	mux.HandleFunc("POST "+v1+"/workspaces/{workspaceId}/deployments", h.CreateDeployment)
	mux.HandleFunc("GET "+v1+"/workspaces/{workspaceId}/deployments", h.ListDeployments)
	mux.HandleFunc("GET "+v1+"/workspaces/{workspaceId}/deployments/{deploymentId}", h.GetDeployment)
	mux.HandleFunc("PATCH "+v1+"/workspaces/{workspaceId}/deployments/{deploymentId}", h.UpdateDeployment)
	mux.HandleFunc("DELETE "+v1+"/workspaces/{workspaceId}/deployments/{deploymentId}", h.DeleteDeployment)
	mux.HandleFunc("GET "+v1+"/workspaces/{workspaceId}/deployments/{deploymentId}/events", h.ListDeploymentEvents)

	return h.logRequests(mux)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeSuccessResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListRecipes returns the registered catalog.
func (h *Handler) ListRecipes(w http.ResponseWriter, r *http.Request) {
	defs := h.registry.List()
	items := make([]RecipeResponse, 0, len(defs))
	for _, def := range defs {
		items = append(items, toRecipeResponse(def))
	}
	writeListResponse(w, items)
}

// GetRecipe returns one catalog entry.
func (h *Handler) GetRecipe(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	def, ok := h.registry.Get(slug)
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, "Recipe not found", codeRecipeNotFound)
		return
	}
	writeSuccessResponse(w, http.StatusOK, toRecipeResponse(def))
}

// CreateWorkspace creates a workspace and provisions its namespace.
func (h *Handler) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", codeInvalidJSON)
		return
	}
	defer r.Body.Close()
	if err := req.Validate(); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error(), codeInvalidRequest)
		return
	}

	ws, err := h.engine.CreateWorkspace(ctx, tenant(r), req.Name, req.Namespace)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.logger.Info("Workspace created", "workspace", ws.ID, "namespace", ws.Namespace)
	writeSuccessResponse(w, http.StatusCreated, toWorkspaceResponse(ws))
}

// ListWorkspaces returns the tenant's workspaces.
func (h *Handler) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	wss, err := h.engine.ListWorkspaces(r.Context(), tenant(r))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	items := make([]WorkspaceResponse, 0, len(wss))
	for i := range wss {
		items = append(items, toWorkspaceResponse(&wss[i]))
	}
	writeListResponse(w, items)
}

// GetWorkspace returns one workspace.
func (h *Handler) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := h.engine.GetWorkspace(r.Context(), tenant(r), r.PathValue("workspaceId"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeSuccessResponse(w, http.StatusOK, toWorkspaceResponse(ws))
}

// CreateDeployment starts a new deployment in the workspace.
func (h *Handler) CreateDeployment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workspaceID := r.PathValue("workspaceId")

	var req CreateDeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", codeInvalidJSON)
		return
	}
	defer r.Body.Close()
	if err := req.Validate(); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error(), codeInvalidRequest)
		return
	}

	receipt, err := h.engine.InitiateDeployment(ctx, tenant(r), workspaceID, req.Recipe, req.Name, req.Config)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.logger.Info("Deployment accepted",
		"deployment", receipt.DeploymentID, "recipe", req.Recipe, "workspace", workspaceID)
	writeSuccessResponse(w, http.StatusAccepted, receipt)
}

// ListDeployments returns the workspace's deployments.
func (h *Handler) ListDeployments(w http.ResponseWriter, r *http.Request) {
	deps, err := h.engine.ListDeployments(r.Context(), tenant(r), r.PathValue("workspaceId"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	items := make([]DeploymentResponse, 0, len(deps))
	for i := range deps {
		items = append(items, toDeploymentResponse(&deps[i]))
	}
	writeListResponse(w, items)
}

// GetDeployment returns one deployment.
func (h *Handler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	dep, err := h.engine.GetDeployment(r.Context(), tenant(r), r.PathValue("deploymentId"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeSuccessResponse(w, http.StatusOK, toDeploymentResponse(dep))
}

// UpdateDeployment applies a partial config change or restarts.
func (h *Handler) UpdateDeployment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deploymentID := r.PathValue("deploymentId")

	var req UpdateDeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", codeInvalidJSON)
		return
	}
	defer r.Body.Close()

	receipt, err := h.engine.InitiateUpgrade(ctx, tenant(r), deploymentID, req.Config)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeSuccessResponse(w, http.StatusAccepted, receipt)
}

// DeleteDeployment starts removal of a deployment.
func (h *Handler) DeleteDeployment(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.engine.InitiateRemoval(r.Context(), tenant(r), r.PathValue("deploymentId"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeSuccessResponse(w, http.StatusAccepted, receipt)
}

// ListDeploymentEvents returns a deployment's audit trail.
func (h *Handler) ListDeploymentEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.engine.ListEvents(r.Context(), tenant(r), r.PathValue("deploymentId"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	items := make([]EventResponse, 0, len(events))
	for i := range events {
		items = append(items, toEventResponse(&events[i]))
	}
	writeListResponse(w, items)
}

func tenant(r *http.Request) string {
	if t := r.Header.Get(tenantHeader); t != "" {
		return t
	}
	return defaultTenant
}

// writeEngineError maps the engine error taxonomy onto HTTP status codes.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrRecipeNotFound):
		writeErrorResponse(w, http.StatusNotFound, err.Error(), codeRecipeNotFound)
	case errors.Is(err, engine.ErrWorkspaceNotFound):
		writeErrorResponse(w, http.StatusNotFound, err.Error(), codeWorkspaceNotFound)
	case errors.Is(err, engine.ErrDeploymentNotFound):
		writeErrorResponse(w, http.StatusNotFound, err.Error(), codeDeploymentNotFound)
	case errors.Is(err, engine.ErrAlreadyDeployed):
		writeErrorResponse(w, http.StatusConflict, err.Error(), codeAlreadyDeployed)
	case errors.Is(err, engine.ErrHasDependents):
		writeErrorResponse(w, http.StatusConflict, err.Error(), codeHasDependents)
	case errors.Is(err, engine.ErrInvalidConfiguration):
		writeErrorResponse(w, http.StatusBadRequest, err.Error(), codeInvalidConfiguration)
	case errors.Is(err, engine.ErrDependencyNotFound):
		writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error(), codeDependencyNotFound)
	case errors.Is(err, engine.ErrDependencyMisconfigured):
		writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error(), codeDependencyInvalid)
	case errors.Is(err, engine.ErrInvalidSnapshot):
		writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error(), codeInvalidSnapshot)
	default:
		h.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, "Internal server error", codeInternalError)
	}
}

// logRequests is the global request-logging middleware.
func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.logger.Debug("Request received", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"time"

	"github.com/homestack/homestack/internal/recipe"
	"github.com/homestack/homestack/internal/store"
)

// APIResponse is the standard response wrapper.
type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ListResponse wraps list payloads.
type ListResponse[T any] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"totalCount"`
}

// SuccessResponse builds a success wrapper around data.
func SuccessResponse[T any](data T) APIResponse[T] {
	return APIResponse[T]{Success: true, Data: data}
}

// ErrorResponse builds an error wrapper.
func ErrorResponse(message, code string) APIResponse[any] {
	return APIResponse[any]{Success: false, Error: message, Code: code}
}

// CreateWorkspaceRequest creates a workspace and its cluster namespace.
type CreateWorkspaceRequest struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
}

// Validate checks required fields.
func (r *CreateWorkspaceRequest) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	if r.Namespace == "" {
		r.Namespace = r.Name
	}
	return nil
}

// CreateDeploymentRequest starts a deployment of a recipe.
type CreateDeploymentRequest struct {
	Recipe string         `json:"recipe"`
	Name   string         `json:"name,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

// Validate checks required fields.
func (r *CreateDeploymentRequest) Validate() error {
	if r.Recipe == "" {
		return errors.New("recipe is required")
	}
	return nil
}

// UpdateDeploymentRequest applies a partial config change. An empty config is
// a restart.
type UpdateDeploymentRequest struct {
	Config map[string]any `json:"config,omitempty"`
}

// WorkspaceResponse represents a workspace in API responses.
type WorkspaceResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

// DeploymentResponse represents a deployment in API responses.
type DeploymentResponse struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	WorkspaceID   string                 `json:"workspaceId"`
	Recipe        string                 `json:"recipe"`
	RecipeVersion string                 `json:"recipeVersion"`
	Status        store.DeploymentStatus `json:"status"`
	Config        map[string]any         `json:"config,omitempty"`
	AccessURL     string                 `json:"accessUrl,omitempty"`
	ErrorMessage  string                 `json:"errorMessage,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

// EventResponse represents one audit event in API responses.
type EventResponse struct {
	ID        uint              `json:"id"`
	Action    store.EventAction `json:"action"`
	Reason    string            `json:"reason,omitempty"`
	Actor     string            `json:"actor"`
	CreatedAt time.Time         `json:"createdAt"`
}

// RecipeResponse represents a catalog entry in API responses.
type RecipeResponse struct {
	Slug        string          `json:"slug"`
	Version     string          `json:"version"`
	DisplayName string          `json:"displayName"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category"`
	IconURL     string          `json:"iconUrl,omitempty"`
	Fields      []FieldResponse `json:"fields,omitempty"`
}

// FieldResponse represents one config schema field in API responses.
type FieldResponse struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Default     any      `json:"default,omitempty"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
	Min         *int     `json:"min,omitempty"`
	Max         *int     `json:"max,omitempty"`
}

func toWorkspaceResponse(ws *store.Workspace) WorkspaceResponse {
	return WorkspaceResponse{ID: ws.ID, Name: ws.Name, Namespace: ws.Namespace}
}

func toDeploymentResponse(d *store.Deployment) DeploymentResponse {
	config, err := d.Config()
	if err != nil {
		config = nil
	}
	return DeploymentResponse{
		ID:            d.ID,
		Name:          d.Name,
		WorkspaceID:   d.WorkspaceID,
		Recipe:        d.RecipeSlug,
		RecipeVersion: d.RecipeVersion,
		Status:        d.Status,
		Config:        config,
		AccessURL:     d.AccessURL,
		ErrorMessage:  d.ErrorMessage,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func toEventResponse(e *store.DeploymentEvent) EventResponse {
	return EventResponse{
		ID:        e.ID,
		Action:    e.Action,
		Reason:    e.Reason,
		Actor:     e.Actor,
		CreatedAt: e.CreatedAt,
	}
}

func toRecipeResponse(def *recipe.Definition) RecipeResponse {
	fields := make([]FieldResponse, 0, len(def.ConfigSchema))
	for _, f := range def.ConfigSchema {
		fields = append(fields, FieldResponse{
			Name:        f.Name,
			Type:        string(f.Type),
			Description: f.Description,
			Default:     f.Default,
			Required:    f.Required,
			Enum:        f.Enum,
			Min:         f.Min,
			Max:         f.Max,
		})
	}
	return RecipeResponse{
		Slug:        def.Slug,
		Version:     def.Version,
		DisplayName: def.DisplayName,
		Description: def.Description,
		Category:    def.Category,
		IconURL:     def.IconURL,
		Fields:      fields,
	}
}

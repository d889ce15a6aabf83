// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/homestack/homestack/internal/audit"
	"github.com/homestack/homestack/internal/clients/kubernetes"
	"github.com/homestack/homestack/internal/engine"
	"github.com/homestack/homestack/internal/recipe/catalog"
	"github.com/homestack/homestack/internal/reconciler"
	"github.com/homestack/homestack/internal/store"
)

type serverFixture struct {
	handler http.Handler
	store   *store.Store
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)

	registry, err := catalog.NewRegistry()
	require.NoError(t, err)

	scheme, err := kubernetes.NewScheme()
	require.NoError(t, err)
	cluster := fake.NewClientBuilder().WithScheme(scheme).Build()

	eng := engine.New(engine.Options{
		Registry:       registry,
		Store:          st,
		Cluster:        cluster,
		Reconciler:     reconciler.New(cluster, "homestack-engine", logger),
		Audit:          audit.NewRecorder(st, logger),
		Logger:         logger,
		JobMaxAttempts: 3,
	})

	return &serverFixture{
		handler: NewHandler(eng, registry, logger).Routes(),
		store:   st,
	}
}

func (f *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope APIResponse[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, envelope.Success, "expected success envelope, got: %s", rec.Body.String())
	return envelope.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) APIResponse[struct{}] {
	t.Helper()
	var envelope APIResponse[struct{}]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.False(t, envelope.Success)
	return envelope
}

func (f *serverFixture) createWorkspace(t *testing.T) WorkspaceResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/workspaces",
		CreateWorkspaceRequest{Name: "home", Namespace: "apps"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeData[WorkspaceResponse](t, rec)
}

func TestHealth(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListRecipes(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/recipes", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decodeData[ListResponse[RecipeResponse]](t, rec)
	assert.Equal(t, len(list.Items), list.TotalCount)
	slugs := make([]string, 0, len(list.Items))
	for _, item := range list.Items {
		slugs = append(slugs, item.Slug)
	}
	assert.Contains(t, slugs, "postgresql")
	assert.Contains(t, slugs, "n8n")
}

func TestGetRecipe(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/recipes/postgresql", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeData[RecipeResponse](t, rec)
	assert.Equal(t, "postgresql", got.Slug)
	assert.NotEmpty(t, got.Fields)

	rec = f.do(t, http.MethodGet, "/api/v1/recipes/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeRecipeNotFound, decodeError(t, rec).Code)
}

func TestCreateWorkspace(t *testing.T) {
	f := newServerFixture(t)

	ws := f.createWorkspace(t)
	assert.NotEmpty(t, ws.ID)
	assert.Equal(t, "home", ws.Name)
	assert.Equal(t, "apps", ws.Namespace)
}

func TestCreateWorkspace_BadRequests(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/workspaces", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeInvalidJSON, decodeError(t, rec).Code)

	rec = f.do(t, http.MethodPost, "/api/v1/workspaces", CreateWorkspaceRequest{Namespace: "apps"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeInvalidRequest, decodeError(t, rec).Code)
}

func TestCreateDeployment(t *testing.T) {
	f := newServerFixture(t)
	ws := f.createWorkspace(t)

	rec := f.do(t, http.MethodPost, "/api/v1/workspaces/"+ws.ID+"/deployments",
		CreateDeploymentRequest{Recipe: "postgresql", Name: "db"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	receipt := decodeData[engine.Receipt](t, rec)
	assert.NotEmpty(t, receipt.DeploymentID)

	dep, err := f.store.GetDeployment(context.Background(), receipt.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, dep.Status)
}

func TestCreateDeployment_ErrorMapping(t *testing.T) {
	f := newServerFixture(t)
	ws := f.createWorkspace(t)

	rec := f.do(t, http.MethodPost, "/api/v1/workspaces/"+ws.ID+"/deployments",
		CreateDeploymentRequest{Recipe: "nope", Name: "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeRecipeNotFound, decodeError(t, rec).Code)

	rec = f.do(t, http.MethodPost, "/api/v1/workspaces/"+ws.ID+"/deployments",
		CreateDeploymentRequest{Recipe: "postgresql", Name: "db",
			Config: map[string]any{"no_such_field": true}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeInvalidConfiguration, decodeError(t, rec).Code)

	rec = f.do(t, http.MethodPost, "/api/v1/workspaces/unknown/deployments",
		CreateDeploymentRequest{Recipe: "postgresql", Name: "db"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeWorkspaceNotFound, decodeError(t, rec).Code)
}

func TestCreateDeployment_DuplicateNameConflicts(t *testing.T) {
	f := newServerFixture(t)
	ws := f.createWorkspace(t)

	req := CreateDeploymentRequest{Recipe: "postgresql", Name: "db"}
	rec := f.do(t, http.MethodPost, "/api/v1/workspaces/"+ws.ID+"/deployments", req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/workspaces/"+ws.ID+"/deployments", req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, codeAlreadyDeployed, decodeError(t, rec).Code)
}

func TestGetDeployment(t *testing.T) {
	f := newServerFixture(t)
	ws := f.createWorkspace(t)

	rec := f.do(t, http.MethodPost, "/api/v1/workspaces/"+ws.ID+"/deployments",
		CreateDeploymentRequest{Recipe: "postgresql", Name: "db"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	receipt := decodeData[engine.Receipt](t, rec)

	rec = f.do(t, http.MethodGet, "/api/v1/workspaces/"+ws.ID+"/deployments/"+receipt.DeploymentID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dep := decodeData[DeploymentResponse](t, rec)
	assert.Equal(t, "db", dep.Name)
	assert.Equal(t, "postgresql", dep.Recipe)
	assert.NotNil(t, dep.Config)

	rec = f.do(t, http.MethodGet, "/api/v1/workspaces/"+ws.ID+"/deployments/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeDeploymentNotFound, decodeError(t, rec).Code)
}

func TestDeleteDeployment(t *testing.T) {
	f := newServerFixture(t)
	ws := f.createWorkspace(t)

	rec := f.do(t, http.MethodPost, "/api/v1/workspaces/"+ws.ID+"/deployments",
		CreateDeploymentRequest{Recipe: "postgresql", Name: "db"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	receipt := decodeData[engine.Receipt](t, rec)

	rec = f.do(t, http.MethodDelete, "/api/v1/workspaces/"+ws.ID+"/deployments/"+receipt.DeploymentID, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	dep, err := f.store.GetDeployment(context.Background(), receipt.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDeleting, dep.Status)
}

func TestListDeploymentEvents(t *testing.T) {
	f := newServerFixture(t)
	ws := f.createWorkspace(t)

	rec := f.do(t, http.MethodPost, "/api/v1/workspaces/"+ws.ID+"/deployments",
		CreateDeploymentRequest{Recipe: "postgresql", Name: "db"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	receipt := decodeData[engine.Receipt](t, rec)

	rec = f.do(t, http.MethodGet,
		"/api/v1/workspaces/"+ws.ID+"/deployments/"+receipt.DeploymentID+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeData[ListResponse[EventResponse]](t, rec)
	require.NotEmpty(t, list.Items)
	assert.Equal(t, store.ActionCreated, list.Items[0].Action)
}

func TestTenantIsolation(t *testing.T) {
	f := newServerFixture(t)
	ws := f.createWorkspace(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workspaces/"+ws.ID, nil)
	req.Header.Set(tenantHeader, "someone-else")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportWorkspace(t *testing.T) {
	f := newServerFixture(t)
	ws := f.createWorkspace(t)

	rec := f.do(t, http.MethodPost, "/api/v1/workspaces/"+ws.ID+"/deployments",
		CreateDeploymentRequest{Recipe: "postgresql", Name: "db"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/workspaces/"+ws.ID+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "version: 1")
	assert.Contains(t, rec.Body.String(), "recipe: postgresql")
}

func TestImportWorkspace(t *testing.T) {
	f := newServerFixture(t)
	ws := f.createWorkspace(t)

	snapshot := `
version: 1
services:
  - name: db
    recipe: postgresql
  - name: mail
    recipe: mailpit
`
	rec := f.do(t, http.MethodPost, "/api/v1/workspaces/"+ws.ID+"/import", snapshot)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	receipts := decodeData[[]engine.Receipt](t, rec)
	assert.Len(t, receipts, 2)

	deps, err := f.store.ListDeployments(context.Background(), ws.ID)
	require.NoError(t, err)
	assert.Len(t, deps, 2)
}

func TestImportWorkspace_InvalidSnapshot(t *testing.T) {
	f := newServerFixture(t)
	ws := f.createWorkspace(t)

	rec := f.do(t, http.MethodPost, "/api/v1/workspaces/"+ws.ID+"/import",
		"version: 2\nservices: []\n")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, codeInvalidSnapshot, decodeError(t, rec).Code)
}

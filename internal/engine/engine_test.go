// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/homestack/homestack/internal/audit"
	"github.com/homestack/homestack/internal/clients/kubernetes"
	"github.com/homestack/homestack/internal/recipe"
	"github.com/homestack/homestack/internal/recipe/catalog"
	"github.com/homestack/homestack/internal/reconciler"
	"github.com/homestack/homestack/internal/store"
)

type testFixture struct {
	engine  *Engine
	store   *store.Store
	cluster client.Client
	ws      *store.Workspace
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)

	registry, err := catalog.NewRegistry()
	require.NoError(t, err)

	scheme, err := kubernetes.NewScheme()
	require.NoError(t, err)
	cluster := fake.NewClientBuilder().WithScheme(scheme).Build()

	eng := New(Options{
		Registry:       registry,
		Store:          st,
		Cluster:        cluster,
		Reconciler:     reconciler.New(cluster, "homestack-engine", logger),
		Audit:          audit.NewRecorder(st, logger),
		Logger:         logger,
		JobMaxAttempts: 3,
	})

	ws, err := eng.CreateWorkspace(context.Background(), "default", "home", "apps")
	require.NoError(t, err)

	return &testFixture{engine: eng, store: st, cluster: cluster, ws: ws}
}

func TestInitiateDeployment_PersistsAndEnqueues(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	receipt, err := f.engine.InitiateDeployment(ctx, "default", f.ws.ID, "postgresql", "db", nil)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, receipt.Status)

	dep, err := f.store.GetDeployment(ctx, receipt.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, "db", dep.Name)
	assert.Equal(t, "postgresql", dep.RecipeSlug)
	assert.NotEmpty(t, dep.GraphJSON)

	job, err := f.store.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.JobDeploy, job.Name)
	payload, err := job.Payload()
	require.NoError(t, err)
	assert.Equal(t, dep.ID, payload.DeploymentID)
}

func TestInitiateDeployment_UnknownRecipe(t *testing.T) {
	f := newTestFixture(t)
	_, err := f.engine.InitiateDeployment(context.Background(), "default", f.ws.ID, "nonexistent", "", nil)
	assert.ErrorIs(t, err, ErrRecipeNotFound)
}

func TestInitiateDeployment_InvalidConfig(t *testing.T) {
	f := newTestFixture(t)
	_, err := f.engine.InitiateDeployment(context.Background(), "default", f.ws.ID, "postgresql", "db",
		map[string]any{"bogus": true})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestInitiateDeployment_AlreadyDeployed(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	_, err := f.engine.InitiateDeployment(ctx, "default", f.ws.ID, "postgresql", "db", nil)
	require.NoError(t, err)

	_, err = f.engine.InitiateDeployment(ctx, "default", f.ws.ID, "postgresql", "db", nil)
	assert.ErrorIs(t, err, ErrAlreadyDeployed)
}

func TestInitiateDeployment_ReusesStoppedRow(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	first, err := f.engine.InitiateDeployment(ctx, "default", f.ws.ID, "postgresql", "db", nil)
	require.NoError(t, err)
	require.NoError(t, f.store.SetDeploymentStatus(ctx, first.DeploymentID, store.StatusStopped, ""))

	second, err := f.engine.InitiateDeployment(ctx, "default", f.ws.ID, "postgresql", "db", nil)
	require.NoError(t, err)
	assert.Equal(t, first.DeploymentID, second.DeploymentID, "stopped instance must reuse its row")

	dep, err := f.store.GetDeployment(ctx, second.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, dep.Status)
}

func TestInitiateDeployment_AutoDeploysDependency(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	receipt, err := f.engine.InitiateDeployment(ctx, "default", f.ws.ID, "n8n", "automation", nil)
	require.NoError(t, err)

	depRow, err := f.store.FindDeploymentByName(ctx, f.ws.ID, "database")
	require.NoError(t, err)
	assert.Equal(t, "postgresql", depRow.RecipeSlug)
	assert.Equal(t, store.StatusPending, depRow.Status)

	app, err := f.store.GetDeployment(ctx, receipt.DeploymentID)
	require.NoError(t, err)
	assert.Contains(t, app.DependsOn(), depRow.ID)

	// The dependency's elevated priority puts it ahead of the dependent.
	first, err := f.store.Claim(ctx)
	require.NoError(t, err)
	payload, err := first.Payload()
	require.NoError(t, err)
	assert.Equal(t, depRow.ID, payload.DeploymentID)
}

func TestResolve_IsIdempotent(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	_, err := f.engine.InitiateDeployment(ctx, "default", f.ws.ID, "n8n", "automation", nil)
	require.NoError(t, err)

	def, ok := f.engine.registry.Get("n8n")
	require.True(t, ok)

	resolved, depIDs, err := f.engine.resolve(ctx, def, f.ws)
	require.NoError(t, err)
	require.Len(t, depIDs, 1)
	require.Contains(t, resolved, "database")

	all, err := f.store.ListDeployments(ctx, f.ws.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2, "re-resolving must not create another dependency row")
}

func TestResolve_RekicksStoppedDependency(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	_, err := f.engine.InitiateDeployment(ctx, "default", f.ws.ID, "n8n", "automation", nil)
	require.NoError(t, err)
	depRow, err := f.store.FindDeploymentByName(ctx, f.ws.ID, "database")
	require.NoError(t, err)
	require.NoError(t, f.store.SetDeploymentStatus(ctx, depRow.ID, store.StatusStopped, ""))
	drainQueue(t, f.store)

	def, ok := f.engine.registry.Get("n8n")
	require.True(t, ok)
	_, _, err = f.engine.resolve(ctx, def, f.ws)
	require.NoError(t, err)

	// The row must leave stopped before the job lands, or the deploy
	// handler skips it and the dependency never comes up.
	got, err := f.store.GetDeployment(ctx, depRow.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, got.Status)

	job, err := f.store.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.JobDeploy, job.Name)
	payload, err := job.Payload()
	require.NoError(t, err)
	assert.Equal(t, depRow.ID, payload.DeploymentID)
}

func drainQueue(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	for {
		job, err := st.Claim(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return
		}
		require.NoError(t, err)
		require.NoError(t, st.Succeed(ctx, job.ID))
	}
}

func TestInitiateUpgrade_PreservesLiveSecrets(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	receipt, err := f.engine.InitiateDeployment(ctx, "default", f.ws.ID, "postgresql", "db", nil)
	require.NoError(t, err)

	// Simulate the applied credentials secret in the cluster.
	require.NoError(t, f.cluster.Create(ctx, &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "db-credentials", Namespace: "apps"},
		Data:       map[string][]byte{"password": []byte("livepass")},
	}))

	upgraded, err := f.engine.InitiateUpgrade(ctx, "default", receipt.DeploymentID,
		map[string]any{"max_connections": 200})
	require.NoError(t, err)
	assert.Equal(t, store.StatusDeploying, upgraded.Status)

	dep, err := f.store.GetDeployment(ctx, receipt.DeploymentID)
	require.NoError(t, err)
	graph, err := recipe.DecodeGraph([]byte(dep.GraphJSON))
	require.NoError(t, err)

	var password string
	for _, obj := range graph {
		if obj.GetKind() == "Secret" {
			data, _ := json.Marshal(obj.Object["stringData"])
			var sd map[string]string
			require.NoError(t, json.Unmarshal(data, &sd))
			password = sd["password"]
		}
	}
	assert.Equal(t, "livepass", password, "upgrade must not rotate credentials")

	config, err := dep.Config()
	require.NoError(t, err)
	assert.Equal(t, float64(200), config["max_connections"])
}

func TestInitiateUpgrade_RestartWithoutConfigChange(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	receipt, err := f.engine.InitiateDeployment(ctx, "default", f.ws.ID, "postgresql", "db", nil)
	require.NoError(t, err)
	drainQueue(t, f.store)

	_, err = f.engine.InitiateUpgrade(ctx, "default", receipt.DeploymentID, nil)
	require.NoError(t, err)

	events, err := f.store.ListEvents(ctx, receipt.DeploymentID)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, store.ActionRestarted, last.Action)
}

func TestInitiateRemoval_RefusesWithDependents(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	_, err := f.engine.InitiateDeployment(ctx, "default", f.ws.ID, "n8n", "automation", nil)
	require.NoError(t, err)

	depRow, err := f.store.FindDeploymentByName(ctx, f.ws.ID, "database")
	require.NoError(t, err)

	_, err = f.engine.InitiateRemoval(ctx, "default", depRow.ID)
	require.ErrorIs(t, err, ErrHasDependents)
	assert.Contains(t, err.Error(), "automation")
}

func TestInitiateRemoval_EnqueuesGraphPayload(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	receipt, err := f.engine.InitiateDeployment(ctx, "default", f.ws.ID, "postgresql", "db", nil)
	require.NoError(t, err)
	drainQueue(t, f.store)

	removal, err := f.engine.InitiateRemoval(ctx, "default", receipt.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDeleting, removal.Status)

	job, err := f.store.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.JobUndeploy, job.Name)
	payload, err := job.Payload()
	require.NoError(t, err)
	assert.NotEmpty(t, payload.GraphJSON, "undeploy must carry the last known-good graph")
}

func TestTenantIsolation(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	receipt, err := f.engine.InitiateDeployment(ctx, "default", f.ws.ID, "postgresql", "db", nil)
	require.NoError(t, err)

	_, err = f.engine.GetDeployment(ctx, "other-tenant", receipt.DeploymentID)
	assert.ErrorIs(t, err, ErrDeploymentNotFound)
	_, err = f.engine.ListDeployments(ctx, "other-tenant", f.ws.ID)
	assert.ErrorIs(t, err, ErrWorkspaceNotFound)
}

func TestMergeConfig_RFC7386(t *testing.T) {
	merged, err := mergeConfig(`{"a":1,"b":"x"}`, map[string]any{"b": nil, "c": true})
	require.NoError(t, err)

	assert.Equal(t, float64(1), merged["a"])
	assert.NotContains(t, merged, "b", "null deletes the key")
	assert.Equal(t, true, merged["c"])
}

func TestJSONEqual(t *testing.T) {
	assert.True(t, jsonEqual(`{"a":1,"b":2}`, `{"b":2,"a":1}`))
	assert.False(t, jsonEqual(`{"a":1}`, `{"a":2}`))
}

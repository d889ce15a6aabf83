// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package reconciler

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/homestack/homestack/internal/clients/kubernetes"
	"github.com/homestack/homestack/internal/recipe"
)

func newTestReconciler(t *testing.T) (*Reconciler, client.Client) {
	t.Helper()
	scheme, err := kubernetes.NewScheme()
	require.NoError(t, err)
	cl := fake.NewClientBuilder().WithScheme(scheme).Build()
	return New(cl, "homestack-engine", slog.New(slog.DiscardHandler)), cl
}

func configMap(name string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "ConfigMap"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "apps"},
		Data:       map[string]string{"k": "v"},
	}
}

func TestApply_CreatesResources(t *testing.T) {
	r, cl := newTestReconciler(t)
	ctx := context.Background()

	results := r.Apply(ctx, []client.Object{configMap("a"), configMap("b")})
	require.NoError(t, AggregateError("apply", results))

	var got corev1.ConfigMap
	require.NoError(t, cl.Get(ctx, client.ObjectKey{Namespace: "apps", Name: "a"}, &got))
	assert.Equal(t, "v", got.Data["k"])
}

func TestApply_IsIdempotent(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()

	objs := []client.Object{configMap("a")}
	require.NoError(t, AggregateError("apply", r.Apply(ctx, objs)))
	require.NoError(t, AggregateError("apply", r.Apply(ctx, []client.Object{configMap("a")})))
}

func TestDelete_ReverseOrderAndTolerant(t *testing.T) {
	r, cl := newTestReconciler(t)
	ctx := context.Background()

	a, b := configMap("a"), configMap("b")
	require.NoError(t, AggregateError("apply", r.Apply(ctx, []client.Object{a, b})))

	// "c" was never created; already-gone counts as success.
	results := r.Delete(ctx, []client.Object{configMap("a"), configMap("b"), configMap("c")})
	require.NoError(t, AggregateError("delete", results))

	// Results come back in reverse build order.
	require.Len(t, results, 3)
	assert.Equal(t, "c", results[0].Name)
	assert.Equal(t, "b", results[1].Name)
	assert.Equal(t, "a", results[2].Name)

	var got corev1.ConfigMap
	err := cl.Get(ctx, client.ObjectKey{Namespace: "apps", Name: "a"}, &got)
	assert.True(t, client.IgnoreNotFound(err) == nil && err != nil)
}

func TestCleanupVolumeClaims(t *testing.T) {
	r, cl := newTestReconciler(t)
	ctx := context.Background()

	sts, err := recipe.BuildStatefulSet(recipe.WorkloadSpec{
		Name:      "db",
		Namespace: "apps",
		Slug:      "postgresql",
		Image:     "postgres:16.4",
		Claims:    []recipe.ClaimTemplate{{Name: "data", Size: "1Gi", MountPath: "/d"}},
	})
	require.NoError(t, err)

	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: "data-db-0", Namespace: "apps"},
	}
	require.NoError(t, cl.Create(ctx, pvc))

	data, err := recipe.EncodeGraph([]client.Object{sts})
	require.NoError(t, err)
	graph, err := recipe.DecodeGraph(data)
	require.NoError(t, err)

	results := r.CleanupVolumeClaims(ctx, graph)
	require.NoError(t, AggregateError("cleanup", results))

	var got corev1.PersistentVolumeClaim
	err = cl.Get(ctx, client.ObjectKey{Namespace: "apps", Name: "data-db-0"}, &got)
	assert.Error(t, err)
}

func TestAggregateError_NamesEveryFailure(t *testing.T) {
	results := []ResourceResult{
		{Kind: "Service", Namespace: "apps", Name: "ok"},
		{Kind: "StatefulSet", Namespace: "apps", Name: "bad", Err: assert.AnError},
	}
	err := AggregateError("apply", results)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "StatefulSet apps/bad")
	assert.NotContains(t, err.Error(), "apps/ok")
}

// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

// Package reconciler applies and deletes resource graphs against the cluster
// using declarative server-side apply semantics.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/homestack/homestack/internal/recipe"
)

// Reconciler owns all mutating cluster access for resource graphs.
type Reconciler struct {
	client       client.Client
	fieldManager string
	logger       *slog.Logger
}

// New creates a Reconciler with the given field-manager identity.
func New(c client.Client, fieldManager string, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		client:       c,
		fieldManager: fieldManager,
		logger:       logger,
	}
}

// ResourceResult reports the outcome of one resource operation.
type ResourceResult struct {
	Kind      string
	Name      string
	Namespace string
	Err       error
}

// Apply server-side-applies every resource in build order. The engine is the
// sole writer of managed resources, so conflicts are force-resolved in its
// favor. Each resource is applied independently; one failure does not abort
// the rest, and per-resource results let the caller report partial failure
// precisely.
func (r *Reconciler) Apply(ctx context.Context, resources []client.Object) []ResourceResult {
	results := make([]ResourceResult, 0, len(resources))
	for _, obj := range resources {
		err := r.applyOne(ctx, obj)
		if err != nil {
			r.logger.Error("Failed to apply resource",
				"kind", obj.GetObjectKind().GroupVersionKind().Kind,
				"namespace", obj.GetNamespace(), "name", obj.GetName(), "error", err)
		}
		results = append(results, ResourceResult{
			Kind:      obj.GetObjectKind().GroupVersionKind().Kind,
			Name:      obj.GetName(),
			Namespace: obj.GetNamespace(),
			Err:       err,
		})
	}
	return results
}

// applyOne patches the unstructured form of the object so the request carries
// exactly the declared fields. Builders set TypeMeta on every object, which
// the conversion preserves.
func (r *Reconciler) applyOne(ctx context.Context, obj client.Object) error {
	target := obj
	if _, ok := obj.(*unstructured.Unstructured); !ok {
		m, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
		if err != nil {
			return fmt.Errorf("failed to convert %s/%s for apply: %w", obj.GetNamespace(), obj.GetName(), err)
		}
		target = &unstructured.Unstructured{Object: m}
	}
	return r.client.Patch(ctx, target, client.Apply, client.ForceOwnership, client.FieldOwner(r.fieldManager))
}

// Delete removes resources in reverse build order so dependents (ingress,
// service) go before the workload and its storage. "Already gone" counts as
// success.
func (r *Reconciler) Delete(ctx context.Context, resources []client.Object) []ResourceResult {
	results := make([]ResourceResult, 0, len(resources))
	for i := len(resources) - 1; i >= 0; i-- {
		obj := resources[i]
		err := r.client.Delete(ctx, obj)
		if apierrors.IsNotFound(err) {
			err = nil
		}
		if err != nil {
			r.logger.Error("Failed to delete resource",
				"kind", obj.GetObjectKind().GroupVersionKind().Kind,
				"namespace", obj.GetNamespace(), "name", obj.GetName(), "error", err)
		}
		results = append(results, ResourceResult{
			Kind:      obj.GetObjectKind().GroupVersionKind().Kind,
			Name:      obj.GetName(),
			Namespace: obj.GetNamespace(),
			Err:       err,
		})
	}
	return results
}

// CleanupVolumeClaims deletes the per-replica claims of every stateful
// workload in the graph. The cluster does not release volume-claim templates
// when the workload is deleted; left behind, a redeployed instance would bind
// to stale storage holding another generation's credentials.
func (r *Reconciler) CleanupVolumeClaims(ctx context.Context, graph []*unstructured.Unstructured) []ResourceResult {
	claims := recipe.ExpectedClaims(graph)
	results := make([]ResourceResult, 0, len(claims))
	for _, claim := range claims {
		pvc := &corev1.PersistentVolumeClaim{}
		pvc.Name = claim.Name
		pvc.Namespace = claim.Namespace
		err := r.client.Delete(ctx, pvc)
		if apierrors.IsNotFound(err) {
			err = nil
		}
		if err != nil {
			r.logger.Error("Failed to delete volume claim",
				"namespace", claim.Namespace, "name", claim.Name, "error", err)
		}
		results = append(results, ResourceResult{
			Kind:      "PersistentVolumeClaim",
			Name:      claim.Name,
			Namespace: claim.Namespace,
			Err:       err,
		})
	}
	return results
}

// AggregateError folds per-resource results into a single error naming every
// failed resource, or nil when everything succeeded.
func AggregateError(op string, results []ResourceResult) error {
	var parts []string
	for _, res := range results {
		if res.Err != nil {
			parts = append(parts, fmt.Sprintf("%s %s/%s: %v", res.Kind, res.Namespace, res.Name, res.Err))
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return errors.New(op + " failed for " + strings.Join(parts, "; "))
}

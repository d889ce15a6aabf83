// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package labels

// This file contains all the labels used to store HomeStack specific metadata
// in the Kubernetes objects managed by the engine.

const (
	// LabelKeyName is the recipe slug the resource was built from.
	LabelKeyName = "app.homestack.dev/name"

	// LabelKeyInstance is the per-workspace instance name of the deployment.
	// The worker selects pods by this label to wait for readiness, so every
	// builder must attach it to both the workload and its pod template.
	LabelKeyInstance = "app.homestack.dev/instance"

	// LabelKeyWorkspace is the workspace that owns the deployment.
	LabelKeyWorkspace = "app.homestack.dev/workspace"

	// LabelKeyManagedBy identifies resources whose lifecycle is owned by the
	// HomeStack engine. The reconciler only ever applies or deletes resources
	// carrying this label value.
	LabelKeyManagedBy = "app.kubernetes.io/managed-by"

	LabelValueManagedBy = "homestack"
)

// Standard returns the label set attached to every resource built for the
// given recipe slug and instance name.
func Standard(slug, instance string) map[string]string {
	return map[string]string{
		LabelKeyName:      slug,
		LabelKeyInstance:  instance,
		LabelKeyManagedBy: LabelValueManagedBy,
	}
}

// Selector returns the labels the worker uses to select the pods of one
// deployment instance without any per-recipe logic.
func Selector(instance string) map[string]string {
	return map[string]string{
		LabelKeyInstance:  instance,
		LabelKeyManagedBy: LabelValueManagedBy,
	}
}

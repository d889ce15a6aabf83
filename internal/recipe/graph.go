// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package recipe

import (
	"encoding/json"
	"fmt"

	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// The serialized resource graph is the engine's "last known good" contract:
// the exact output of the last successful build, persisted with the
// deployment record so deletion and drift-free rebuilds never depend on
// current recipe code.

// EncodeGraph serializes an ordered resource graph to JSON. Builders set
// TypeMeta on every object, so the kind information survives the round trip.
func EncodeGraph(objs []client.Object) ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(objs))
	for _, obj := range objs {
		data, err := json.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s/%s: %w", obj.GetNamespace(), obj.GetName(), err)
		}
		raw = append(raw, data)
	}
	return json.Marshal(raw)
}

// DecodeGraph deserializes a stored graph into unstructured objects in their
// original build order.
func DecodeGraph(data []byte) ([]*unstructured.Unstructured, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode resource graph: %w", err)
	}
	objs := make([]*unstructured.Unstructured, 0, len(raw))
	for i, r := range raw {
		var m map[string]any
		if err := json.Unmarshal(r, &m); err != nil {
			return nil, fmt.Errorf("failed to decode resource graph entry %d: %w", i, err)
		}
		obj := &unstructured.Unstructured{Object: m}
		if obj.GetKind() == "" || obj.GetAPIVersion() == "" {
			return nil, fmt.Errorf("resource graph entry %d is missing apiVersion/kind", i)
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

// GraphObjects converts decoded graph entries to client objects.
func GraphObjects(objs []*unstructured.Unstructured) []client.Object {
	out := make([]client.Object, 0, len(objs))
	for _, obj := range objs {
		out = append(out, obj)
	}
	return out
}

// PrimarySelector derives the pod label selector of the graph's primary
// workload (the first StatefulSet or Deployment). The second return is false
// when the graph contains no workload; callers treat that as trivially ready.
func PrimarySelector(objs []*unstructured.Unstructured) (map[string]string, bool) {
	for _, obj := range objs {
		switch obj.GetKind() {
		case "StatefulSet", "Deployment":
			sel, found, err := unstructured.NestedStringMap(obj.Object, "spec", "selector", "matchLabels")
			if err != nil || !found || len(sel) == 0 {
				continue
			}
			return sel, true
		}
	}
	return nil, false
}

// StatefulSetClaim identifies one expected per-replica claim of a stateful
// workload in the graph.
type StatefulSetClaim struct {
	Namespace string
	Name      string
}

// ExpectedClaims enumerates the per-replica claim names
// ({template}-{workload}-{ordinal}) of every StatefulSet in the graph. The
// cluster does not release volume-claim templates when the owning workload is
// deleted, so the reconciler removes these explicitly.
func ExpectedClaims(objs []*unstructured.Unstructured) []StatefulSetClaim {
	var claims []StatefulSetClaim
	for _, obj := range objs {
		if obj.GetKind() != "StatefulSet" {
			continue
		}
		replicas, found, err := unstructured.NestedInt64(obj.Object, "spec", "replicas")
		if err != nil || !found || replicas <= 0 {
			replicas = 1
		}
		templates, found, err := unstructured.NestedSlice(obj.Object, "spec", "volumeClaimTemplates")
		if err != nil || !found {
			continue
		}
		for _, t := range templates {
			tm, ok := t.(map[string]any)
			if !ok {
				continue
			}
			name, _, err := unstructured.NestedString(tm, "metadata", "name")
			if err != nil || name == "" {
				continue
			}
			for ordinal := int64(0); ordinal < replicas; ordinal++ {
				claims = append(claims, StatefulSetClaim{
					Namespace: obj.GetNamespace(),
					Name:      fmt.Sprintf("%s-%s-%d", name, obj.GetName(), ordinal),
				})
			}
		}
	}
	return claims
}

// ServicePort returns the first declared service port of the graph, used by
// the worker to establish a local port-forward.
func ServicePort(objs []*unstructured.Unstructured) (int32, bool) {
	for _, obj := range objs {
		if obj.GetKind() != "Service" {
			continue
		}
		ports, found, err := unstructured.NestedSlice(obj.Object, "spec", "ports")
		if err != nil || !found || len(ports) == 0 {
			continue
		}
		pm, ok := ports[0].(map[string]any)
		if !ok {
			continue
		}
		port, found, err := unstructured.NestedInt64(pm, "port")
		if err != nil || !found {
			continue
		}
		return int32(port), true
	}
	return 0, false
}

// IngressHost scans a freshly built (typed) graph for the first ingress rule
// hostname. The engine derives the access URL from it at deploy time.
func IngressHost(objs []client.Object) string {
	for _, obj := range objs {
		if ing, ok := obj.(*networkingv1.Ingress); ok {
			for _, rule := range ing.Spec.Rules {
				if rule.Host != "" {
					return rule.Host
				}
			}
		}
	}
	return ""
}

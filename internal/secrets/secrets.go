// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

// Package secrets generates and reads per-deployment credentials.
package secrets

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/homestack/homestack/internal/recipe"
)

const alphanumerics = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Generate produces the credential map for a secrets spec. Values present in
// existing are reused unchanged so upgrades never rotate credentials
// silently; missing entries marked generate get a fresh random value.
func Generate(spec []recipe.SecretSpec, existing map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(spec))
	for _, s := range spec {
		if v, ok := existing[s.Name]; ok && v != "" {
			out[s.Name] = v
			continue
		}
		if !s.Generate {
			continue
		}
		v, err := randomString(s.Length)
		if err != nil {
			return nil, fmt.Errorf("failed to generate secret %q: %w", s.Name, err)
		}
		out[s.Name] = v
	}
	return out, nil
}

// ReadLive reads a deployment's live credential values from the cluster,
// trying the canonical secret-name conventions in order. Recipes without
// secrets tolerate the resulting empty map.
func ReadLive(ctx context.Context, c client.Client, namespace, instance string) (map[string]string, error) {
	for _, name := range CandidateNames(instance) {
		var sec corev1.Secret
		err := c.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, &sec)
		if apierrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read secret %s/%s: %w", namespace, name, err)
		}
		out := make(map[string]string, len(sec.Data))
		for k, v := range sec.Data {
			out[k] = string(v)
		}
		return out, nil
	}
	return map[string]string{}, nil
}

// CandidateNames lists the secret names tried for an instance, most specific
// first. The first entry matches what the builders emit.
func CandidateNames(instance string) []string {
	return []string{
		recipe.SecretName(instance),
		instance + "-secret",
		instance,
	}
}

func randomString(length int) (string, error) {
	max := big.NewInt(int64(len(alphanumerics)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = alphanumerics[n.Int64()]
	}
	return string(buf), nil
}

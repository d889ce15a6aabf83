// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	corev1 "k8s.io/api/core/v1"

	"github.com/homestack/homestack/internal/recipe"
)

const valkeyPort = 6379

// Valkey is the key-value cache recipe.
func Valkey() *recipe.Definition {
	return recipe.NewCache(recipe.StatefulDescriptor{
		Slug:           "valkey",
		Version:        "8.0",
		DisplayName:    "Valkey",
		Description:    "In-memory key-value cache",
		Image:          "valkey/valkey:8.0",
		Port:           valkeyPort,
		DataPath:       "/data",
		StorageDefault: "2Gi",
		Secrets: []recipe.SecretSpec{
			{Name: "password", Generate: true, Length: 32},
		},
		// $(VALKEY_PASSWORD) is expanded by the kubelet from the env var.
		Args: []string{"valkey-server", "--requirepass", "$(VALKEY_PASSWORD)", "--dir", "/data"},
		Env: func(ctx recipe.BuildContext) []corev1.EnvVar {
			return []corev1.EnvVar{
				secretEnv("VALKEY_PASSWORD", ctx.Name, "password"),
			}
		},
		Probe: &recipe.Probe{
			TCP:                 true,
			Port:                valkeyPort,
			InitialDelaySeconds: 3,
			PeriodSeconds:       10,
		},
		HealthCheck: &recipe.HealthCheck{Kind: recipe.HealthCheckTCP, Port: valkeyPort},
		ConnectionInfo: func(ctx recipe.BuildContext) *recipe.ConnectionInfo {
			return &recipe.ConnectionInfo{
				Host: recipe.ServiceDNS(ctx.Name, ctx.Namespace),
				Port: valkeyPort,
				Extra: map[string]string{
					"password": ctx.Secrets["password"],
				},
			}
		},
	})
}

// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	corev1 "k8s.io/api/core/v1"

	"github.com/homestack/homestack/internal/recipe"
)

const (
	minioPort        = 9000
	minioConsolePort = 9001
)

// MinIO is the S3-compatible object-store recipe.
func MinIO() *recipe.Definition {
	return recipe.NewObjectStore(recipe.StatefulDescriptor{
		Slug:           "minio",
		Version:        "2025-04-08",
		DisplayName:    "MinIO",
		Description:    "S3-compatible object storage",
		Image:          "minio/minio:RELEASE.2025-04-08T15-41-24Z",
		Port:           minioPort,
		ExtraPorts:     []corev1.ContainerPort{{Name: "console", ContainerPort: minioConsolePort}},
		DataPath:       "/data",
		StorageDefault: "20Gi",
		Secrets: []recipe.SecretSpec{
			{Name: "access-key", Generate: true, Length: 20},
			{Name: "secret-key", Generate: true, Length: 40},
		},
		Args: []string{"server", "/data", "--console-address", ":9001"},
		Env: func(ctx recipe.BuildContext) []corev1.EnvVar {
			return []corev1.EnvVar{
				secretEnv("MINIO_ROOT_USER", ctx.Name, "access-key"),
				secretEnv("MINIO_ROOT_PASSWORD", ctx.Name, "secret-key"),
			}
		},
		Probe: &recipe.Probe{
			Path:                "/minio/health/live",
			Port:                minioPort,
			InitialDelaySeconds: 5,
			PeriodSeconds:       15,
		},
		HealthCheck: &recipe.HealthCheck{Kind: recipe.HealthCheckHTTP, Port: minioPort, Path: "/minio/health/live"},
		ConnectionInfo: func(ctx recipe.BuildContext) *recipe.ConnectionInfo {
			return &recipe.ConnectionInfo{
				Host: recipe.ServiceDNS(ctx.Name, ctx.Namespace),
				Port: minioPort,
				Extra: map[string]string{
					"accessKey": ctx.Secrets["access-key"],
					"secretKey": ctx.Secrets["secret-key"],
				},
			}
		},
	})
}

// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/utils/ptr"

	"github.com/homestack/homestack/internal/recipe"
)

const (
	postgresPort     = 5432
	postgresDatabase = "app"
	postgresUser     = "app"
)

// PostgreSQL is the relational database recipe most web recipes depend on.
func PostgreSQL() *recipe.Definition {
	return recipe.NewDatabase(recipe.StatefulDescriptor{
		Slug:           "postgresql",
		Version:        "16.4",
		DisplayName:    "PostgreSQL",
		Description:    "Relational database",
		Image:          "postgres:16.4",
		Port:           postgresPort,
		DataPath:       "/var/lib/postgresql/data",
		StorageDefault: "10Gi",
		ConfigSchema: []recipe.Field{
			{
				Name:        "max_connections",
				Type:        recipe.FieldTypeInt,
				Description: "Maximum concurrent client connections",
				Default:     100,
				Min:         ptr.To(10),
				Max:         ptr.To(1000),
			},
		},
		Secrets: []recipe.SecretSpec{
			{Name: "password", Generate: true, Length: 32},
		},
		Args: []string{"-c", "max_connections=$(POSTGRES_MAX_CONNECTIONS)"},
		Env: func(ctx recipe.BuildContext) []corev1.EnvVar {
			return []corev1.EnvVar{
				{Name: "POSTGRES_DB", Value: postgresDatabase},
				{Name: "POSTGRES_USER", Value: postgresUser},
				secretEnv("POSTGRES_PASSWORD", ctx.Name, "password"),
				{Name: "POSTGRES_MAX_CONNECTIONS", Value: fmt.Sprintf("%d", recipe.IntValue(ctx.Config, "max_connections"))},
				// Subdirectory keeps initdb away from the volume's lost+found.
				{Name: "PGDATA", Value: "/var/lib/postgresql/data/pgdata"},
			}
		},
		Probe: &recipe.Probe{
			Command:             []string{"pg_isready", "-U", postgresUser, "-d", postgresDatabase},
			InitialDelaySeconds: 5,
			PeriodSeconds:       10,
		},
		HealthCheck: &recipe.HealthCheck{Kind: recipe.HealthCheckTCP, Port: postgresPort},
		ConnectionInfo: func(ctx recipe.BuildContext) *recipe.ConnectionInfo {
			return &recipe.ConnectionInfo{
				Host: recipe.ServiceDNS(ctx.Name, ctx.Namespace),
				Port: postgresPort,
				Extra: map[string]string{
					"database": postgresDatabase,
					"username": postgresUser,
					"password": ctx.Secrets["password"],
				},
			}
		},
	})
}

// secretEnv references a key of the instance's credentials secret so the
// value never appears in the pod spec.
func secretEnv(envName, instance, key string) corev1.EnvVar {
	return corev1.EnvVar{
		Name: envName,
		ValueFrom: &corev1.EnvVarSource{
			SecretKeyRef: &corev1.SecretKeySelector{
				LocalObjectReference: corev1.LocalObjectReference{Name: recipe.SecretName(instance)},
				Key:                  key,
			},
		},
	}
}

// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"

	"github.com/homestack/homestack/internal/recipe"
)

const n8nPort = 5678

// N8N is the workflow-automation web application. It depends on a PostgreSQL
// instance which the resolver finds or auto-deploys under the "database"
// alias. n8n retries its database connection on boot, so it tolerates the
// dependency's pods arriving slightly later than its own.
func N8N() *recipe.Definition {
	return recipe.NewWebApp(recipe.WebAppDescriptor{
		Slug:           "n8n",
		Version:        "1.91",
		DisplayName:    "n8n",
		Description:    "Workflow automation platform",
		Image:          "n8nio/n8n:1.91.3",
		Port:           n8nPort,
		DataPath:       "/home/node/.n8n",
		StorageDefault: "5Gi",
		ConfigSchema: []recipe.Field{
			{
				Name:        "timezone",
				Type:        recipe.FieldTypeString,
				Description: "Timezone used for scheduling",
				Default:     "UTC",
			},
			{
				Name:        "diagnostics",
				Type:        recipe.FieldTypeBool,
				Description: "Enable anonymous telemetry",
				Default:     false,
			},
		},
		Secrets: []recipe.SecretSpec{
			{Name: "encryption-key", Generate: true, Length: 32},
		},
		Dependencies: map[string]recipe.DependencySpec{
			"database": {Recipe: "postgresql"},
		},
		Env: func(ctx recipe.BuildContext) []corev1.EnvVar {
			vars := []corev1.EnvVar{
				{Name: "GENERIC_TIMEZONE", Value: recipe.StringValue(ctx.Config, "timezone")},
				{Name: "N8N_DIAGNOSTICS_ENABLED", Value: fmt.Sprintf("%t", recipe.BoolValue(ctx.Config, "diagnostics"))},
				secretEnv("N8N_ENCRYPTION_KEY", ctx.Name, "encryption-key"),
			}
			if db := ctx.Deps["database"]; db != nil {
				vars = append(vars,
					corev1.EnvVar{Name: "DB_TYPE", Value: "postgresdb"},
					corev1.EnvVar{Name: "DB_POSTGRESDB_HOST", Value: db.Host},
					corev1.EnvVar{Name: "DB_POSTGRESDB_PORT", Value: fmt.Sprintf("%d", db.Port)},
					corev1.EnvVar{Name: "DB_POSTGRESDB_DATABASE", Value: db.Extra["database"]},
					corev1.EnvVar{Name: "DB_POSTGRESDB_USER", Value: db.Extra["username"]},
					corev1.EnvVar{Name: "DB_POSTGRESDB_PASSWORD", Value: db.Extra["password"]},
				)
			}
			if ctx.Ingress != nil {
				host := fmt.Sprintf("%s.%s", ctx.Name, ctx.Ingress.Domain)
				vars = append(vars,
					corev1.EnvVar{Name: "N8N_HOST", Value: host},
					corev1.EnvVar{Name: "WEBHOOK_URL", Value: "https://" + host + "/"},
				)
			}
			return vars
		},
		Probe: &recipe.Probe{
			Path:                "/healthz",
			Port:                n8nPort,
			InitialDelaySeconds: 10,
			PeriodSeconds:       15,
		},
		HealthCheck: &recipe.HealthCheck{Kind: recipe.HealthCheckHTTP, Port: n8nPort, Path: "/healthz"},
	})
}

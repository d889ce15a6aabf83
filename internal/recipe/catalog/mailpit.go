// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/homestack/homestack/internal/recipe"
)

const (
	mailpitHTTPPort = 8025
	mailpitSMTPPort = 1025
)

// Mailpit is a fully custom recipe assembled directly from the builders
// rather than an archetype: it exposes two services (SMTP for dependents,
// HTTP for the UI) from a single stateless workload.
func Mailpit() *recipe.Definition {
	const slug = "mailpit"
	return &recipe.Definition{
		Slug:        slug,
		Version:     "1.24",
		DisplayName: "Mailpit",
		Description: "SMTP testing server with a web UI",
		Category:    recipe.CategoryCustom,
		ConfigSchema: []recipe.Field{
			{
				Name:        "max_messages",
				Type:        recipe.FieldTypeInt,
				Description: "Maximum stored messages before the oldest are pruned",
				Default:     500,
			},
		},
		HealthCheck: &recipe.HealthCheck{Kind: recipe.HealthCheckHTTP, Port: mailpitHTTPPort, Path: "/livez"},
		Build: func(ctx recipe.BuildContext) ([]client.Object, error) {
			deploy, err := recipe.BuildDeployment(recipe.WorkloadSpec{
				Name:      ctx.Name,
				Namespace: ctx.Namespace,
				Slug:      slug,
				Image:     "axllent/mailpit:v1.24",
				Ports: []corev1.ContainerPort{
					{Name: "http", ContainerPort: mailpitHTTPPort},
					{Name: "smtp", ContainerPort: mailpitSMTPPort},
				},
				Env: []corev1.EnvVar{
					{Name: "MP_MAX_MESSAGES", Value: fmt.Sprintf("%d", recipe.IntValue(ctx.Config, "max_messages"))},
				},
				Probe: &recipe.Probe{
					Path:                "/livez",
					Port:                mailpitHTTPPort,
					InitialDelaySeconds: 3,
					PeriodSeconds:       10,
				},
			})
			if err != nil {
				return nil, err
			}

			graph := []client.Object{
				deploy,
				recipe.BuildService(ctx.Name, ctx.Namespace, slug, []corev1.ServicePort{
					{Name: "http", Port: mailpitHTTPPort},
					{Name: "smtp", Port: mailpitSMTPPort},
				}),
			}
			if ctx.Ingress != nil {
				host := fmt.Sprintf("%s.%s", ctx.Name, ctx.Ingress.Domain)
				graph = append(graph, recipe.BuildIngress(ctx.Name, ctx.Namespace, slug, host, ctx.Name, mailpitHTTPPort, *ctx.Ingress))
			}
			return graph, nil
		},
		ConnectionInfo: func(ctx recipe.BuildContext) *recipe.ConnectionInfo {
			return &recipe.ConnectionInfo{
				Host: recipe.ServiceDNS(ctx.Name, ctx.Namespace),
				Port: mailpitSMTPPort,
			}
		},
	}
}

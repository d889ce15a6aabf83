// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package recipe

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Archetypes are higher-order generators: they take a declarative descriptor
// and return a complete recipe definition with a pure build function. The
// closed set of variants is database, cache, objectStore and webApp; anything
// else is assembled directly from the builders as a custom recipe.

const (
	CategoryDatabase    = "database"
	CategoryCache       = "cache"
	CategoryObjectStore = "objectStore"
	CategoryWebApp      = "webApp"
	CategoryCustom      = "custom"
)

// StorageField is the config field every stateful archetype exposes for its
// volume-claim template size.
const StorageField = "storage"

// StatefulDescriptor declares a stateful archetype recipe (database, cache,
// object store): one primary workload, a headless service and per-replica
// storage.
type StatefulDescriptor struct {
	Slug        string
	Version     string
	DisplayName string
	Description string
	IconURL     string

	Image string
	// Port is the primary service port.
	Port int32
	// ExtraPorts are additional exposed ports (e.g. a console).
	ExtraPorts []corev1.ContainerPort
	// DataPath is the mount path of the storage claim template.
	DataPath string
	// StorageDefault sizes the claim template when config omits "storage".
	StorageDefault string
	// Args are passed to the container verbatim.
	Args []string

	ConfigSchema []Field
	Secrets      []SecretSpec

	// Env computes the container environment from the build context. Must be
	// pure.
	Env func(ctx BuildContext) []corev1.EnvVar

	Probe          *Probe
	HealthCheck    *HealthCheck
	ConnectionInfo func(ctx BuildContext) *ConnectionInfo
}

// NewDatabase builds a database recipe from the descriptor.
func NewDatabase(d StatefulDescriptor) *Definition {
	return newStateful(CategoryDatabase, d)
}

// NewCache builds a cache recipe from the descriptor.
func NewCache(d StatefulDescriptor) *Definition {
	return newStateful(CategoryCache, d)
}

// NewObjectStore builds an object-store recipe from the descriptor.
func NewObjectStore(d StatefulDescriptor) *Definition {
	return newStateful(CategoryObjectStore, d)
}

func newStateful(category string, d StatefulDescriptor) *Definition {
	schema := d.ConfigSchema
	if !hasField(schema, StorageField) {
		schema = append([]Field{{
			Name:        StorageField,
			Type:        FieldTypeString,
			Description: "Persistent volume size",
			Default:     d.StorageDefault,
		}}, schema...)
	}

	return &Definition{
		Slug:           d.Slug,
		Version:        d.Version,
		DisplayName:    d.DisplayName,
		Description:    d.Description,
		Category:       category,
		IconURL:        d.IconURL,
		ConfigSchema:   schema,
		Secrets:        d.Secrets,
		ConnectionInfo: d.ConnectionInfo,
		HealthCheck:    d.HealthCheck,
		Build: func(ctx BuildContext) ([]client.Object, error) {
			size := StringValue(ctx.Config, StorageField)
			if size == "" {
				size = d.StorageDefault
			}

			var env []corev1.EnvVar
			if d.Env != nil {
				env = d.Env(ctx)
			}

			ports := append([]corev1.ContainerPort{{Name: "primary", ContainerPort: d.Port}}, d.ExtraPorts...)

			sts, err := BuildStatefulSet(WorkloadSpec{
				Name:      ctx.Name,
				Namespace: ctx.Namespace,
				Slug:      d.Slug,
				Image:     d.Image,
				Args:      d.Args,
				Ports:     ports,
				Env:       env,
				Claims:    []ClaimTemplate{{Name: "data", Size: size, MountPath: d.DataPath}},
				Probe:     d.Probe,
			})
			if err != nil {
				return nil, err
			}

			svcPorts := make([]corev1.ServicePort, 0, len(ports))
			for _, p := range ports {
				svcPorts = append(svcPorts, servicePortFor(p))
			}

			graph := make([]client.Object, 0, 3)
			if len(d.Secrets) > 0 {
				graph = append(graph, BuildSecret(ctx.Name, ctx.Namespace, d.Slug, ctx.Secrets))
			}
			graph = append(graph,
				sts,
				BuildHeadlessService(ctx.Name, ctx.Namespace, d.Slug, svcPorts),
			)
			return graph, nil
		},
	}
}

// WebAppDescriptor declares a stateless web application recipe: a Deployment,
// a ClusterIP service, an optional free-standing storage claim and an ingress
// that is emitted only when the build context carries an ingress context.
type WebAppDescriptor struct {
	Slug        string
	Version     string
	DisplayName string
	Description string
	IconURL     string

	Image string
	// Port is the HTTP port of the application.
	Port int32
	// DataPath mounts a free-standing claim when set.
	DataPath string
	// StorageDefault sizes the optional claim.
	StorageDefault string

	ConfigSchema []Field
	Secrets      []SecretSpec
	Dependencies map[string]DependencySpec

	Env func(ctx BuildContext) []corev1.EnvVar

	Probe       *Probe
	HealthCheck *HealthCheck
	// ConnectionInfo is usually nil; web apps rarely serve as dependencies.
	ConnectionInfo func(ctx BuildContext) *ConnectionInfo
}

// NewWebApp builds a web application recipe from the descriptor.
func NewWebApp(d WebAppDescriptor) *Definition {
	schema := d.ConfigSchema
	if d.DataPath != "" && !hasField(schema, StorageField) {
		schema = append([]Field{{
			Name:        StorageField,
			Type:        FieldTypeString,
			Description: "Persistent volume size",
			Default:     d.StorageDefault,
		}}, schema...)
	}

	return &Definition{
		Slug:           d.Slug,
		Version:        d.Version,
		DisplayName:    d.DisplayName,
		Description:    d.Description,
		Category:       CategoryWebApp,
		IconURL:        d.IconURL,
		ConfigSchema:   schema,
		Secrets:        d.Secrets,
		Dependencies:   d.Dependencies,
		ConnectionInfo: d.ConnectionInfo,
		HealthCheck:    d.HealthCheck,
		Build: func(ctx BuildContext) ([]client.Object, error) {
			var env []corev1.EnvVar
			if d.Env != nil {
				env = d.Env(ctx)
			}

			spec := WorkloadSpec{
				Name:      ctx.Name,
				Namespace: ctx.Namespace,
				Slug:      d.Slug,
				Image:     d.Image,
				Ports:     []corev1.ContainerPort{{Name: "http", ContainerPort: d.Port}},
				Env:       env,
				Probe:     d.Probe,
			}

			graph := make([]client.Object, 0, 5)
			if len(d.Secrets) > 0 {
				graph = append(graph, BuildSecret(ctx.Name, ctx.Namespace, d.Slug, ctx.Secrets))
			}

			if d.DataPath != "" {
				size := StringValue(ctx.Config, StorageField)
				if size == "" {
					size = d.StorageDefault
				}
				claimName := ctx.Name + "-data"
				pvc, err := BuildPersistentVolumeClaim(claimName, ctx.Namespace, d.Slug, ctx.Name, size)
				if err != nil {
					return nil, err
				}
				graph = append(graph, pvc)
				spec.Volumes = []VolumeMount{{ClaimName: claimName, MountPath: d.DataPath}}
			}

			deploy, err := BuildDeployment(spec)
			if err != nil {
				return nil, err
			}
			svcPort := corev1.ServicePort{Name: "http", Port: d.Port}
			graph = append(graph,
				deploy,
				BuildService(ctx.Name, ctx.Namespace, d.Slug, []corev1.ServicePort{svcPort}),
			)

			if ctx.Ingress != nil {
				host := fmt.Sprintf("%s.%s", ctx.Name, ctx.Ingress.Domain)
				graph = append(graph, BuildIngress(ctx.Name, ctx.Namespace, d.Slug, host, ctx.Name, d.Port, *ctx.Ingress))
			}
			return graph, nil
		},
	}
}

func hasField(schema []Field, name string) bool {
	for _, f := range schema {
		if f.Name == name {
			return true
		}
	}
	return false
}

func servicePortFor(p corev1.ContainerPort) corev1.ServicePort {
	return corev1.ServicePort{Name: p.Name, Port: p.ContainerPort}
}

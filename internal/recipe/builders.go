// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package recipe

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"

	"github.com/homestack/homestack/internal/labels"
)

// Builders assemble typed cluster resources with the standard HomeStack label
// set so the reconciler and readiness waiter can select by instance without
// per-recipe logic. TypeMeta is set explicitly on every object because the
// graph is serialized as-is into the deployment record.

// ClaimTemplate declares one volume-claim template of a stateful workload.
type ClaimTemplate struct {
	Name      string
	Size      string
	MountPath string
}

// WorkloadSpec is the shared input of the stateful and stateless workload
// builders.
type WorkloadSpec struct {
	Name      string
	Namespace string
	Slug      string
	Image     string
	Replicas  int32
	Command   []string
	Args      []string
	Ports     []corev1.ContainerPort
	Env       []corev1.EnvVar
	// Claims become volumeClaimTemplates on a StatefulSet; stateless
	// workloads mount pre-built free-standing claims via Volumes instead.
	Claims []ClaimTemplate
	// Volumes mounts existing claims (webApp storage).
	Volumes []VolumeMount
	Probe   *Probe
}

// VolumeMount binds an existing PersistentVolumeClaim into the workload.
type VolumeMount struct {
	ClaimName string
	MountPath string
}

// BuildStatefulSet builds the primary workload of a stateful recipe. Storage
// uses volume-claim templates, not free-standing claims, so it is bound
// per-replica and must be cleaned up explicitly on deletion.
func BuildStatefulSet(spec WorkloadSpec) (*appsv1.StatefulSet, error) {
	lbls := labels.Standard(spec.Slug, spec.Name)

	container := corev1.Container{
		Name:    spec.Slug,
		Image:   spec.Image,
		Command: spec.Command,
		Args:    spec.Args,
		Ports:   spec.Ports,
		Env:     spec.Env,
	}
	applyProbe(&container, spec.Probe)

	var claims []corev1.PersistentVolumeClaim
	for _, c := range spec.Claims {
		size, err := resource.ParseQuantity(c.Size)
		if err != nil {
			return nil, fmt.Errorf("claim template %q: invalid size %q: %w", c.Name, c.Size, err)
		}
		claims = append(claims, corev1.PersistentVolumeClaim{
			ObjectMeta: metav1.ObjectMeta{
				Name:   c.Name,
				Labels: lbls,
			},
			Spec: corev1.PersistentVolumeClaimSpec{
				AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
				Resources: corev1.VolumeResourceRequirements{
					Requests: corev1.ResourceList{corev1.ResourceStorage: size},
				},
			},
		})
		container.VolumeMounts = append(container.VolumeMounts, corev1.VolumeMount{
			Name:      c.Name,
			MountPath: c.MountPath,
		})
	}

	replicas := spec.Replicas
	if replicas == 0 {
		replicas = 1
	}

	return &appsv1.StatefulSet{
		TypeMeta: metav1.TypeMeta{APIVersion: "apps/v1", Kind: "StatefulSet"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: spec.Namespace,
			Labels:    lbls,
		},
		Spec: appsv1.StatefulSetSpec{
			Replicas:    ptr.To(replicas),
			ServiceName: spec.Name,
			Selector:    &metav1.LabelSelector{MatchLabels: labels.Selector(spec.Name)},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: lbls},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{container},
				},
			},
			VolumeClaimTemplates: claims,
		},
	}, nil
}

// BuildDeployment builds the workload of a stateless (webApp) recipe.
func BuildDeployment(spec WorkloadSpec) (*appsv1.Deployment, error) {
	if len(spec.Claims) > 0 {
		return nil, fmt.Errorf("stateless workload %q cannot use volume-claim templates", spec.Name)
	}
	lbls := labels.Standard(spec.Slug, spec.Name)

	container := corev1.Container{
		Name:    spec.Slug,
		Image:   spec.Image,
		Command: spec.Command,
		Args:    spec.Args,
		Ports:   spec.Ports,
		Env:     spec.Env,
	}
	applyProbe(&container, spec.Probe)

	var volumes []corev1.Volume
	for _, v := range spec.Volumes {
		volumes = append(volumes, corev1.Volume{
			Name: v.ClaimName,
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: v.ClaimName},
			},
		})
		container.VolumeMounts = append(container.VolumeMounts, corev1.VolumeMount{
			Name:      v.ClaimName,
			MountPath: v.MountPath,
		})
	}

	replicas := spec.Replicas
	if replicas == 0 {
		replicas = 1
	}

	return &appsv1.Deployment{
		TypeMeta: metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: spec.Namespace,
			Labels:    lbls,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(replicas),
			Selector: &metav1.LabelSelector{MatchLabels: labels.Selector(spec.Name)},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: lbls},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{container},
					Volumes:    volumes,
				},
			},
		},
	}, nil
}

// BuildHeadlessService builds the addressable headless service of a stateful
// workload. Its name matches the workload so DNS resolves
// <name>.<namespace>.svc.cluster.local to the pods.
func BuildHeadlessService(name, namespace, slug string, ports []corev1.ServicePort) *corev1.Service {
	svc := BuildService(name, namespace, slug, ports)
	svc.Spec.ClusterIP = corev1.ClusterIPNone
	return svc
}

// BuildService builds a ClusterIP service selecting the instance's pods.
func BuildService(name, namespace, slug string, ports []corev1.ServicePort) *corev1.Service {
	return &corev1.Service{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    labels.Standard(slug, name),
		},
		Spec: corev1.ServiceSpec{
			Selector: labels.Selector(name),
			Ports:    ports,
		},
	}
}

// SecretName returns the canonical name of an instance's credentials secret.
func SecretName(instance string) string {
	return instance + "-credentials"
}

// BuildSecret builds the credentials secret of an instance. Secret values live
// only here; the persisted deployment record never stores plaintext.
func BuildSecret(name, namespace, slug string, values map[string]string) *corev1.Secret {
	return &corev1.Secret{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "Secret"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      SecretName(name),
			Namespace: namespace,
			Labels:    labels.Standard(slug, name),
		},
		Type:       corev1.SecretTypeOpaque,
		StringData: values,
	}
}

// BuildPersistentVolumeClaim builds a free-standing claim (webApp storage).
func BuildPersistentVolumeClaim(name, namespace, slug, instance, size string) (*corev1.PersistentVolumeClaim, error) {
	qty, err := resource.ParseQuantity(size)
	if err != nil {
		return nil, fmt.Errorf("claim %q: invalid size %q: %w", name, size, err)
	}
	return &corev1.PersistentVolumeClaim{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "PersistentVolumeClaim"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    labels.Standard(slug, instance),
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: qty},
			},
		},
	}, nil
}

// BuildConfigMap builds a config map carrying non-secret configuration files.
func BuildConfigMap(name, namespace, slug, instance string, data map[string]string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "ConfigMap"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    labels.Standard(slug, instance),
		},
		Data: data,
	}
}

// BuildIngress builds an ingress routing <host> to the instance service.
func BuildIngress(name, namespace, slug, host, serviceName string, port int32, ing IngressContext) *networkingv1.Ingress {
	pathType := networkingv1.PathTypePrefix
	obj := &networkingv1.Ingress{
		TypeMeta: metav1.TypeMeta{APIVersion: "networking.k8s.io/v1", Kind: "Ingress"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    labels.Standard(slug, name),
		},
		Spec: networkingv1.IngressSpec{
			Rules: []networkingv1.IngressRule{{
				Host: host,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{
						Paths: []networkingv1.HTTPIngressPath{{
							Path:     "/",
							PathType: &pathType,
							Backend: networkingv1.IngressBackend{
								Service: &networkingv1.IngressServiceBackend{
									Name: serviceName,
									Port: networkingv1.ServiceBackendPort{Number: port},
								},
							},
						}},
					},
				},
			}},
		},
	}
	if ing.ClassName != "" {
		obj.Spec.IngressClassName = ptr.To(ing.ClassName)
	}
	if ing.TLSSecret != "" {
		obj.Spec.TLS = []networkingv1.IngressTLS{{
			Hosts:      []string{host},
			SecretName: ing.TLSSecret,
		}}
	}
	return obj
}

// ServiceDNS returns the in-cluster DNS name of an instance service.
func ServiceDNS(name, namespace string) string {
	return fmt.Sprintf("%s.%s.svc.cluster.local", name, namespace)
}

func applyProbe(container *corev1.Container, probe *Probe) {
	if probe == nil {
		return
	}
	handler := corev1.ProbeHandler{}
	switch {
	case probe.Path != "":
		handler.HTTPGet = &corev1.HTTPGetAction{
			Path: probe.Path,
			Port: intstr.FromInt32(probe.Port),
		}
	case probe.TCP:
		handler.TCPSocket = &corev1.TCPSocketAction{
			Port: intstr.FromInt32(probe.Port),
		}
	case len(probe.Command) > 0:
		handler.Exec = &corev1.ExecAction{Command: probe.Command}
	default:
		return
	}
	p := &corev1.Probe{
		ProbeHandler:        handler,
		InitialDelaySeconds: probe.InitialDelaySeconds,
		PeriodSeconds:       probe.PeriodSeconds,
	}
	container.ReadinessProbe = p
	container.LivenessProbe = p
}

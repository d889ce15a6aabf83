// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	corev1 "k8s.io/api/core/v1"
	k8s "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/portforward"
	"k8s.io/client-go/transport/spdy"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// ForwardManager maintains one port-forward per deployment for local access
// when no ingress routes traffic into the cluster. Forwards die with their
// pod; the manager drops dead entries so the next deploy re-establishes them.
type ForwardManager struct {
	restCfg   *rest.Config
	clientset *k8s.Clientset
	cluster   client.Client
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]*forward
}

type forward struct {
	url    string
	stopCh chan struct{}
}

// NewForwardManager creates a ForwardManager.
func NewForwardManager(restCfg *rest.Config, cluster client.Client, logger *slog.Logger) (*ForwardManager, error) {
	clientset, err := k8s.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset for port-forwarding: %w", err)
	}
	return &ForwardManager{
		restCfg:   restCfg,
		clientset: clientset,
		cluster:   cluster,
		logger:    logger,
		active:    make(map[string]*forward),
	}, nil
}

// Ensure returns the local URL for a deployment, establishing a port-forward
// to one of its pods if none is active. The local port is OS-assigned.
func (m *ForwardManager) Ensure(ctx context.Context, deploymentID, namespace string, selector map[string]string, targetPort int32) (string, error) {
	m.mu.Lock()
	if f, ok := m.active[deploymentID]; ok {
		m.mu.Unlock()
		return f.url, nil
	}
	m.mu.Unlock()

	podName, err := m.readyPod(ctx, namespace, selector)
	if err != nil {
		return "", err
	}

	req := m.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(namespace).
		Name(podName).
		SubResource("portforward")
	transport, upgrader, err := spdy.RoundTripperFor(m.restCfg)
	if err != nil {
		return "", fmt.Errorf("failed to build port-forward transport: %w", err)
	}
	dialer := spdy.NewDialer(upgrader, &http.Client{Transport: transport}, http.MethodPost, req.URL())

	stopCh := make(chan struct{})
	readyCh := make(chan struct{})
	fw, err := portforward.New(dialer, []string{fmt.Sprintf("0:%d", targetPort)}, stopCh, readyCh, io.Discard, io.Discard)
	if err != nil {
		return "", fmt.Errorf("failed to create port-forward: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- fw.ForwardPorts()
	}()

	select {
	case err := <-errCh:
		return "", fmt.Errorf("port-forward to %s/%s failed: %w", namespace, podName, err)
	case <-ctx.Done():
		close(stopCh)
		return "", ctx.Err()
	case <-readyCh:
	}

	ports, err := fw.GetPorts()
	if err != nil || len(ports) == 0 {
		close(stopCh)
		return "", fmt.Errorf("failed to resolve local port: %w", err)
	}
	url := fmt.Sprintf("http://127.0.0.1:%d", ports[0].Local)

	m.mu.Lock()
	m.active[deploymentID] = &forward{url: url, stopCh: stopCh}
	m.mu.Unlock()

	go func() {
		if err := <-errCh; err != nil {
			m.logger.Warn("Port-forward ended", "deployment", deploymentID, "error", err)
		}
		m.mu.Lock()
		if f, ok := m.active[deploymentID]; ok && f.stopCh == stopCh {
			delete(m.active, deploymentID)
		}
		m.mu.Unlock()
	}()

	m.logger.Info("Port-forward established",
		"deployment", deploymentID, "pod", podName, "url", url, "targetPort", targetPort)
	return url, nil
}

// Stop tears down a deployment's forward if one is active.
func (m *ForwardManager) Stop(deploymentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.active[deploymentID]; ok {
		close(f.stopCh)
		delete(m.active, deploymentID)
	}
}

// StopAll tears down every active forward.
func (m *ForwardManager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, f := range m.active {
		close(f.stopCh)
		delete(m.active, id)
	}
}

// readyPod returns a ready pod matching the selector, or any matching pod if
// none is ready yet.
func (m *ForwardManager) readyPod(ctx context.Context, namespace string, selector map[string]string) (string, error) {
	var pods corev1.PodList
	if err := m.cluster.List(ctx, &pods,
		client.InNamespace(namespace), client.MatchingLabels(selector)); err != nil {
		return "", fmt.Errorf("failed to list pods for port-forward: %w", err)
	}
	if len(pods.Items) == 0 {
		return "", errors.New("no pods found for port-forward")
	}
	for i := range pods.Items {
		if podReady(&pods.Items[i]) {
			return pods.Items[i].Name, nil
		}
	}
	return pods.Items[0].Name, nil
}

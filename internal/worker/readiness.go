// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

const readinessPollInterval = 3 * time.Second

// readinessVerdict is the outcome of a readiness wait. Not-ready is a
// verdict, not an error; the caller decides what it means for the job.
type readinessVerdict struct {
	Ready   bool
	Summary string
}

// waitReady polls the workload's pods by selector until every pod reports
// ready or the timeout elapses. The summary names each observed pod and its
// state so a failed deployment's record says what was actually wrong.
func (w *Worker) waitReady(ctx context.Context, namespace string, selector map[string]string, timeout time.Duration) readinessVerdict {
	start := time.Now()
	defer func() {
		readinessWaitSeconds.Observe(time.Since(start).Seconds())
	}()

	var last []corev1.Pod
	err := wait.PollUntilContextTimeout(ctx, readinessPollInterval, timeout, true,
		func(ctx context.Context) (bool, error) {
			var pods corev1.PodList
			if err := w.cluster.List(ctx, &pods,
				client.InNamespace(namespace), client.MatchingLabels(selector)); err != nil {
				// Transient list failures keep polling; the timeout bounds us.
				w.logger.Warn("Failed to list workload pods", "namespace", namespace, "error", err)
				return false, nil
			}
			last = pods.Items
			if len(pods.Items) == 0 {
				return false, nil
			}
			for i := range pods.Items {
				if !podReady(&pods.Items[i]) {
					return false, nil
				}
			}
			return true, nil
		})
	if err == nil {
		return readinessVerdict{Ready: true}
	}
	return readinessVerdict{Summary: summarizePods(last)}
}

func podReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

// summarizePods renders a one-line per-pod status report.
func summarizePods(pods []corev1.Pod) string {
	if len(pods) == 0 {
		return "no pods observed for workload selector"
	}
	parts := make([]string, 0, len(pods))
	for i := range pods {
		pod := &pods[i]
		state := string(pod.Status.Phase)
		if reason := waitingReason(pod); reason != "" {
			state = fmt.Sprintf("%s (%s)", state, reason)
		} else if podReady(pod) {
			state = "Ready"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", pod.Name, state))
	}
	return "pods not ready: " + strings.Join(parts, ", ")
}

// waitingReason surfaces the first waiting container's reason, which carries
// the useful diagnostics (ImagePullBackOff, CrashLoopBackOff, ...).
func waitingReason(pod *corev1.Pod) string {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Waiting != nil && cs.State.Waiting.Reason != "" {
			return cs.State.Waiting.Reason
		}
	}
	return ""
}

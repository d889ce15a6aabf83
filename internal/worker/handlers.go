// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/homestack/homestack/internal/audit"
	"github.com/homestack/homestack/internal/recipe"
	"github.com/homestack/homestack/internal/reconciler"
	"github.com/homestack/homestack/internal/store"
)

// healthCheckWindow bounds the readiness poll of a periodic health check. A
// health check observes; it does not wait out a rollout.
const healthCheckWindow = 30 * time.Second

// handleDeploy executes a deploy or upgrade job: recover any half-applied
// revision, apply the stored graph, wait for the workload to become ready and
// flip the record to running.
func (w *Worker) handleDeploy(ctx context.Context, payload store.JobPayload, pending store.RevisionStatus) error {
	dep, err := w.store.GetDeployment(ctx, payload.DeploymentID)
	if errors.Is(err, store.ErrNotFound) {
		w.logger.Info("Deployment record gone, skipping job", "deployment", payload.DeploymentID)
		return nil
	}
	if err != nil {
		return err
	}
	if dep.Status == store.StatusDeleting || dep.Status == store.StatusStopped {
		w.logger.Info("Deployment no longer wants this job, skipping",
			"deployment", dep.ID, "status", dep.Status)
		return nil
	}

	if err := w.recoverStuckRevision(ctx, dep); err != nil {
		return err
	}

	if dep.Status != store.StatusDeploying {
		if err := w.store.SetDeploymentStatus(ctx, dep.ID, store.StatusDeploying, ""); err != nil {
			return err
		}
		dep.Status = store.StatusDeploying
	}

	graph, err := recipe.DecodeGraph([]byte(dep.GraphJSON))
	if err != nil {
		w.markFailed(ctx, dep.ID, fmt.Sprintf("stored graph is unreadable: %v", err))
		return fmt.Errorf("%w: %v", errTerminal, err)
	}

	rev, err := w.store.CreateRevision(ctx, dep.ID, pending, dep.GraphJSON)
	if err != nil {
		return err
	}

	if err := reconciler.AggregateError("apply", w.reconciler.Apply(ctx, recipe.GraphObjects(graph))); err != nil {
		if serr := w.store.SetRevisionStatus(ctx, rev.ID, store.RevisionFailed); serr != nil {
			w.logger.Error("Failed to mark revision failed", "revision", rev.ID, "error", serr)
		}
		return err
	}

	if selector, ok := recipe.PrimarySelector(graph); ok {
		verdict := w.waitReady(ctx, dep.Namespace, selector, w.cfg.ReadinessTimeout)
		if !verdict.Ready {
			if serr := w.store.SetRevisionStatus(ctx, rev.ID, store.RevisionFailed); serr != nil {
				w.logger.Error("Failed to mark revision failed", "revision", rev.ID, "error", serr)
			}
			prev := *dep
			if err := w.store.SetDeploymentStatus(ctx, dep.ID, store.StatusFailed, verdict.Summary); err != nil {
				return err
			}
			dep.Status = store.StatusFailed
			dep.ErrorMessage = verdict.Summary
			w.audit.Record(ctx, dep.ID, store.ActionFailed, &prev, dep, verdict.Summary, audit.ActorWorker)
			return fmt.Errorf("%w: workload not ready: %s", errTerminal, verdict.Summary)
		}
	}

	if err := w.store.SupersedeDeployedRevisions(ctx, dep.ID); err != nil {
		return err
	}
	if err := w.store.SetRevisionStatus(ctx, rev.ID, store.RevisionDeployed); err != nil {
		return err
	}

	accessURL := dep.AccessURL
	if w.forwards != nil && accessURL == "" {
		accessURL = w.establishLocalAccess(ctx, dep, graph)
	}

	prev := *dep
	if err := w.store.SetDeploymentStatus(ctx, dep.ID, store.StatusRunning, ""); err != nil {
		return err
	}
	dep.Status = store.StatusRunning
	dep.ErrorMessage = ""
	dep.AccessURL = accessURL
	w.audit.Record(ctx, dep.ID, store.ActionStatusChanged, &prev, dep, "workload ready", audit.ActorWorker)

	w.logger.Info("Deployment running", "deployment", dep.ID, "name", dep.Name, "accessUrl", accessURL)
	return nil
}

// establishLocalAccess port-forwards to the workload and records the local
// URL. Failure here never fails the job; the deployment is up either way.
func (w *Worker) establishLocalAccess(ctx context.Context, dep *store.Deployment, graph []*unstructured.Unstructured) string {
	port, ok := recipe.ServicePort(graph)
	if !ok {
		return ""
	}
	selector, ok := recipe.PrimarySelector(graph)
	if !ok {
		return ""
	}
	url, err := w.forwards.Ensure(ctx, dep.ID, dep.Namespace, selector, port)
	if err != nil {
		w.logger.Warn("Failed to establish local access", "deployment", dep.ID, "error", err)
		return ""
	}
	if err := w.store.SetDeploymentAccessURL(ctx, dep.ID, url); err != nil {
		w.logger.Error("Failed to record access URL", "deployment", dep.ID, "error", err)
	}
	return url
}

// handleUndeploy removes a deployment's cluster resources using the graph
// carried in the payload, then hard-deletes the record. Cleanup proceeds even
// when the record is already gone.
func (w *Worker) handleUndeploy(ctx context.Context, payload store.JobPayload) error {
	if w.forwards != nil {
		w.forwards.Stop(payload.DeploymentID)
	}

	graph, err := recipe.DecodeGraph([]byte(payload.GraphJSON))
	if err != nil {
		w.markFailed(ctx, payload.DeploymentID, fmt.Sprintf("stored graph is unreadable: %v", err))
		return fmt.Errorf("%w: %v", errTerminal, err)
	}

	if err := reconciler.AggregateError("delete", w.reconciler.Delete(ctx, recipe.GraphObjects(graph))); err != nil {
		return err
	}
	if err := reconciler.AggregateError("volume claim cleanup", w.reconciler.CleanupVolumeClaims(ctx, graph)); err != nil {
		return err
	}

	dep, err := w.store.GetDeployment(ctx, payload.DeploymentID)
	if errors.Is(err, store.ErrNotFound) {
		w.logger.Info("Deployment record already gone after cleanup", "deployment", payload.DeploymentID)
		return nil
	}
	if err != nil {
		return err
	}

	w.audit.Record(ctx, dep.ID, store.ActionRemoved, dep, nil, "cluster resources removed", audit.ActorWorker)
	if err := w.store.DeleteDeployment(ctx, dep.ID); err != nil {
		return err
	}

	w.logger.Info("Deployment removed", "deployment", dep.ID, "name", dep.Name)
	return nil
}

// handleHealthCheck re-checks a running deployment's pod readiness and flips
// the record to failed when the workload has gone unhealthy. Health checks
// are observations; they never retry.
func (w *Worker) handleHealthCheck(ctx context.Context, payload store.JobPayload) error {
	dep, err := w.store.GetDeployment(ctx, payload.DeploymentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if dep.Status != store.StatusRunning {
		return nil
	}

	graph, err := recipe.DecodeGraph([]byte(dep.GraphJSON))
	if err != nil {
		return nil
	}
	selector, ok := recipe.PrimarySelector(graph)
	if !ok {
		return nil
	}

	verdict := w.waitReady(ctx, dep.Namespace, selector, healthCheckWindow)
	if verdict.Ready {
		return nil
	}

	prev := *dep
	if err := w.store.SetDeploymentStatus(ctx, dep.ID, store.StatusFailed, verdict.Summary); err != nil {
		return err
	}
	dep.Status = store.StatusFailed
	dep.ErrorMessage = verdict.Summary
	w.audit.Record(ctx, dep.ID, store.ActionHealthChanged, &prev, dep, verdict.Summary, audit.ActorWorker)

	w.logger.Warn("Deployment unhealthy", "deployment", dep.ID, "name", dep.Name, "summary", verdict.Summary)
	return nil
}

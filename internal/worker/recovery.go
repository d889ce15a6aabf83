// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"

	"github.com/homestack/homestack/internal/recipe"
	"github.com/homestack/homestack/internal/reconciler"
	"github.com/homestack/homestack/internal/store"
)

// recoverStuckRevision settles a revision left pending by a worker that died
// mid-operation, before any new apply touches the deployment.
//
// A pending install never reached a known-good state: its resources are torn
// down so the fresh apply starts clean. A pending upgrade or rollback is
// rolled back to the latest deployed revision when one exists, and torn down
// like an install otherwise.
func (w *Worker) recoverStuckRevision(ctx context.Context, dep *store.Deployment) error {
	rev, err := w.store.LatestRevision(ctx, dep.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	switch rev.Status {
	case store.RevisionPendingInstall:
		w.logger.Warn("Recovering interrupted install", "deployment", dep.ID, "revision", rev.Number)
		if err := w.teardownRevision(ctx, rev); err != nil {
			return err
		}
		return w.store.SetRevisionStatus(ctx, rev.ID, store.RevisionUninstalled)

	case store.RevisionPendingUpgrade, store.RevisionPendingRollback:
		w.logger.Warn("Recovering interrupted upgrade", "deployment", dep.ID, "revision", rev.Number)
		deployed, err := w.store.LatestDeployedRevision(ctx, dep.ID)
		if errors.Is(err, store.ErrNotFound) {
			if err := w.teardownRevision(ctx, rev); err != nil {
				return err
			}
			return w.store.SetRevisionStatus(ctx, rev.ID, store.RevisionUninstalled)
		}
		if err != nil {
			return err
		}
		graph, err := recipe.DecodeGraph([]byte(deployed.GraphJSON))
		if err != nil {
			return err
		}
		if err := reconciler.AggregateError("recovery rollback", w.reconciler.Apply(ctx, recipe.GraphObjects(graph))); err != nil {
			return err
		}
		return w.store.SetRevisionStatus(ctx, rev.ID, store.RevisionFailed)

	default:
		return nil
	}
}

func (w *Worker) teardownRevision(ctx context.Context, rev *store.Revision) error {
	graph, err := recipe.DecodeGraph([]byte(rev.GraphJSON))
	if err != nil {
		return err
	}
	if err := reconciler.AggregateError("recovery uninstall", w.reconciler.Delete(ctx, recipe.GraphObjects(graph))); err != nil {
		return err
	}
	return reconciler.AggregateError("recovery claim cleanup", w.reconciler.CleanupVolumeClaims(ctx, graph))
}

// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker drains the durable job queue and executes deployment jobs
// against the cluster. It is the asynchronous half of the control plane and
// the only component that applies or deletes resource graphs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/homestack/homestack/internal/audit"
	"github.com/homestack/homestack/internal/config"
	"github.com/homestack/homestack/internal/reconciler"
	"github.com/homestack/homestack/internal/store"
)

// keepFinishedJobs is how many finished job rows the hourly trim retains.
const keepFinishedJobs = 500

// errTerminal marks a job outcome that must not be retried: rerunning the
// job cannot help, so the queue settles it without rescheduling. Handlers
// move the deployment to failed before returning it whenever the record can
// still be identified.
var errTerminal = errors.New("terminal job failure")

// Worker claims and processes jobs from the store's queue.
type Worker struct {
	store      *store.Store
	cluster    client.Client
	reconciler *reconciler.Reconciler
	audit      *audit.Recorder
	logger     *slog.Logger
	cfg        config.WorkerConfig

	limiter  *rate.Limiter
	forwards *ForwardManager
}

// Options collects the worker's collaborators.
type Options struct {
	Store      *store.Store
	Cluster    client.Client
	Reconciler *reconciler.Reconciler
	Audit      *audit.Recorder
	Logger     *slog.Logger
	Config     config.WorkerConfig
	// RESTConfig enables port-forward based local access URLs. Required when
	// Config.LocalAccess is set.
	RESTConfig *rest.Config
}

// New creates a Worker.
func New(opts Options) (*Worker, error) {
	w := &Worker{
		store:      opts.Store,
		cluster:    opts.Cluster,
		reconciler: opts.Reconciler,
		audit:      opts.Audit,
		logger:     opts.Logger,
		cfg:        opts.Config,
		limiter:    rate.NewLimiter(rate.Limit(float64(opts.Config.JobsPerMinute)/60.0), opts.Config.Concurrency),
	}
	if opts.Config.LocalAccess {
		if opts.RESTConfig == nil {
			return nil, errors.New("local access requires a cluster REST config")
		}
		fm, err := NewForwardManager(opts.RESTConfig, opts.Cluster, opts.Logger)
		if err != nil {
			return nil, err
		}
		w.forwards = fm
	}
	return w, nil
}

// Run processes jobs until ctx is cancelled. It blocks.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Worker starting",
		"concurrency", w.cfg.Concurrency, "jobsPerMinute", w.cfg.JobsPerMinute)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.claimLoop(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.trimLoop(ctx)
	}()

	if w.cfg.HealthCheckInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.healthCheckLoop(ctx)
		}()
	}

	wg.Wait()
	if w.forwards != nil {
		w.forwards.StopAll()
	}
	w.logger.Info("Worker stopped")
}

// claimLoop polls the queue, rate-limited across the pool.
func (w *Worker) claimLoop(ctx context.Context) {
	for {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		job, err := w.store.Claim(ctx)
		if errors.Is(err, store.ErrNotFound) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.PollInterval):
			}
			continue
		}
		if err != nil {
			w.logger.Error("Failed to claim job", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.PollInterval):
			}
			continue
		}
		w.process(ctx, job)
	}
}

// process dispatches one claimed job and settles its queue state.
func (w *Worker) process(ctx context.Context, job *store.Job) {
	logger := w.logger.With("job", job.ID, "name", job.Name, "attempt", job.Attempts)
	logger.Info("Processing job")

	err := w.dispatch(ctx, job)
	switch {
	case err == nil:
		if serr := w.store.Succeed(ctx, job.ID); serr != nil {
			logger.Error("Failed to finalize job", "error", serr)
		}
		jobsTotal.WithLabelValues(job.Name, outcomeSucceeded).Inc()

	case errors.Is(err, errTerminal):
		// The handler has settled the deployment record; the job itself is
		// settled so the queue stops retrying.
		if serr := w.store.Succeed(ctx, job.ID); serr != nil {
			logger.Error("Failed to finalize job", "error", serr)
		}
		jobsTotal.WithLabelValues(job.Name, outcomeFailed).Inc()
		logger.Warn("Job ended in terminal failure", "error", err)

	default:
		if ferr := w.store.Fail(ctx, job, err); ferr != nil {
			logger.Error("Failed to reschedule job", "error", ferr)
		}
		outcome := outcomeRetried
		if job.Attempts >= job.MaxAttempts {
			outcome = outcomeFailed
			w.failDeployment(ctx, job, err)
		}
		jobsTotal.WithLabelValues(job.Name, outcome).Inc()
		logger.Warn("Job failed", "error", err, "outcome", outcome)
	}
}

func (w *Worker) dispatch(ctx context.Context, job *store.Job) error {
	payload, err := job.Payload()
	if err != nil {
		return fmt.Errorf("%w: %v", errTerminal, err)
	}
	switch job.Name {
	case store.JobDeploy:
		return w.handleDeploy(ctx, payload, store.RevisionPendingInstall)
	case store.JobUpgrade:
		return w.handleDeploy(ctx, payload, store.RevisionPendingUpgrade)
	case store.JobUndeploy:
		return w.handleUndeploy(ctx, payload)
	case store.JobHealthCheck:
		return w.handleHealthCheck(ctx, payload)
	default:
		return fmt.Errorf("%w: unknown job name %q", errTerminal, job.Name)
	}
}

// failDeployment moves a deployment to failed once its job's retry budget is
// spent, so the record does not sit in a transitional state forever. Undeploy
// cleanup errors land here too: the row stays visible as failed rather than
// stranded in deleting.
func (w *Worker) failDeployment(ctx context.Context, job *store.Job, jobErr error) {
	switch job.Name {
	case store.JobDeploy, store.JobUpgrade, store.JobUndeploy:
	default:
		return
	}
	payload, err := job.Payload()
	if err != nil {
		return
	}
	w.markFailed(ctx, payload.DeploymentID, jobErr.Error())
}

// markFailed flips a deployment to failed and records the audit event.
// Missing and already-failed rows are left alone.
func (w *Worker) markFailed(ctx context.Context, deploymentID, reason string) {
	dep, err := w.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return
	}
	if dep.Status == store.StatusFailed {
		return
	}
	prev := *dep
	if err := w.store.SetDeploymentStatus(ctx, dep.ID, store.StatusFailed, reason); err != nil {
		w.logger.Error("Failed to mark deployment failed", "deployment", dep.ID, "error", err)
		return
	}
	dep.Status = store.StatusFailed
	dep.ErrorMessage = reason
	w.audit.Record(ctx, dep.ID, store.ActionFailed, &prev, dep, reason, audit.ActorWorker)
}

// trimLoop keeps the finished-job backlog bounded.
func (w *Worker) trimLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.TrimJobs(ctx, keepFinishedJobs); err != nil {
				w.logger.Error("Failed to trim finished jobs", "error", err)
			}
		}
	}
}

// healthCheckLoop periodically enqueues a health-check job per running
// deployment. Queue deduplication keeps a slow cluster from piling them up.
func (w *Worker) healthCheckLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			running, err := w.store.ListDeploymentsByStatus(ctx, store.StatusRunning)
			if err != nil {
				w.logger.Error("Failed to list running deployments", "error", err)
				continue
			}
			for _, dep := range running {
				payload := store.JobPayload{
					DeploymentID: dep.ID,
					Namespace:    dep.Namespace,
					Name:         dep.Name,
				}
				if _, _, err := w.store.Enqueue(ctx, store.JobHealthCheck, payload, store.PriorityDefault, 1); err != nil {
					w.logger.Error("Failed to enqueue health check", "deployment", dep.ID, "error", err)
				}
			}
		}
	}
}

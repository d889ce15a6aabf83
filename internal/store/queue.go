// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// The durable queue is a job table: enqueues are deduplicated per deployment,
// claims move a runnable job to active, failures reschedule with exponential
// backoff until the attempt budget is spent. Claims also skip any deployment
// that already has an active job, so jobs for one instance run serially even
// with a multi-worker pool. Jobs survive process restarts; a job left active
// by a killed worker is reclaimed after a stale timeout.

const (
	// PriorityDefault is the normal job priority.
	PriorityDefault = 0
	// PriorityDependency orders auto-deployed dependencies ahead of their
	// dependents.
	PriorityDependency = 10

	// staleActiveAfter is how long an active job may go without an update
	// before it is considered abandoned by a dead worker.
	staleActiveAfter = 15 * time.Minute

	// retryBackoffBase is the first retry delay; it doubles per attempt.
	retryBackoffBase = 30 * time.Second
)

// Enqueue inserts a job unless an unfinished job with the same dedup key
// already exists. It returns the job id and whether a new job was created.
func (s *Store) Enqueue(ctx context.Context, name string, payload JobPayload, priority, maxAttempts int) (string, bool, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", false, fmt.Errorf("failed to encode job payload: %w", err)
	}
	dedupKey := fmt.Sprintf("%s:%s", name, payload.DeploymentID)

	var id string
	created := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Job
		err := tx.Where("dedup_key = ? AND state IN ?", dedupKey, []JobState{JobQueued, JobActive}).
			First(&existing).Error
		if err == nil {
			id = existing.ID
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		job := &Job{
			ID:           uuid.NewString(),
			Name:         name,
			DedupKey:     dedupKey,
			DeploymentID: payload.DeploymentID,
			PayloadJSON:  string(data),
			Priority:     priority,
			State:        JobQueued,
			MaxAttempts:  maxAttempts,
			RunAfter:     time.Now(),
		}
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		id = job.ID
		created = true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to enqueue %s job: %w", name, err)
	}
	return id, created, nil
}

// Claim atomically picks the next runnable job (highest priority, then
// oldest) and marks it active. A job whose deployment already has another
// active job is not runnable, so a deploy and a racing upgrade for one
// instance never overlap. Returns ErrNotFound when nothing is runnable.
func (s *Store) Claim(ctx context.Context) (*Job, error) {
	var claimed *Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		busy := tx.Model(&Job{}).Select("deployment_id").
			Where("state = ? AND updated_at > ?", JobActive, now.Add(-staleActiveAfter))
		var job Job
		err := tx.Where("((state = ? AND run_after <= ?) OR (state = ? AND updated_at <= ?)) AND deployment_id NOT IN (?)",
			JobQueued, now, JobActive, now.Add(-staleActiveAfter), busy).
			Order("priority desc, created_at asc").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		job.State = JobActive
		job.Attempts++
		if err := tx.Save(&job).Error; err != nil {
			return err
		}
		claimed = &job
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return claimed, nil
}

// Succeed finalizes a job.
func (s *Store) Succeed(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{"state": JobSucceeded, "last_error": ""}).Error
	if err != nil {
		return fmt.Errorf("failed to finalize job %s: %w", id, err)
	}
	return nil
}

// Fail reschedules the job with exponential backoff, or finalizes it as
// failed once the attempt budget is spent.
func (s *Store) Fail(ctx context.Context, job *Job, jobErr error) error {
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	updates := map[string]any{"last_error": msg}
	if job.Attempts >= job.MaxAttempts {
		updates["state"] = JobFailed
	} else {
		updates["state"] = JobQueued
		updates["run_after"] = time.Now().Add(retryBackoffBase << (job.Attempts - 1))
	}
	err := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", job.ID).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to reschedule job %s: %w", job.ID, err)
	}
	return nil
}

// Payload decodes the job payload.
func (j *Job) Payload() (JobPayload, error) {
	var p JobPayload
	if err := json.Unmarshal([]byte(j.PayloadJSON), &p); err != nil {
		return JobPayload{}, fmt.Errorf("failed to decode payload of job %s: %w", j.ID, err)
	}
	return p, nil
}

// TrimJobs deletes finished jobs beyond the newest keep entries.
func (s *Store) TrimJobs(ctx context.Context, keep int) error {
	sub := s.db.Model(&Job{}).
		Where("state IN ?", []JobState{JobSucceeded, JobFailed}).
		Order("updated_at desc").
		Limit(keep).
		Select("id")
	err := s.db.WithContext(ctx).
		Where("state IN ? AND id NOT IN (?)", []JobState{JobSucceeded, JobFailed}, sub).
		Delete(&Job{}).Error
	if err != nil {
		return fmt.Errorf("failed to trim finished jobs: %w", err)
	}
	return nil
}

// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

// Package store is the relational persistence layer: deployment rows, the
// append-only event log, revision history and the durable job queue.
package store

import (
	"encoding/json"
	"time"
)

// DeploymentStatus is the lifecycle state of a deployment.
type DeploymentStatus string

const (
	StatusPending   DeploymentStatus = "pending"
	StatusDeploying DeploymentStatus = "deploying"
	StatusRunning   DeploymentStatus = "running"
	StatusFailed    DeploymentStatus = "failed"
	StatusDeleting  DeploymentStatus = "deleting"
	StatusStopped   DeploymentStatus = "stopped"
)

// Active reports whether the status counts as occupying its instance name.
// A stopped deployment releases the name; everything else holds it.
func (s DeploymentStatus) Active() bool {
	return s != StatusStopped
}

// Deployment is the mutable, persisted unit of work. The row exists only
// while the instance is provisioned or provisioning; successful removal
// hard-deletes it.
type Deployment struct {
	ID            string           `gorm:"primaryKey;type:text"`
	TenantID      string           `gorm:"index;type:text"`
	WorkspaceID   string           `gorm:"uniqueIndex:idx_workspace_name;type:text"`
	Name          string           `gorm:"uniqueIndex:idx_workspace_name;type:text"`
	Namespace     string           `gorm:"type:text"`
	RecipeSlug    string           `gorm:"type:text"`
	RecipeVersion string           `gorm:"type:text"`
	ConfigJSON    string           `gorm:"type:text"`
	GraphJSON     string           `gorm:"type:text"`
	Status        DeploymentStatus `gorm:"index;type:text"`
	AccessURL     string           `gorm:"type:text"`
	DependsOnJSON string           `gorm:"type:text"`
	ErrorMessage  string           `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Config decodes the validated configuration.
func (d *Deployment) Config() (map[string]any, error) {
	if d.ConfigJSON == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(d.ConfigJSON), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DependsOn decodes the dependency deployment id list.
func (d *Deployment) DependsOn() []string {
	if d.DependsOnJSON == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(d.DependsOnJSON), &out); err != nil {
		return nil
	}
	return out
}

// EventAction enumerates the audit log actions.
type EventAction string

const (
	ActionCreated       EventAction = "created"
	ActionConfigChanged EventAction = "config_changed"
	ActionRestarted     EventAction = "restarted"
	ActionStatusChanged EventAction = "status_changed"
	ActionHealthChanged EventAction = "health_changed"
	ActionFailed        EventAction = "failed"
	ActionRemoved       EventAction = "removed"
)

// DeploymentEvent is one append-only audit record. Events are never mutated
// or deleted, and survive the hard deletion of their deployment row.
type DeploymentEvent struct {
	ID           uint        `gorm:"primaryKey;autoIncrement"`
	DeploymentID string      `gorm:"index;type:text"`
	Action       EventAction `gorm:"type:text"`
	PrevState    string      `gorm:"type:text"`
	NewState     string      `gorm:"type:text"`
	Reason       string      `gorm:"type:text"`
	Actor        string      `gorm:"type:text"`
	CreatedAt    time.Time
}

// RevisionStatus tracks the apply lifecycle of one resource-graph revision.
// A revision stuck in a pending state marks a worker killed mid-operation;
// the recovery pass acts on it before the next apply.
type RevisionStatus string

const (
	RevisionPendingInstall  RevisionStatus = "pending-install"
	RevisionPendingUpgrade  RevisionStatus = "pending-upgrade"
	RevisionPendingRollback RevisionStatus = "pending-rollback"
	RevisionDeployed        RevisionStatus = "deployed"
	RevisionSuperseded      RevisionStatus = "superseded"
	RevisionUninstalled     RevisionStatus = "uninstalled"
	RevisionFailed          RevisionStatus = "failed"
)

// Revision is one generation of a deployment's applied resource graph.
type Revision struct {
	ID           uint           `gorm:"primaryKey;autoIncrement"`
	DeploymentID string         `gorm:"index;type:text"`
	Number       int            `gorm:"type:integer"`
	Status       RevisionStatus `gorm:"type:text"`
	GraphJSON    string         `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// JobState is the queue state of a job row.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobActive    JobState = "active"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// Job names accepted by the worker.
const (
	JobDeploy      = "deploy"
	JobUpgrade     = "upgrade"
	JobUndeploy    = "undeploy"
	JobHealthCheck = "health-check"
)

// Job is one durable queue entry. The deduplication key collapses repeat
// enqueues of one job kind; the deployment id column lets Claim keep at most
// one job per deployment active, so a deploy and a racing upgrade for the
// same instance never apply concurrently.
type Job struct {
	ID           string   `gorm:"primaryKey;type:text"`
	Name         string   `gorm:"index;type:text"`
	DedupKey     string   `gorm:"index;type:text"`
	DeploymentID string   `gorm:"index;type:text"`
	PayloadJSON  string   `gorm:"type:text"`
	Priority     int      `gorm:"index;type:integer"`
	State        JobState `gorm:"index;type:text"`
	Attempts     int      `gorm:"type:integer"`
	MaxAttempts  int      `gorm:"type:integer"`
	RunAfter     time.Time
	LastError    string `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// JobPayload is the serialized job argument. Undeploy jobs carry the last
// known-good graph because the deployment row is deleted by the handler.
type JobPayload struct {
	DeploymentID string `json:"deploymentId"`
	Namespace    string `json:"namespace,omitempty"`
	Name         string `json:"name,omitempty"`
	GraphJSON    string `json:"graphJson,omitempty"`
}

// Workspace groups deployments for one tenant onto one cluster namespace.
type Workspace struct {
	ID        string `gorm:"primaryKey;type:text"`
	TenantID  string `gorm:"index;type:text"`
	Name      string `gorm:"type:text"`
	Namespace string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

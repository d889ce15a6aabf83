// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit records every deployment lifecycle transition in the
// append-only event log.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/homestack/homestack/internal/store"
)

// maxReasonLength bounds stored reasons; cluster error chains can be
// arbitrarily long.
const maxReasonLength = 2000

// ActorEngine and ActorWorker identify the recording component when no user
// actor is known.
const (
	ActorEngine = "engine"
	ActorWorker = "worker"
)

// Recorder appends deployment events. Failures to record are logged, never
// propagated: the audit trail must not break lifecycle operations.
type Recorder struct {
	store  *store.Store
	logger *slog.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(st *store.Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: st, logger: logger}
}

// Record appends one event. prev and next are snapshotted as JSON; a nil
// snapshot is stored empty (e.g. no previous state on creation).
func (r *Recorder) Record(ctx context.Context, deploymentID string, action store.EventAction, prev, next *store.Deployment, reason, actor string) {
	event := &store.DeploymentEvent{
		DeploymentID: deploymentID,
		Action:       action,
		PrevState:    snapshot(prev),
		NewState:     snapshot(next),
		Reason:       truncate(reason),
		Actor:        actor,
	}
	if err := r.store.AppendEvent(ctx, event); err != nil {
		r.logger.Error("Failed to record audit event",
			"deployment", deploymentID, "action", action, "error", err)
	}
}

func snapshot(d *store.Deployment) string {
	if d == nil {
		return ""
	}
	// The snapshot omits the serialized graph; it is large and recoverable
	// from the revision history.
	data, err := json.Marshal(map[string]any{
		"name":       d.Name,
		"recipe":     d.RecipeSlug,
		"version":    d.RecipeVersion,
		"status":     d.Status,
		"config":     json.RawMessage(emptyToNull(d.ConfigJSON)),
		"accessUrl":  d.AccessURL,
		"error":      d.ErrorMessage,
		"dependsOn":  d.DependsOn(),
		"workspace":  d.WorkspaceID,
		"namespace":  d.Namespace,
	})
	if err != nil {
		return ""
	}
	return string(data)
}

func emptyToNull(s string) string {
	if s == "" {
		return "null"
	}
	return s
}

func truncate(s string) string {
	if len(s) <= maxReasonLength {
		return s
	}
	return s[:maxReasonLength]
}

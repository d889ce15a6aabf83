// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
)

// AppendEvent writes one audit record. The event log has no update or delete
// counterpart.
func (s *Store) AppendEvent(ctx context.Context, e *DeploymentEvent) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("failed to append event for deployment %s: %w", e.DeploymentID, err)
	}
	return nil
}

// ListEvents returns a deployment's audit trail, oldest first.
func (s *Store) ListEvents(ctx context.Context, deploymentID string) ([]DeploymentEvent, error) {
	var out []DeploymentEvent
	err := s.db.WithContext(ctx).
		Where("deployment_id = ?", deploymentID).
		Order("id asc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list events for deployment %s: %w", deploymentID, err)
	}
	return out, nil
}

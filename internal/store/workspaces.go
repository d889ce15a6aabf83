// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// CreateWorkspace persists a workspace row.
func (s *Store) CreateWorkspace(ctx context.Context, w *Workspace) error {
	if err := s.db.WithContext(ctx).Create(w).Error; err != nil {
		return fmt.Errorf("failed to create workspace %s: %w", w.Name, err)
	}
	return nil
}

// GetWorkspace fetches a workspace by id.
func (s *Store) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	var w Workspace
	err := s.db.WithContext(ctx).First(&w, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace %s: %w", id, err)
	}
	return &w, nil
}

// ListWorkspaces returns all workspaces of a tenant.
func (s *Store) ListWorkspaces(ctx context.Context, tenantID string) ([]Workspace, error) {
	var out []Workspace
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at asc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces for tenant %s: %w", tenantID, err)
	}
	return out, nil
}

// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// CreateDeployment persists a new deployment row.
func (s *Store) CreateDeployment(ctx context.Context, d *Deployment) error {
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("failed to create deployment %s: %w", d.Name, err)
	}
	return nil
}

// GetDeployment fetches a deployment by id.
func (s *Store) GetDeployment(ctx context.Context, id string) (*Deployment, error) {
	var d Deployment
	err := s.db.WithContext(ctx).First(&d, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment %s: %w", id, err)
	}
	return &d, nil
}

// FindDeploymentByName fetches the deployment holding an instance name within
// a workspace, regardless of status.
func (s *Store) FindDeploymentByName(ctx context.Context, workspaceID, name string) (*Deployment, error) {
	var d Deployment
	err := s.db.WithContext(ctx).
		First(&d, "workspace_id = ? AND name = ?", workspaceID, name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find deployment %s/%s: %w", workspaceID, name, err)
	}
	return &d, nil
}

// ListDeployments returns all deployments of a workspace, oldest first.
func (s *Store) ListDeployments(ctx context.Context, workspaceID string) ([]Deployment, error) {
	var out []Deployment
	err := s.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at asc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments for workspace %s: %w", workspaceID, err)
	}
	return out, nil
}

// ListDeploymentsByStatus returns all deployments in the given status.
func (s *Store) ListDeploymentsByStatus(ctx context.Context, status DeploymentStatus) ([]Deployment, error) {
	var out []Deployment
	err := s.db.WithContext(ctx).Where("status = ?", status).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments by status %s: %w", status, err)
	}
	return out, nil
}

// UpdateDeployment saves the full row.
func (s *Store) UpdateDeployment(ctx context.Context, d *Deployment) error {
	if err := s.db.WithContext(ctx).Save(d).Error; err != nil {
		return fmt.Errorf("failed to update deployment %s: %w", d.ID, err)
	}
	return nil
}

// SetDeploymentStatus updates status and error message in one write.
func (s *Store) SetDeploymentStatus(ctx context.Context, id string, status DeploymentStatus, errorMessage string) error {
	err := s.db.WithContext(ctx).Model(&Deployment{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "error_message": errorMessage}).Error
	if err != nil {
		return fmt.Errorf("failed to set deployment %s status: %w", id, err)
	}
	return nil
}

// SetDeploymentAccessURL records the access URL.
func (s *Store) SetDeploymentAccessURL(ctx context.Context, id, url string) error {
	err := s.db.WithContext(ctx).Model(&Deployment{}).
		Where("id = ?", id).
		Update("access_url", url).Error
	if err != nil {
		return fmt.Errorf("failed to set deployment %s access url: %w", id, err)
	}
	return nil
}

// DeleteDeployment hard-deletes the row and its revision history. Removal is
// not a soft status; the row only exists while the instance is provisioned or
// provisioning. Audit events outlive the row.
func (s *Store) DeleteDeployment(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&Revision{}, "deployment_id = ?", id).Error; err != nil {
			return fmt.Errorf("failed to delete revisions of %s: %w", id, err)
		}
		if err := tx.Delete(&Deployment{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("failed to delete deployment %s: %w", id, err)
		}
		return nil
	})
}

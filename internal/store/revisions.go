// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// CreateRevision appends a new revision with the next number for the
// deployment and returns it.
func (s *Store) CreateRevision(ctx context.Context, deploymentID string, status RevisionStatus, graphJSON string) (*Revision, error) {
	var rev *Revision
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxNumber int
		row := tx.Model(&Revision{}).
			Where("deployment_id = ?", deploymentID).
			Select("COALESCE(MAX(number), 0)").
			Row()
		if err := row.Scan(&maxNumber); err != nil {
			return err
		}
		rev = &Revision{
			DeploymentID: deploymentID,
			Number:       maxNumber + 1,
			Status:       status,
			GraphJSON:    graphJSON,
		}
		return tx.Create(rev).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create revision for deployment %s: %w", deploymentID, err)
	}
	return rev, nil
}

// SetRevisionStatus updates one revision's status.
func (s *Store) SetRevisionStatus(ctx context.Context, id uint, status RevisionStatus) error {
	err := s.db.WithContext(ctx).Model(&Revision{}).
		Where("id = ?", id).
		Update("status", status).Error
	if err != nil {
		return fmt.Errorf("failed to set revision %d status: %w", id, err)
	}
	return nil
}

// LatestRevision returns the newest revision of a deployment.
func (s *Store) LatestRevision(ctx context.Context, deploymentID string) (*Revision, error) {
	var rev Revision
	err := s.db.WithContext(ctx).
		Where("deployment_id = ?", deploymentID).
		Order("number desc").
		First(&rev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest revision of %s: %w", deploymentID, err)
	}
	return &rev, nil
}

// LatestDeployedRevision returns the newest revision in the deployed state,
// the only safe rollback target.
func (s *Store) LatestDeployedRevision(ctx context.Context, deploymentID string) (*Revision, error) {
	var rev Revision
	err := s.db.WithContext(ctx).
		Where("deployment_id = ? AND status = ?", deploymentID, RevisionDeployed).
		Order("number desc").
		First(&rev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployed revision of %s: %w", deploymentID, err)
	}
	return &rev, nil
}

// SupersedeDeployedRevisions marks all deployed revisions of a deployment as
// superseded, called just before a newer revision becomes deployed.
func (s *Store) SupersedeDeployedRevisions(ctx context.Context, deploymentID string) error {
	err := s.db.WithContext(ctx).Model(&Revision{}).
		Where("deployment_id = ? AND status = ?", deploymentID, RevisionDeployed).
		Update("status", RevisionSuperseded).Error
	if err != nil {
		return fmt.Errorf("failed to supersede revisions of %s: %w", deploymentID, err)
	}
	return nil
}

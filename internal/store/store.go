// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"log/slog"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store wraps the relational database connection.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open opens (or creates) the SQLite database and migrates the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.AutoMigrate(
		&Workspace{},
		&Deployment{},
		&DeploymentEvent{},
		&Revision{},
		&Job{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// DB exposes the underlying handle for tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

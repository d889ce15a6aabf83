// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homestack/homestack/internal/store"
)

func TestValidateSnapshot_Rejections(t *testing.T) {
	f := newTestFixture(t)

	tests := []struct {
		name string
		snap *Snapshot
	}{
		{"wrong version", &Snapshot{Version: 2, Services: []SnapshotService{
			{Name: "db", Recipe: "postgresql"},
		}}},
		{"unknown recipe", &Snapshot{Version: 1, Services: []SnapshotService{
			{Name: "x", Recipe: "nonexistent"},
		}}},
		{"duplicate names", &Snapshot{Version: 1, Services: []SnapshotService{
			{Name: "db", Recipe: "postgresql"},
			{Name: "db", Recipe: "valkey"},
		}}},
		{"dangling dependsOn", &Snapshot{Version: 1, Services: []SnapshotService{
			{Name: "app", Recipe: "n8n", DependsOn: []string{"missing"}},
		}}},
		{"invalid config", &Snapshot{Version: 1, Services: []SnapshotService{
			{Name: "db", Recipe: "postgresql", Config: map[string]any{"bogus": 1}},
		}}},
		{"cycle", &Snapshot{Version: 1, Services: []SnapshotService{
			{Name: "a", Recipe: "postgresql", DependsOn: []string{"b"}},
			{Name: "b", Recipe: "valkey", DependsOn: []string{"a"}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.engine.ValidateSnapshot(tt.snap)
			assert.ErrorIs(t, err, ErrInvalidSnapshot)
		})
	}
}

func TestValidateSnapshot_OK(t *testing.T) {
	f := newTestFixture(t)
	snap := &Snapshot{Version: 1, Services: []SnapshotService{
		{Name: "db", Recipe: "postgresql"},
		{Name: "app", Recipe: "n8n", DependsOn: []string{"db"}},
	}}
	assert.NoError(t, f.engine.ValidateSnapshot(snap))
}

func TestTopoOrder_DependenciesFirst(t *testing.T) {
	services := []SnapshotService{
		{Name: "app", Recipe: "n8n", DependsOn: []string{"db", "cache"}},
		{Name: "cache", Recipe: "valkey"},
		{Name: "db", Recipe: "postgresql"},
	}
	ordered := topoOrder(services)
	require.Len(t, ordered, 3)

	pos := map[string]int{}
	for i, svc := range ordered {
		pos[svc.Name] = i
	}
	assert.Less(t, pos["db"], pos["app"])
	assert.Less(t, pos["cache"], pos["app"])
}

func TestImportWorkspace_DeploysInOrderAndIsIdempotent(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	snap := &Snapshot{Version: 1, Services: []SnapshotService{
		{Name: "mail", Recipe: "mailpit"},
		{Name: "db", Recipe: "postgresql", Config: map[string]any{"storage": "20Gi"}},
	}}

	receipts, err := f.engine.ImportWorkspace(ctx, "default", f.ws.ID, snap)
	require.NoError(t, err)
	assert.Len(t, receipts, 2)

	// A second import skips everything already deployed.
	receipts, err = f.engine.ImportWorkspace(ctx, "default", f.ws.ID, snap)
	require.NoError(t, err)
	assert.Empty(t, receipts)

	all, err := f.store.ListDeployments(ctx, f.ws.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestExportWorkspace_RoundTrip(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	_, err := f.engine.InitiateDeployment(ctx, "default", f.ws.ID, "n8n", "automation", nil)
	require.NoError(t, err)

	snap, err := f.engine.ExportWorkspace(ctx, "default", f.ws.ID)
	require.NoError(t, err)
	require.Len(t, snap.Services, 2)
	assert.Equal(t, SnapshotVersion, snap.Version)

	byName := map[string]SnapshotService{}
	for _, svc := range snap.Services {
		byName[svc.Name] = svc
	}
	assert.Equal(t, []string{"database"}, byName["automation"].DependsOn,
		"dependencies are exported by name, not id")

	// The export must validate and re-import cleanly.
	require.NoError(t, f.engine.ValidateSnapshot(snap))
}

func TestExportWorkspace_SkipsStopped(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	receipt, err := f.engine.InitiateDeployment(ctx, "default", f.ws.ID, "postgresql", "db", nil)
	require.NoError(t, err)
	require.NoError(t, f.store.SetDeploymentStatus(ctx, receipt.DeploymentID, store.StatusStopped, ""))

	snap, err := f.engine.ExportWorkspace(ctx, "default", f.ws.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.Services)
}

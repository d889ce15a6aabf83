// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homestack/homestack/internal/store"
)

func newTestRecorder(t *testing.T) (*Recorder, *store.Store) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	return NewRecorder(st, logger), st
}

func TestRecord(t *testing.T) {
	rec, st := newTestRecorder(t)
	ctx := context.Background()

	dep := &store.Deployment{
		ID:          "dep-1",
		Name:        "db",
		RecipeSlug:  "postgresql",
		Status:      store.StatusPending,
		WorkspaceID: "ws",
		ConfigJSON:  `{"storage":"10Gi"}`,
	}
	rec.Record(ctx, dep.ID, store.ActionCreated, nil, dep, "deployment requested", ActorEngine)

	events, err := st.ListEvents(ctx, dep.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, store.ActionCreated, event.Action)
	assert.Equal(t, ActorEngine, event.Actor)
	assert.Equal(t, "deployment requested", event.Reason)
	assert.Empty(t, event.PrevState, "nil previous snapshot is stored empty")

	var state map[string]any
	require.NoError(t, json.Unmarshal([]byte(event.NewState), &state))
	assert.Equal(t, "db", state["name"])
	assert.Equal(t, "postgresql", state["recipe"])
	assert.Equal(t, "10Gi", state["config"].(map[string]any)["storage"])
}

func TestRecord_TruncatesLongReasons(t *testing.T) {
	rec, st := newTestRecorder(t)
	ctx := context.Background()

	long := strings.Repeat("x", maxReasonLength+500)
	rec.Record(ctx, "dep-1", store.ActionFailed, nil, nil, long, ActorWorker)

	events, err := st.ListEvents(ctx, "dep-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Len(t, events[0].Reason, maxReasonLength)
}

func TestSnapshot_OmitsGraph(t *testing.T) {
	dep := &store.Deployment{
		ID:        "dep-1",
		Name:      "db",
		GraphJSON: `[{"kind":"StatefulSet"}]`,
	}
	out := snapshot(dep)
	assert.NotContains(t, out, "StatefulSet")
}

func TestSnapshot_EmptyConfigIsNull(t *testing.T) {
	var state map[string]any
	require.NoError(t, json.Unmarshal([]byte(snapshot(&store.Deployment{Name: "db"})), &state))
	assert.Nil(t, state["config"])
}

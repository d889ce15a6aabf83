// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"io"
	"net/http"

	"sigs.k8s.io/yaml"

	"github.com/homestack/homestack/internal/engine"
)

// maxSnapshotBytes bounds an import request body.
const maxSnapshotBytes = 1 << 20

// ExportWorkspace renders the workspace's deployments as a YAML snapshot.
func (h *Handler) ExportWorkspace(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.ExportWorkspace(r.Context(), tenant(r), r.PathValue("workspaceId"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	data, err := yaml.Marshal(snap)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ImportWorkspace validates a snapshot and deploys its services in dependency
// order. The body may be YAML or JSON.
func (h *Handler) ImportWorkspace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workspaceID := r.PathValue("workspaceId")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSnapshotBytes))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Failed to read request body", codeInvalidRequest)
		return
	}
	defer r.Body.Close()

	var snap engine.Snapshot
	if err := yaml.Unmarshal(body, &snap); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid snapshot document", codeInvalidJSON)
		return
	}

	receipts, err := h.engine.ImportWorkspace(ctx, tenant(r), workspaceID, &snap)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.logger.Info("Workspace snapshot imported",
		"workspace", workspaceID, "deployments", len(receipts))
	writeSuccessResponse(w, http.StatusAccepted, receipts)
}

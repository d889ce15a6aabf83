// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"
)

// Error codes returned in the response envelope.
const (
	codeInvalidJSON          = "INVALID_JSON"
	codeInvalidRequest       = "INVALID_REQUEST"
	codeRecipeNotFound       = "RECIPE_NOT_FOUND"
	codeWorkspaceNotFound    = "WORKSPACE_NOT_FOUND"
	codeDeploymentNotFound   = "DEPLOYMENT_NOT_FOUND"
	codeAlreadyDeployed      = "ALREADY_DEPLOYED"
	codeHasDependents        = "HAS_DEPENDENTS"
	codeInvalidConfiguration = "INVALID_CONFIGURATION"
	codeDependencyNotFound   = "DEPENDENCY_NOT_FOUND"
	codeDependencyInvalid    = "DEPENDENCY_INVALID"
	codeInvalidSnapshot      = "INVALID_SNAPSHOT"
	codeInternalError        = "INTERNAL_ERROR"
)

// writeSuccessResponse writes a successful API response.
func writeSuccessResponse[T any](w http.ResponseWriter, statusCode int, data T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(SuccessResponse(data)) // Ignore encoding errors for response
}

// writeErrorResponse writes an error API response.
func writeErrorResponse(w http.ResponseWriter, statusCode int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse(message, code)) // Ignore encoding errors for response
}

// writeListResponse writes a list response.
func writeListResponse[T any](w http.ResponseWriter, items []T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	response := SuccessResponse(ListResponse[T]{Items: items, TotalCount: len(items)})
	_ = json.NewEncoder(w).Encode(response) // Ignore encoding errors for response
}

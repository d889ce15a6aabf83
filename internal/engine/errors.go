// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import "errors"

// The engine error taxonomy. These are synchronous, surfaced directly to the
// caller with a human-readable message; the API layer maps them to status
// codes.
var (
	ErrRecipeNotFound          = errors.New("recipe not found")
	ErrWorkspaceNotFound       = errors.New("workspace not found")
	ErrDeploymentNotFound      = errors.New("deployment not found")
	ErrAlreadyDeployed         = errors.New("an instance with this name is already deployed")
	ErrInvalidConfiguration    = errors.New("invalid configuration")
	ErrHasDependents           = errors.New("deployment has active dependents")
	ErrDependencyNotFound      = errors.New("dependency recipe not found")
	ErrDependencyMisconfigured = errors.New("dependency recipe does not expose connection info")
	ErrInvalidSnapshot         = errors.New("invalid workspace snapshot")
)

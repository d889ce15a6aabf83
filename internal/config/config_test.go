// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_AreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = 0
	cfg.Store.Path = ""
	cfg.Worker.MaxAttempts = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "store.path")
	assert.Contains(t, err.Error(), "worker.max_attempts")
}

func TestValidate_IngressDomainRequiredWhenEnabled(t *testing.T) {
	cfg := Defaults()
	cfg.Ingress.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingress.domain")

	cfg.Ingress.Domain = "apps.example.com"
	require.NoError(t, cfg.Validate())
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoader_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9000
worker:
  concurrency: 4
  readiness_timeout: 90s
`)

	loader := NewLoader("HOMESTACK_TEST")
	defaults := Defaults()
	require.NoError(t, loader.LoadWithDefaults(&defaults, path))

	var cfg Config
	require.NoError(t, loader.UnmarshalAndValidate("", &cfg))

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, "90s", cfg.Worker.ReadinessTimeout.String())
	// Untouched values keep their defaults.
	assert.Equal(t, "homestack.db", cfg.Store.Path)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 9000\n")
	t.Setenv("HOMESTACK_TEST__SERVER__PORT", "9100")

	loader := NewLoader("HOMESTACK_TEST")
	defaults := Defaults()
	require.NoError(t, loader.LoadWithDefaults(&defaults, path))

	var cfg Config
	require.NoError(t, loader.UnmarshalAndValidate("", &cfg))
	assert.Equal(t, 9100, cfg.Server.Port)
}

func TestLoader_FlagsOverrideEverything(t *testing.T) {
	t.Setenv("HOMESTACK_TEST__SERVER__PORT", "9100")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 8080, "")
	flags.String("db-path", "", "")
	require.NoError(t, flags.Set("port", "9200"))

	loader := NewLoader("HOMESTACK_TEST")
	defaults := Defaults()
	require.NoError(t, loader.LoadWithDefaults(&defaults, ""))
	require.NoError(t, loader.LoadFlags(flags, map[string]string{
		"port":    "server.port",
		"db-path": "store.path",
	}))

	var cfg Config
	require.NoError(t, loader.UnmarshalAndValidate("", &cfg))
	assert.Equal(t, 9200, cfg.Server.Port)
	// db-path was never set explicitly, so the default survives.
	assert.Equal(t, "homestack.db", cfg.Store.Path)
}

func TestLoader_MissingConfigFile(t *testing.T) {
	loader := NewLoader("HOMESTACK_TEST")
	defaults := Defaults()
	err := loader.LoadWithDefaults(&defaults, filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestUnmarshalAndValidate_RejectsInvalid(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 70000\n")

	loader := NewLoader("HOMESTACK_TEST")
	defaults := Defaults()
	require.NoError(t, loader.LoadWithDefaults(&defaults, path))

	var cfg Config
	err := loader.UnmarshalAndValidate("", &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestPath(t *testing.T) {
	p := NewPath("worker").Child("readiness_timeout")
	assert.Equal(t, "worker.readiness_timeout", p.String())
}

func TestFieldValidators(t *testing.T) {
	assert.Nil(t, MustBeInRange(NewPath("p"), 5, 1, 10))
	assert.NotNil(t, MustBeInRange(NewPath("p"), 0, 1, 10))
	assert.Nil(t, MustBePositive(NewPath("p"), 1))
	assert.NotNil(t, MustBePositive(NewPath("p"), 0))
	assert.Nil(t, MustBeNonNegative(NewPath("p"), 0))
	assert.NotNil(t, MustBeNonNegative(NewPath("p"), -1))
	assert.Nil(t, MustNotBeEmpty(NewPath("p"), "x"))
	assert.NotNil(t, MustNotBeEmpty(NewPath("p"), "  "))
}

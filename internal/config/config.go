// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"time"

	"github.com/homestack/homestack/internal/logging"
)

// Config is the top-level configuration shared by the HomeStack binaries.
type Config struct {
	Logging logging.Config `koanf:"logging"`
	Server  ServerConfig   `koanf:"server"`
	Store   StoreConfig    `koanf:"store"`
	Cluster ClusterConfig  `koanf:"cluster"`
	Worker  WorkerConfig   `koanf:"worker"`
	Ingress IngressConfig  `koanf:"ingress"`
}

// ServerConfig defines HTTP server settings.
type ServerConfig struct {
	// Port is the HTTP server port.
	Port int `koanf:"port"`
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `koanf:"read_timeout"`
	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `koanf:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for active connections to close.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StoreConfig defines the relational store settings.
type StoreConfig struct {
	// Path is the SQLite database file path.
	Path string `koanf:"path"`
}

// ClusterConfig defines how the engine reaches the Kubernetes cluster.
type ClusterConfig struct {
	// Kubeconfig is an optional kubeconfig path. Empty uses the standard
	// resolution chain (in-cluster config, KUBECONFIG, ~/.kube/config).
	Kubeconfig string `koanf:"kubeconfig"`
	// FieldManager is the server-side apply field manager identity.
	FieldManager string `koanf:"field_manager"`
}

// WorkerConfig defines the job worker settings.
type WorkerConfig struct {
	// Embedded runs the worker inside the API process (single-node default).
	Embedded bool `koanf:"embedded"`
	// Concurrency is the number of jobs processed in parallel.
	Concurrency int `koanf:"concurrency"`
	// JobsPerMinute rate-limits job starts across the pool.
	JobsPerMinute int `koanf:"jobs_per_minute"`
	// PollInterval is how often the queue is polled for runnable jobs.
	PollInterval time.Duration `koanf:"poll_interval"`
	// ReadinessTimeout bounds the wait for pods to become ready after apply.
	ReadinessTimeout time.Duration `koanf:"readiness_timeout"`
	// HealthCheckInterval is how often health-check jobs are scheduled for
	// running deployments. Zero disables the scheduler.
	HealthCheckInterval time.Duration `koanf:"health_check_interval"`
	// MaxAttempts is the queue retry budget for retryable job failures.
	MaxAttempts int `koanf:"max_attempts"`
	// LocalAccess enables port-forward based access URLs instead of ingress.
	LocalAccess bool `koanf:"local_access"`
}

// IngressConfig defines cluster-routed ingress settings for web recipes.
type IngressConfig struct {
	// Enabled turns on ingress emission for recipes that support it.
	Enabled bool `koanf:"enabled"`
	// Domain is the base domain; instances are exposed as <name>.<domain>.
	Domain string `koanf:"domain"`
	// ClassName is the ingress class to request.
	ClassName string `koanf:"class_name"`
	// TLSSecret optionally names a wildcard TLS secret.
	TLSSecret string `koanf:"tls_secret"`
}

// Defaults returns the default configuration.
func Defaults() Config {
	return Config{
		Logging: logging.Config{Level: "info", Format: "json"},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{Path: "homestack.db"},
		Cluster: ClusterConfig{
			FieldManager: "homestack-engine",
		},
		Worker: WorkerConfig{
			Embedded:            true,
			Concurrency:         2,
			JobsPerMinute:       6,
			PollInterval:        2 * time.Second,
			ReadinessTimeout:    3 * time.Minute,
			HealthCheckInterval: 5 * time.Minute,
			MaxAttempts:         3,
			LocalAccess:         true,
		},
		Ingress: IngressConfig{Enabled: false},
	}
}

// Validate validates the whole configuration tree.
func (c *Config) Validate() error {
	var errs ValidationErrors

	appendErr := func(e *FieldError) {
		if e != nil {
			errs = append(errs, e)
		}
	}

	server := NewPath("server")
	appendErr(MustBeInRange(server.Child("port"), c.Server.Port, 1, 65535))
	appendErr(MustBeNonNegative(server.Child("read_timeout"), c.Server.ReadTimeout))
	appendErr(MustBeNonNegative(server.Child("write_timeout"), c.Server.WriteTimeout))
	appendErr(MustBeNonNegative(server.Child("shutdown_timeout"), c.Server.ShutdownTimeout))

	appendErr(MustNotBeEmpty(NewPath("store").Child("path"), c.Store.Path))
	appendErr(MustNotBeEmpty(NewPath("cluster").Child("field_manager"), c.Cluster.FieldManager))

	worker := NewPath("worker")
	appendErr(MustBePositive(worker.Child("concurrency"), c.Worker.Concurrency))
	appendErr(MustBePositive(worker.Child("jobs_per_minute"), c.Worker.JobsPerMinute))
	appendErr(MustBePositive(worker.Child("poll_interval"), c.Worker.PollInterval))
	appendErr(MustBePositive(worker.Child("readiness_timeout"), c.Worker.ReadinessTimeout))
	appendErr(MustBeNonNegative(worker.Child("health_check_interval"), c.Worker.HealthCheckInterval))
	appendErr(MustBeInRange(worker.Child("max_attempts"), c.Worker.MaxAttempts, 1, 10))

	if c.Ingress.Enabled {
		appendErr(MustNotBeEmpty(NewPath("ingress").Child("domain"), c.Ingress.Domain))
	}

	return errs.OrNil()
}

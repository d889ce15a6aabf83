// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/homestack/homestack/internal/audit"
	"github.com/homestack/homestack/internal/clients/kubernetes"
	"github.com/homestack/homestack/internal/config"
	"github.com/homestack/homestack/internal/engine"
	"github.com/homestack/homestack/internal/logging"
	"github.com/homestack/homestack/internal/recipe"
	"github.com/homestack/homestack/internal/recipe/catalog"
	"github.com/homestack/homestack/internal/reconciler"
	"github.com/homestack/homestack/internal/server"
	"github.com/homestack/homestack/internal/store"
	"github.com/homestack/homestack/internal/worker"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "homestack-api",
		Short:        "HomeStack deployment engine API server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, configPath)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	flags.Int("port", 8080, "HTTP server port")
	flags.String("db-path", "", "SQLite database file path")
	flags.String("kubeconfig", "", "kubeconfig path (empty uses the standard chain)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	return cmd
}

func run(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)
	ctrl.SetLogger(logr.FromSlogHandler(logger.Handler()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.Store.Path, logger.With("component", "store"))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	registry, err := catalog.NewRegistry()
	if err != nil {
		return fmt.Errorf("failed to build recipe catalog: %w", err)
	}

	restCfg, err := kubernetes.NewRESTConfig(cfg.Cluster.Kubeconfig)
	if err != nil {
		return err
	}
	cluster, err := kubernetes.NewClient(restCfg)
	if err != nil {
		return err
	}

	rec := reconciler.New(cluster, cfg.Cluster.FieldManager, logger.With("component", "reconciler"))
	recorder := audit.NewRecorder(st, logger.With("component", "audit"))

	var ingress *recipe.IngressContext
	if cfg.Ingress.Enabled {
		ingress = &recipe.IngressContext{
			Domain:    cfg.Ingress.Domain,
			ClassName: cfg.Ingress.ClassName,
			TLSSecret: cfg.Ingress.TLSSecret,
		}
	}

	eng := engine.New(engine.Options{
		Registry:       registry,
		Store:          st,
		Cluster:        cluster,
		Reconciler:     rec,
		Audit:          recorder,
		Logger:         logger.With("component", "engine"),
		Ingress:        ingress,
		JobMaxAttempts: cfg.Worker.MaxAttempts,
	})

	if cfg.Worker.Embedded {
		wk, err := worker.New(worker.Options{
			Store:      st,
			Cluster:    cluster,
			Reconciler: rec,
			Audit:      recorder,
			Logger:     logger.With("component", "worker"),
			Config:     cfg.Worker,
			RESTConfig: restCfg,
		})
		if err != nil {
			return fmt.Errorf("failed to create worker: %w", err)
		}
		go wk.Run(ctx)
	}

	handler := server.NewHandler(eng, registry, logger.With("component", "handlers"))
	srv := server.NewServer(cfg.Server, handler.Routes(), logger.With("component", "server"))
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("Server stopped gracefully")
	return nil
}

func loadConfig(cmd *cobra.Command, configPath string) (*config.Config, error) {
	loader := config.NewLoader("HOMESTACK")
	defaults := config.Defaults()
	if err := loader.LoadWithDefaults(&defaults, configPath); err != nil {
		return nil, err
	}
	if err := loader.LoadFlags(cmd.Flags(), map[string]string{
		"port":       "server.port",
		"db-path":    "store.path",
		"kubeconfig": "cluster.kubeconfig",
		"log-level":  "logging.level",
	}); err != nil {
		return nil, err
	}

	var cfg config.Config
	if err := loader.UnmarshalAndValidate("", &cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/homestack/homestack/internal/audit"
	"github.com/homestack/homestack/internal/clients/kubernetes"
	"github.com/homestack/homestack/internal/config"
	"github.com/homestack/homestack/internal/logging"
	"github.com/homestack/homestack/internal/reconciler"
	"github.com/homestack/homestack/internal/server"
	"github.com/homestack/homestack/internal/store"
	"github.com/homestack/homestack/internal/worker"
)

// homestack-worker runs the job worker standalone, for installations that
// scale it separately from the API. The single-node default embeds the worker
// in homestack-api instead.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "homestack-worker",
		Short:        "HomeStack deployment job worker",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, configPath)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	flags.Int("metrics-port", 9090, "metrics and health endpoint port")
	flags.String("db-path", "", "SQLite database file path")
	flags.String("kubeconfig", "", "kubeconfig path (empty uses the standard chain)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	return cmd
}

func run(cmd *cobra.Command, configPath string) error {
	loader := config.NewLoader("HOMESTACK")
	defaults := config.Defaults()
	if err := loader.LoadWithDefaults(&defaults, configPath); err != nil {
		return err
	}
	if err := loader.LoadFlags(cmd.Flags(), map[string]string{
		"db-path":    "store.path",
		"kubeconfig": "cluster.kubeconfig",
		"log-level":  "logging.level",
	}); err != nil {
		return err
	}
	var cfg config.Config
	if err := loader.UnmarshalAndValidate("", &cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	metricsPort, err := cmd.Flags().GetInt("metrics-port")
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

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := server.NewServer(config.ServerConfig{
		Port:        metricsPort,
		ReadTimeout: 15 * time.Second,
	}, mux, logger.With("component", "metrics"))
	go func() {
		if err := srv.Run(ctx); err != nil {
			logger.Error("Metrics server error", "error", err)
		}
	}()

	wk.Run(ctx)

	logger.Info("Worker stopped gracefully")
	return nil
}

// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSucceeded = "succeeded"
	outcomeRetried   = "retried"
	outcomeFailed    = "failed"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homestack_worker_jobs_total",
		Help: "Jobs processed by the worker, by job name and outcome.",
	}, []string{"job", "outcome"})

	readinessWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "homestack_worker_readiness_wait_seconds",
		Help:    "Time spent waiting for workload pods to become ready after apply.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
)

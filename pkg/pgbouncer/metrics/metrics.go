// Copyright (c) 2018-2022 Splunk Inc. All rights reserved.

//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes reconcile instrumentation on the controller-runtime
// metrics registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// ReconcileTotal counts reconcile invocations by resulting state
	ReconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgbouncer_operator_reconcile_total",
			Help: "Number of reconcile invocations, partitioned by resulting state",
		},
		[]string{"state"},
	)

	// ReconcileErrors counts reconcile invocations that ended in an apply failure
	ReconcileErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgbouncer_operator_reconcile_errors_total",
			Help: "Number of reconcile invocations that failed to apply configuration",
		},
	)

	// RenderDuration observes how long the config planning and render step took
	RenderDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pgbouncer_operator_render_duration_seconds",
			Help:    "Time spent planning and rendering pooler configuration",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ActivePools reports the number of client pool assignments in the last
	// rendered configuration
	ActivePools = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgbouncer_operator_active_pools",
			Help: "Number of active client pool assignments",
		},
	)
)

func init() {
	ctrlmetrics.Registry.MustRegister(ReconcileTotal, ReconcileErrors, RenderDuration, ActivePools)
}

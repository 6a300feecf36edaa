// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes Prometheus counters/gauges/histograms for the
// scheduler, resource manager and syscall processor. It is grounded on
// internal/ratelimiter/telemetry/churn's global-registration-plus-tiny-HTTP-
// server pattern: metrics are package-level globals registered eagerly in
// init, and StartEndpoint spins up a dedicated /metrics server the same way
// churn.startMetricsEndpoint does.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "faasten_scheduler_queue_depth",
		Help: "Current number of tasks waiting in the scheduler's bounded queue",
	})
	DispatchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "faasten_scheduler_dispatch_latency_seconds",
		Help:    "Time from enqueue to a task being written to a worker's socket",
		Buckets: prometheus.DefBuckets,
	})
	QueueFullTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "faasten_scheduler_queue_full_total",
		Help: "Total enqueue attempts rejected because the bounded queue was full",
	})

	FreeMemMiB = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "faasten_resource_free_mem_mib",
		Help: "Currently unreserved memory tracked by the resource manager, in MiB",
	})
	TotalMemMiB = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "faasten_resource_total_mem_mib",
		Help: "Total memory capacity tracked by the resource manager, in MiB",
	})
	VMLaunchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "faasten_vm_launch_latency_seconds",
		Help:    "Time to spawn and accept a connection from a hypervisor child",
		Buckets: prometheus.DefBuckets,
	})
	VMLaunchFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "faasten_vm_launch_failures_total",
		Help: "Total VM launches that failed (child exited before connecting, spawn error)",
	})

	SyscallTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "faasten_syscall_total",
		Help: "Total syscalls processed, labeled by syscall kind and outcome",
	}, []string{"kind", "success"})
)

func init() {
	prometheus.MustRegister(
		QueueDepth, DispatchLatency, QueueFullTotal,
		FreeMemMiB, TotalMemMiB, VMLaunchLatency, VMLaunchFailuresTotal,
		SyscallTotal,
	)
}

// ObserveSyscall records one syscall's outcome. kind should be a stable
// short name (e.g. "FsRead"), not an unbounded value, to keep label
// cardinality bounded.
func ObserveSyscall(kind string, success bool) {
	SyscallTotal.WithLabelValues(kind, boolLabel(success)).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// StartEndpoint exposes /metrics on addr in a background goroutine, mirroring
// the donor's startMetricsEndpoint: best-effort, not deduplicated across
// calls, intended to be called once at process startup.
func StartEndpoint(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}

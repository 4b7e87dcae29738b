/*
Package metrics provides Prometheus metrics collection and exposition for
unmanicd.

Metrics are registered against the global Prometheus registry at package
init and exposed over HTTP for scraping, following the same pattern as
the rest of the orchestrator's ambient stack.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Workers: thread count by group/state       │          │
	│  │  Queue: pending/in_progress/processed depth │          │
	│  │  Pipeline: dispatch latency, process time   │          │
	│  │  Post-processor: move duration, retries     │          │
	│  │  GPU: devices total/in-use                  │          │
	│  │  Remote: available peers, dispatch outcome  │          │
	│  │  API: request count, duration               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint               │          │
	│  │  - metrics.Handler() serves /metrics         │          │
	│  │  - Format: Prometheus text exposition        │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

Worker metrics:

unmanic_workers_total{group, state}:
  - Gauge. Worker thread count by group and state (idle, busy, paused).

unmanic_worker_groups_total:
  - Gauge. Number of configured worker groups.

Task queue metrics:

unmanic_tasks_pending_total / unmanic_tasks_in_progress_total /
unmanic_tasks_processed_total:
  - Gauge. Depth of each lifecycle stage's queue (spec.md §4.B).

unmanic_tasks_completed_total{outcome}:
  - Counter. Tasks reaching a terminal state, labeled success/failed.

unmanic_task_dispatch_latency_seconds:
  - Histogram. Time a task waits pending before the Foreman dispatches it.

Pipeline metrics:

unmanic_task_process_duration_seconds{library}:
  - Histogram. Wall time for a worker's plugin pipeline run, labeled by
    library name; wide buckets (1s..3600s) matching transcode job length.

unmanic_tasks_redundant_total:
  - Counter. Tasks a worker discarded as redundant mid-pipeline.

Post-processor metrics:

unmanic_postprocess_move_duration_seconds:
  - Histogram. Time to move a transcoded artifact to its destination.

unmanic_postprocess_retries_total:
  - Counter. Artifact-move retries issued under the 2s/4s backoff.

GPU metrics:

unmanic_gpu_devices_total / unmanic_gpu_devices_in_use:
  - Gauge. Registered GPU device count and the number of devices with at
    least one worker allocated.

Remote/federation metrics:

unmanic_remote_peers_available:
  - Gauge. Free slots currently advertised, summed across federated
    peers.

unmanic_remote_tasks_dispatched_total{outcome}:
  - Counter. Tasks handed to a remote peer, labeled success/failed.

API metrics:

unmanic_api_requests_total{method, status} /
unmanic_api_request_duration_seconds{method}:
  - Counter / Histogram. Distributed-worker REST API request volume and
    latency.

# Usage

	import "github.com/unmanic/unmanicd/pkg/metrics"

	metrics.WorkersTotal.WithLabelValues("default", "idle").Set(3)
	metrics.TasksCompletedTotal.WithLabelValues("success").Inc()

	timer := metrics.NewTimer()
	runPipeline()
	timer.ObserveDurationVec(metrics.TaskProcessDuration, libraryName)

	http.Handle("/metrics", metrics.Handler())

# Design Patterns

Package-init registration: every metric is registered once in init() via
MustRegister, so a caller never needs to set anything up before using the
package-level vars.

Label discipline: labels stay low-cardinality (group name, status, state,
outcome) - task or worker ids never become label values.

# See Also

  - Prometheus client library: https://github.com/prometheus/client_golang
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "unmanic_workers_total",
			Help: "Total number of worker threads by group and state (idle, busy, paused)",
		},
		[]string{"group", "state"},
	)

	WorkerGroupsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "unmanic_worker_groups_total",
			Help: "Total number of configured worker groups",
		},
	)

	// Task queue metrics
	TasksPendingTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "unmanic_tasks_pending_total",
			Help: "Total number of tasks waiting to be claimed",
		},
	)

	TasksInProgressTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "unmanic_tasks_in_progress_total",
			Help: "Total number of tasks currently claimed by a worker",
		},
	)

	TasksProcessedTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "unmanic_tasks_processed_total",
			Help: "Total number of tasks awaiting post-processing",
		},
	)

	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unmanic_tasks_completed_total",
			Help: "Total number of tasks that reached a terminal state by outcome",
		},
		[]string{"outcome"}, // success, failed
	)

	TaskDispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "unmanic_task_dispatch_latency_seconds",
			Help:    "Time a task waits in the pending queue before being dispatched",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Worker pipeline metrics
	TaskProcessDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "unmanic_task_process_duration_seconds",
			Help:    "Time taken for a worker to run the full plugin pipeline on a task",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"library"},
	)

	TasksRedundant = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "unmanic_tasks_redundant_total",
			Help: "Total number of tasks a worker discarded as redundant after a plugin pipeline stage",
		},
	)

	// Post-processor metrics
	PostProcessMoveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "unmanic_postprocess_move_duration_seconds",
			Help:    "Time taken to move a transcoded artifact to its final destination",
			Buckets: prometheus.DefBuckets,
		},
	)

	PostProcessRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "unmanic_postprocess_retries_total",
			Help: "Total number of artifact-move retries issued by the post-processor",
		},
	)

	// GPU metrics
	GPUDevicesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "unmanic_gpu_devices_total",
			Help: "Total number of registered GPU devices",
		},
	)

	GPUDevicesInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "unmanic_gpu_devices_in_use",
			Help: "Total number of GPU devices currently allocated to a worker",
		},
	)

	// Remote/federation metrics
	RemotePeersAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "unmanic_remote_peers_available",
			Help: "Total free slots currently advertised by federated peers",
		},
	)

	RemoteTasksDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unmanic_remote_tasks_dispatched_total",
			Help: "Total number of tasks dispatched to a federated peer by outcome",
		},
		[]string{"outcome"}, // success, failed
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unmanic_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "unmanic_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(WorkerGroupsTotal)
	prometheus.MustRegister(TasksPendingTotal)
	prometheus.MustRegister(TasksInProgressTotal)
	prometheus.MustRegister(TasksProcessedTotal)
	prometheus.MustRegister(TasksCompletedTotal)
	prometheus.MustRegister(TaskDispatchLatency)
	prometheus.MustRegister(TaskProcessDuration)
	prometheus.MustRegister(TasksRedundant)
	prometheus.MustRegister(PostProcessMoveDuration)
	prometheus.MustRegister(PostProcessRetriesTotal)
	prometheus.MustRegister(GPUDevicesTotal)
	prometheus.MustRegister(GPUDevicesInUse)
	prometheus.MustRegister(RemotePeersAvailable)
	prometheus.MustRegister(RemoteTasksDispatchedTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

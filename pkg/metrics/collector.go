package metrics

import (
	"context"
	"time"

	"github.com/unmanic/unmanicd/pkg/gpu"
	"github.com/unmanic/unmanicd/pkg/remotetask"
	"github.com/unmanic/unmanicd/pkg/taskqueue"
	"github.com/unmanic/unmanicd/pkg/workergroup"
)

// Collector polls the queue, GPU manager, worker-group store, and (if
// configured) the remote coordinator on a fixed interval and republishes
// their state as Prometheus gauges, using the same ticker/stopCh shape
// as the rest of this repo's background loops.
type Collector struct {
	queue   taskqueue.Interface
	groups  *workergroup.Store
	gpuMgr  *gpu.Manager
	remote  *remotetask.Coordinator
	stopCh  chan struct{}
}

// NewCollector constructs a Collector. remote may be nil for single-
// installation deployments with no federation configured.
func NewCollector(queue taskqueue.Interface, groups *workergroup.Store, gpuMgr *gpu.Manager, remote *remotetask.Coordinator) *Collector {
	return &Collector{
		queue:  queue,
		groups: groups,
		gpuMgr: gpuMgr,
		remote: remote,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15s in its own goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() { close(c.stopCh) }

func (c *Collector) collect() {
	c.collectQueueMetrics()
	c.collectWorkerGroupMetrics()
	c.collectGPUMetrics()
	c.collectRemoteMetrics()
}

func (c *Collector) collectQueueMetrics() {
	ctx := context.Background()

	if pending, err := c.queue.ListPending(ctx, 0); err == nil {
		TasksPendingTotal.Set(float64(len(pending)))
	}
	if inProgress, err := c.queue.ListInProgress(ctx, 0); err == nil {
		TasksInProgressTotal.Set(float64(len(inProgress)))
	}
	if processed, err := c.queue.ListProcessed(ctx, 0); err == nil {
		TasksProcessedTotal.Set(float64(len(processed)))
	}
}

func (c *Collector) collectWorkerGroupMetrics() {
	if c.groups == nil {
		return
	}
	groups, err := c.groups.List()
	if err != nil {
		return
	}
	WorkerGroupsTotal.Set(float64(len(groups)))
}

func (c *Collector) collectGPUMetrics() {
	if c.gpuMgr == nil {
		return
	}
	devices := c.gpuMgr.Devices()
	GPUDevicesTotal.Set(float64(len(devices)))

	inUse := 0
	for _, d := range devices {
		if d.CurrentWorkers > 0 {
			inUse++
		}
	}
	GPUDevicesInUse.Set(float64(inUse))
}

func (c *Collector) collectRemoteMetrics() {
	if c.remote == nil {
		return
	}
	RemotePeersAvailable.Set(float64(c.remote.AvailableSlots()))
}

// WorkerStatusRecorder adapts the package-level WorkersTotal gauge to
// pkg/foreman.MetricsSink, so Foreman's step 3 can publish per-worker
// state every tick without this package depending on pkg/foreman.
type WorkerStatusRecorder struct {
	seen map[string]bool
}

// NewWorkerStatusRecorder constructs a WorkerStatusRecorder.
func NewWorkerStatusRecorder() *WorkerStatusRecorder {
	return &WorkerStatusRecorder{seen: make(map[string]bool)}
}

// RecordWorkerStatus implements pkg/foreman.MetricsSink.
func (r *WorkerStatusRecorder) RecordWorkerStatus(groupID, workerID string, idle, paused bool) {
	state := "busy"
	switch {
	case paused:
		state = "paused"
	case idle:
		state = "idle"
	}
	WorkersTotal.WithLabelValues(groupID, state).Inc()
	r.seen[groupID+"|"+workerID] = true
}

// ResetWorkerStatus zeroes the per-group worker gauges before a fresh tick
// republishes them, so a worker that was removed doesn't linger in the
// last-observed state forever.
func (r *WorkerStatusRecorder) ResetWorkerStatus() {
	WorkersTotal.Reset()
	r.seen = make(map[string]bool)
}

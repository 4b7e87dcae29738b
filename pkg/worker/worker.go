// Package worker implements the local Worker from spec.md §3.3/§4.C: a
// long-lived cooperative unit bound to one worker group that claims one
// task at a time over a personal handoff slot, drives the plugin-driven
// transcode pipeline, tracks subprocess stats, and can be paused or
// retired. It runs a cooperative loop that blocks on its handoff slot,
// with its per-unit state under a single mutex, driving the eight-step transcode
// pipeline instead of a single external executor call.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/unmanic/unmanicd/pkg/gpu"
	"github.com/unmanic/unmanicd/pkg/health"
	"github.com/unmanic/unmanicd/pkg/log"
	"github.com/unmanic/unmanicd/pkg/task"
)

// SubprocessStats mirrors spec.md §3.3's per-task process metrics,
// refreshed while a transcode stage's child process is running.
type SubprocessStats struct {
	PID        int
	Percent    float64
	Elapsed    time.Duration
	CPUPercent float64
	MemPercent float64
	RSSBytes   int64
	VMSBytes   int64
}

// Pipeline drives the plugin-based transcode against t.CachePath,
// invoking onStats as the (stubbed, externally-supplied) subprocess
// reports progress. The concrete runner chain lives behind
// pkg/pluginhost - Pipeline only orchestrates calling it in library
// plugin-flow order.
type Pipeline interface {
	Run(ctx context.Context, t *task.Task, onStats func(SubprocessStats)) error
}

// Worker is a long-lived cooperative unit processing at most one task at
// a time.
type Worker struct {
	ThreadID string
	Name     string
	GroupID  string

	// HandoffSlot is this worker's personal size-1 bounded channel; the
	// Foreman fills it, this worker drains it. See spec.md §5 "Handoff".
	HandoffSlot chan *task.Task
	completeCh  chan<- *task.Task

	gpuMgr      *gpu.Manager
	pipeline    Pipeline
	preCheck    *health.IntegrityChecker
	postCheck   *health.IntegrityChecker
	preEnabled  bool
	postEnabled bool
	failOnPreCheckCorruption bool

	idle          atomic.Bool
	pausedFlag    atomic.Bool
	redundantFlag atomic.Bool
	redundantOnce sync.Once
	redundantCh   chan struct{}
	resumeCh      chan struct{}

	mu          sync.Mutex
	currentTask *task.Task
	currentGPU  string
	stats       SubprocessStats
	startTime   time.Time

	log    *RingLog
	logger zerolog.Logger
}

// Option configures optional Worker behavior at construction.
type Option func(*Worker)

// WithPreCheck enables the pre-transcode integrity check (§4.C step 3).
// failFast controls whether a "corrupted" verdict aborts the task
// (fail_on_pre_check_corruption).
func WithPreCheck(c *health.IntegrityChecker, failFast bool) Option {
	return func(w *Worker) {
		w.preCheck = c
		w.preEnabled = true
		w.failOnPreCheckCorruption = failFast
	}
}

// WithPostCheck enables the post-transcode integrity check (§4.C step 5).
func WithPostCheck(c *health.IntegrityChecker) Option {
	return func(w *Worker) { w.postCheck = c; w.postEnabled = true }
}

// New constructs an idle Worker. completeCh is the Foreman-owned shared
// channel every worker in the process publishes finished tasks onto.
func New(threadID, name, groupID string, completeCh chan<- *task.Task, gpuMgr *gpu.Manager, pipeline Pipeline, opts ...Option) *Worker {
	w := &Worker{
		ThreadID:    threadID,
		Name:        name,
		GroupID:     groupID,
		HandoffSlot: make(chan *task.Task, 1),
		completeCh:  completeCh,
		gpuMgr:      gpuMgr,
		pipeline:    pipeline,
		redundantCh: make(chan struct{}),
		resumeCh:    make(chan struct{}, 1),
		log:         NewRingLog(500),
		logger:      log.WithWorkerID(threadID),
		startTime:   time.Now(),
	}
	w.idle.Store(true)
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Pause sets the paused flag; the worker suspends between pipeline
// stages, never mid-subprocess (§4.C step 6).
func (w *Worker) Pause() { w.pausedFlag.Store(true) }

// Resume clears the paused flag and wakes a worker currently suspended
// between stages.
func (w *Worker) Resume() {
	w.pausedFlag.Store(false)
	select {
	case w.resumeCh <- struct{}{}:
	default:
	}
}

// Paused reports the current pause state.
func (w *Worker) Paused() bool { return w.pausedFlag.Load() }

// MarkRedundant sets the one-shot redundant flag: the worker exits after
// its current task (or immediately, if idle). Idempotent.
func (w *Worker) MarkRedundant() {
	if w.redundantFlag.CompareAndSwap(false, true) {
		w.redundantOnce.Do(func() { close(w.redundantCh) })
	}
}

// Redundant reports whether this worker has been marked for retirement.
func (w *Worker) Redundant() bool { return w.redundantFlag.Load() }

// Idle reports whether the worker currently has no assigned task -
// spec.md §8 invariant 4: idle iff current_task is empty.
func (w *Worker) Idle() bool { return w.idle.Load() }

// Run is the worker's cooperative loop: block on the handoff slot, drive
// one task end to end, repeat, until redundant or ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if w.redundantFlag.Load() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-w.redundantCh:
			return
		case t, ok := <-w.HandoffSlot:
			if !ok {
				return
			}
			w.runTask(ctx, t)
			if w.redundantFlag.Load() {
				return
			}
		}
	}
}

// runTask drives the eight-step pipeline of spec.md §4.C against t.
func (w *Worker) runTask(ctx context.Context, t *task.Task) {
	if w.redundantFlag.Load() {
		return
	}
	w.idle.Store(false)
	w.mu.Lock()
	w.currentTask = t
	w.stats = SubprocessStats{}
	w.mu.Unlock()
	defer w.finishTask()

	logger := w.logger.With().Int64("task_id", t.ID).Logger()
	w.appendLog(fmt.Sprintf("claimed task %d (%s)", t.ID, t.Abspath))

	// Step 2: acquire GPU.
	deviceID, err := w.gpuMgr.Allocate(w.ThreadID, "")
	if err != nil {
		logger.Warn().Err(err).Msg("gpu allocation failed, proceeding without a device")
	} else {
		w.mu.Lock()
		w.currentGPU = deviceID
		w.mu.Unlock()
		defer w.gpuMgr.Release(w.ThreadID)
	}

	w.waitWhilePaused(ctx)

	// Step 3: pre-transcode health check.
	if w.preEnabled && w.preCheck != nil {
		result := w.preCheck.Check(ctx, t.Abspath)
		if result.Status == health.IntegrityCorrupted && w.failOnPreCheckCorruption {
			t.Success = false
			w.appendLog("pre-transcode check reported corrupted input, aborting")
			return
		}
	}

	// Step 4: transcode pipeline.
	if w.pipeline != nil {
		onStats := func(s SubprocessStats) {
			w.mu.Lock()
			w.stats = s
			w.mu.Unlock()
		}
		if err := w.pipeline.Run(ctx, t, onStats); err != nil {
			t.Success = false
			w.appendLog(fmt.Sprintf("pipeline failed: %v", err))
			return
		}
		t.Success = true
	}

	w.waitWhilePaused(ctx)

	// Step 5: post-transcode health check.
	if w.postEnabled && w.postCheck != nil {
		result := w.postCheck.Check(ctx, t.CachePath)
		if result.Status == health.IntegrityCorrupted {
			t.Success = false
			w.appendLog("post-transcode check reported corrupted output")
		}
	}

	w.appendLog(fmt.Sprintf("task %d finished, success=%v", t.ID, t.Success))
}

// waitWhilePaused implements step 6: suspend between stages while
// paused, never mid-subprocess (pause is only checked at call sites
// between pipeline stages above, never injected inside Pipeline.Run).
func (w *Worker) waitWhilePaused(ctx context.Context) {
	for w.pausedFlag.Load() {
		select {
		case <-ctx.Done():
			return
		case <-w.resumeCh:
		case <-time.After(time.Second):
		}
	}
}

// finishTask implements step 7: push the completed task, clear current
// state, mark idle.
func (w *Worker) finishTask() {
	w.mu.Lock()
	t := w.currentTask
	w.currentTask = nil
	w.currentGPU = ""
	w.stats = SubprocessStats{}
	w.mu.Unlock()
	w.idle.Store(true)

	if t != nil && w.completeCh != nil {
		w.completeCh <- t
	}
}

func (w *Worker) appendLog(line string) {
	w.log.Append(line)
}

// Status is the §4.C get_status() projection, every field string-coerced
// for UI-response parity with the original's JSON shape.
type Status struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Idle        string            `json:"idle"`
	Paused      string            `json:"paused"`
	StartTime   string            `json:"start_time"`
	CurrentTask string            `json:"current_task"`
	CurrentFile string            `json:"current_file"`
	Subprocess  map[string]string `json:"subprocess"`
	GPU         string            `json:"gpu"`
	RunnersInfo []string          `json:"runners_info"`
}

// GetStatus returns a snapshot of the worker's current state.
func (w *Worker) GetStatus() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Status{
		ID:        w.ThreadID,
		Name:      w.Name,
		Idle:      strconv.FormatBool(w.idle.Load()),
		Paused:    strconv.FormatBool(w.pausedFlag.Load()),
		StartTime: w.startTime.Format(time.RFC3339),
		GPU:       w.currentGPU,
		Subprocess: map[string]string{
			"pid":         strconv.Itoa(w.stats.PID),
			"percent":     strconv.FormatFloat(w.stats.Percent, 'f', 2, 64),
			"elapsed":     w.stats.Elapsed.String(),
			"cpu_percent": strconv.FormatFloat(w.stats.CPUPercent, 'f', 2, 64),
			"mem_percent": strconv.FormatFloat(w.stats.MemPercent, 'f', 2, 64),
			"rss":         strconv.FormatInt(w.stats.RSSBytes, 10),
			"vms":         strconv.FormatInt(w.stats.VMSBytes, 10),
		},
	}
	if w.currentTask != nil {
		s.CurrentTask = strconv.FormatInt(w.currentTask.ID, 10)
		s.CurrentFile = w.currentTask.Abspath
	}
	return s
}

// WorkerLog returns a snapshot of this worker's tail-bounded log buffer.
func (w *Worker) WorkerLog() []string { return w.log.Lines() }

// Package distworker implements the distributed-worker monitor of
// spec.md §4.I: an independent thread, separate from the Foreman's tick
// loop, that wakes every 60s to reap workers that stopped heartbeating
// and reclaim any task stuck in_progress against one of them. Modeled on
// pkg/foreman's own NewTicker+select-on-stopCh shape.
package distworker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/unmanic/unmanicd/pkg/log"
	"github.com/unmanic/unmanicd/pkg/task"
	"github.com/unmanic/unmanicd/pkg/workerauth"
)

// WakeInterval is how often the monitor runs a reap pass, spec.md §4.I.
const WakeInterval = 60 * time.Second

// StaleAfter is how long a worker may go without a heartbeat before it is
// marked inactive, spec.md §4.I.
const StaleAfter = 300 * time.Second

// TaskTimeout is how long an in_progress task may run before it is
// reclaimed regardless of its worker's liveness, spec.md §4.I.
const TaskTimeout = 1800 * time.Second

// reaper is the subset of workerauth.Manager the monitor needs.
type reaper interface {
	ReapStale(timeout time.Duration) []string
	Get(workerID string) (*workerauth.WorkerInfo, bool)
}

// queue is the subset of taskqueue.Interface the monitor needs.
type queue interface {
	ListInProgress(ctx context.Context, limit int) ([]*task.Task, error)
	RequeueAtBottom(ctx context.Context, taskID int64) (bool, error)
}

// listLimit bounds how many in_progress tasks a single pass inspects;
// there's no pagination in taskqueue.Interface, so this mirrors the other
// unbounded-ish list calls elsewhere in the repo.
const listLimit = 10000

// Monitor runs the spec.md §4.I reap loop.
type Monitor struct {
	auth  reaper
	queue queue

	stopCh chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New constructs a Monitor. auth and q are shared with the rest of the
// process (the same workerauth.Manager and taskqueue.Interface the API
// server and Foreman use).
func New(auth reaper, q queue) *Monitor {
	return &Monitor{
		auth:   auth,
		queue:  q,
		stopCh: make(chan struct{}),
		logger: log.WithComponent("distworker.monitor"),
	}
}

// Start begins the reap loop in its own goroutine.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop signals the reap loop to exit without waiting for it.
func (m *Monitor) Stop() { close(m.stopCh) }

// Wait blocks until the reap loop has exited.
func (m *Monitor) Wait() { m.wg.Wait() }

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(WakeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.pass(ctx)
		}
	}
}

// pass implements the two steps of spec.md §4.I: reap stale workers, then
// reclaim any in_progress task left behind by one of them or that has run
// past TaskTimeout regardless of its worker's liveness.
func (m *Monitor) pass(ctx context.Context) {
	reaped := m.auth.ReapStale(StaleAfter)
	reapedSet := make(map[string]bool, len(reaped))
	for _, id := range reaped {
		reapedSet[id] = true
	}
	if len(reaped) > 0 {
		m.logger.Info().Strs("worker_ids", reaped).Msg("reaped stale workers")
	}

	inProgress, err := m.queue.ListInProgress(ctx, listLimit)
	if err != nil {
		m.logger.Error().Err(err).Msg("list in_progress failed")
		return
	}

	now := time.Now()
	for _, t := range inProgress {
		timedOut := !t.StartTime.IsZero() && now.Sub(t.StartTime) > TaskTimeout
		newlyInactive := reapedSet[t.ProcessedByWorker]
		orphaned := t.ProcessedByWorker != "" && !newlyInactive && !timedOut && m.workerGone(t.ProcessedByWorker)
		if !timedOut && !newlyInactive && !orphaned {
			continue
		}
		if _, err := m.queue.RequeueAtBottom(ctx, t.ID); err != nil {
			m.logger.Error().Err(err).Int64("task_id", t.ID).Msg("requeue stale task failed")
			continue
		}
		m.logger.Warn().Int64("task_id", t.ID).Str("worker_id", t.ProcessedByWorker).
			Bool("timed_out", timedOut).Msg("reclaimed in_progress task")
	}
}

// workerGone reports whether workerID is unregistered or was already
// inactive before this pass, so a task assigned to a worker that
// disappeared (rather than just went newly stale) is still reclaimed.
func (m *Monitor) workerGone(workerID string) bool {
	w, ok := m.auth.Get(workerID)
	return !ok || !w.Active
}

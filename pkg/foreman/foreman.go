// Package foreman is the central scheduler of spec.md §4.E: a single
// dedicated thread running a ~2s tick loop that composes the task
// queue, worker groups, library config, and GPU allocator, matches
// pending tasks to idle workers (local first, then remote), enforces
// pause/resume and scheduled workload policy, and detects configuration
// drift. The loop itself is a plain time.NewTicker plus a select on a
// stop channel, reconciling worker-group config into live worker
// threads and dispatching tasks on every tick.
package foreman

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/unmanic/unmanicd/pkg/gpu"
	"github.com/unmanic/unmanicd/pkg/health"
	"github.com/unmanic/unmanicd/pkg/library"
	"github.com/unmanic/unmanicd/pkg/log"
	"github.com/unmanic/unmanicd/pkg/pushmsg"
	"github.com/unmanic/unmanicd/pkg/task"
	"github.com/unmanic/unmanicd/pkg/taskqueue"
	"github.com/unmanic/unmanicd/pkg/worker"
	"github.com/unmanic/unmanicd/pkg/workergroup"
)

// TickInterval is the Foreman's per-iteration wait, spec.md §5 "Foreman
// waits up to 2s between ticks on a shared cancel event".
const TickInterval = 2 * time.Second

// linkHeartbeatInterval is the minimum cadence of step 6, spec.md §4.E.6.
const linkHeartbeatInterval = 10 * time.Second

// RemoteCoordinator is the Links/Remote-Task-Manager subsystem the
// Foreman consults in steps 6 and 8. pkg/remotetask implements it; a nil
// RemoteCoordinator disables remote dispatch entirely (single-
// installation deployments).
type RemoteCoordinator interface {
	// Heartbeat reaps dead managers and refreshes the available-peers
	// index (spec.md §4.E.6).
	Heartbeat()
	// AvailableForLibrary returns a peer address advertising free slots
	// for libraryName, or ok=false if none do.
	AvailableForLibrary(libraryName string) (peer string, ok bool)
	// Dispatch spawns a Remote-Task-Manager thread for t against peer.
	// An error means dispatch never started.
	Dispatch(ctx context.Context, t *task.Task, peer string) error
	// AvailableSlots is the sum of free slots advertised by known peers.
	AvailableSlots() int
	// ActiveManagers is the count of currently running Remote-Task-
	// Manager threads.
	ActiveManagers() int
}

// MetricsSink receives per-worker state on every tick (spec.md §4.E.3).
// A nil sink disables step 3 entirely.
type MetricsSink interface {
	RecordWorkerStatus(groupID, workerID string, idle, paused bool)
}

// libraryLookup is the subset of library.Store the Foreman needs,
// narrowed so tests can fake it without a bbolt file.
type libraryLookup interface {
	List() ([]*library.Library, error)
	Get(id int64) (*library.Library, error)
}

// groupLookup is the subset of workergroup.Store the Foreman needs.
type groupLookup interface {
	GetAllWorkerGroups(legacyWorkerCount int, clearLegacy func() error) ([]*workergroup.Group, error)
	SetWorkerCount(id string, count int) error
}

// Foreman is the scheduler thread.
type Foreman struct {
	queue     taskqueue.Interface
	groups    groupLookup
	libraries libraryLookup
	gpuMgr    *gpu.Manager
	pushBus   *pushmsg.Bus
	remote    RemoteCoordinator
	metrics   MetricsSink

	pipeline  worker.Pipeline
	preCheck  *health.IntegrityChecker
	postCheck *health.IntegrityChecker
	failOnPreCheckCorruption bool

	legacyWorkerCount int
	clearLegacyCount  func() error

	completeCh chan *task.Task

	mu              sync.Mutex
	workers         map[string]*worker.Worker
	workerCancel    map[string]context.CancelFunc
	groupOf         map[string]string // worker id -> group id, for metrics after reconcile removes it
	pausedByDrift   map[string]bool   // worker ids paused by step 4, to resume exactly those
	validationOK    bool
	configHashSeen  bool
	lastConfigHash  string
	lastScheduleRun string
	lastLinkBeat    time.Time

	extraValidator Validator

	abortFlag bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
	logger    zerolog.Logger
}

// Option configures optional Foreman collaborators.
type Option func(*Foreman)

func WithRemoteCoordinator(r RemoteCoordinator) Option { return func(f *Foreman) { f.remote = r } }

// WithCompleteChan overrides the channel step 1 drains, so a
// RemoteCoordinator constructed before the Foreman (it needs the channel
// in its own constructor) can publish onto the one this Foreman actually
// reads from.
func WithCompleteChan(ch chan *task.Task) Option { return func(f *Foreman) { f.completeCh = ch } }
func WithMetricsSink(m MetricsSink) Option             { return func(f *Foreman) { f.metrics = m } }
func WithPreCheck(c *health.IntegrityChecker, failFast bool) Option {
	return func(f *Foreman) { f.preCheck = c; f.failOnPreCheckCorruption = failFast }
}
func WithPostCheck(c *health.IntegrityChecker) Option {
	return func(f *Foreman) { f.postCheck = c }
}
func WithLegacyWorkerCount(n int, clear func() error) Option {
	return func(f *Foreman) { f.legacyWorkerCount = n; f.clearLegacyCount = clear }
}
func WithValidator(v Validator) Option { return func(f *Foreman) { f.extraValidator = v } }

// New constructs a Foreman. pipeline is shared by every local worker this
// Foreman spawns.
func New(queue taskqueue.Interface, groups groupLookup, libraries libraryLookup, gpuMgr *gpu.Manager, pushBus *pushmsg.Bus, pipeline worker.Pipeline, opts ...Option) *Foreman {
	f := &Foreman{
		queue:         queue,
		groups:        groups,
		libraries:     libraries,
		gpuMgr:        gpuMgr,
		pushBus:       pushBus,
		pipeline:      pipeline,
		completeCh:    make(chan *task.Task, 64),
		workers:       make(map[string]*worker.Worker),
		workerCancel:  make(map[string]context.CancelFunc),
		groupOf:       make(map[string]string),
		pausedByDrift: make(map[string]bool),
		stopCh:        make(chan struct{}),
		logger:        log.WithComponent("foreman"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CompleteChan exposes the channel local workers (and, once wired with
// WithRemoteCoordinator, the Links subsystem's Remote-Task-Managers)
// publish finished tasks onto for step 1 of the tick to drain. Callers
// that construct a RemoteCoordinator before the Foreman itself need this
// to share the same channel.
func (f *Foreman) CompleteChan() chan *task.Task { return f.completeCh }

// Start begins the tick loop in its own goroutine.
func (f *Foreman) Start(ctx context.Context) {
	f.wg.Add(1)
	go f.run(ctx)
}

// Stop implements spec.md §5 Cancellation: sets abort_flag, marks every
// local worker redundant, returns without joining. Remote-Task-Manager
// goroutines already dispatched are not signalled and run to completion.
func (f *Foreman) Stop() {
	f.mu.Lock()
	f.abortFlag = true
	for _, w := range f.workers {
		w.MarkRedundant()
	}
	f.mu.Unlock()
	close(f.stopCh)
}

// Wait blocks until the tick loop has exited (for tests and graceful
// shutdown paths that do want to join).
func (f *Foreman) Wait() { f.wg.Wait() }

func (f *Foreman) run(ctx context.Context) {
	defer f.wg.Done()
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.tick(ctx)
		}
	}
}

// tick runs the nine-step responsibilities of spec.md §4.E in order.
func (f *Foreman) tick(ctx context.Context) {
	f.drainComplete(ctx)
	f.reconcileWorkers(ctx)
	f.recordMetrics()
	f.validateConfig()
	f.runScheduleEvents()
	f.linkHeartbeat()
	f.dispatchAndMatch(ctx)
}

// drainComplete implements step 1: best-effort non-blocking drain,
// in_progress -> processed per drained task.
func (f *Foreman) drainComplete(ctx context.Context) {
	for {
		select {
		case t := <-f.completeCh:
			t.Status = task.StatusProcessed
			t.FinishTime = time.Now()
			if err := f.queue.MarkProcessed(ctx, t); err != nil {
				f.logger.Error().Err(err).Int64("task_id", t.ID).Msg("mark processed failed")
			}
		default:
			return
		}
	}
}

package foreman

import (
	"context"
	"fmt"

	"github.com/unmanic/unmanicd/pkg/worker"
)

// reconcileWorkers implements step 2: for each configured group, ensure
// number_of_workers threads exist with ids "<group>-<0..n-1>". A count
// decrease or a vanished group marks only IDLE workers redundant - a
// busy worker finishes its current task first. Dead (exited) threads are
// dropped from the index.
func (f *Foreman) reconcileWorkers(ctx context.Context) {
	groups, err := f.groups.GetAllWorkerGroups(f.legacyWorkerCount, f.clearLegacyCount)
	if err != nil {
		f.logger.Error().Err(err).Msg("list worker groups failed")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	wanted := make(map[string]bool)
	for _, g := range groups {
		for i := 0; i < g.NumberOfWorkers; i++ {
			id := fmt.Sprintf("%s-%d", g.ID, i)
			wanted[id] = true
			if _, exists := f.workers[id]; exists {
				continue
			}
			f.spawnWorkerLocked(ctx, id, g.ID)
		}
	}

	for id, w := range f.workers {
		if wanted[id] {
			continue
		}
		if w.Idle() {
			w.MarkRedundant()
		}
	}
}

// spawnWorkerLocked must be called with f.mu held.
func (f *Foreman) spawnWorkerLocked(ctx context.Context, id, groupID string) {
	var opts []worker.Option
	if f.preCheck != nil {
		opts = append(opts, worker.WithPreCheck(f.preCheck, f.failOnPreCheckCorruption))
	}
	if f.postCheck != nil {
		opts = append(opts, worker.WithPostCheck(f.postCheck))
	}

	w := worker.New(id, id, groupID, f.completeCh, f.gpuMgr, f.pipeline, opts...)
	wctx, cancel := context.WithCancel(ctx)
	f.workers[id] = w
	f.workerCancel[id] = cancel
	f.groupOf[id] = groupID

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		w.Run(wctx)
		f.mu.Lock()
		delete(f.workers, id)
		delete(f.workerCancel, id)
		delete(f.groupOf, id)
		delete(f.pausedByDrift, id)
		f.mu.Unlock()
		cancel()
	}()
}

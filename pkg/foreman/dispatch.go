package foreman

import (
	"context"

	"github.com/unmanic/unmanicd/pkg/pluginhost"
	"github.com/unmanic/unmanicd/pkg/pushmsg"
	"github.com/unmanic/unmanicd/pkg/task"
	"github.com/unmanic/unmanicd/pkg/taskqueue"
)

// processedCountLimit bounds the ListProcessed call step 7 uses to size
// the post-processor queue; the processed set is expected to stay small
// (the post-processor drains it continuously), so one unbounded-ish scan
// per tick is cheap.
const processedCountLimit = 1 << 20

// dispatchAndMatch implements steps 7, 8, and 9 of spec.md §4.E.
func (f *Foreman) dispatchAndMatch(ctx context.Context) {
	pendingEmpty, err := f.queue.PendingEmpty(ctx)
	if err != nil {
		f.logger.Error().Err(err).Msg("check pending empty failed")
		return
	}
	if pendingEmpty {
		return
	}

	idleWorkers, totalWorkers := f.idleWorkerSnapshot()

	availableRemoteSlots, activeRemoteManagers := 0, 0
	if f.remote != nil {
		availableRemoteSlots = f.remote.AvailableSlots()
		activeRemoteManagers = f.remote.ActiveManagers()
	}

	if len(idleWorkers) == 0 && availableRemoteSlots == 0 {
		return
	}

	processed, err := f.queue.ListProcessed(ctx, processedCountLimit)
	if err != nil {
		f.logger.Error().Err(err).Msg("list processed failed")
		return
	}
	threshold := totalWorkers + 1 + availableRemoteSlots + activeRemoteManagers
	if len(processed) > threshold {
		if f.pushBus != nil {
			_ = f.pushBus.Add(pushmsg.Message{
				ID:      pushmsg.IDPendingTaskHaltedPostProcessorQueueFull,
				Type:    pushmsg.TypeWarning,
				Code:    "post_processor_queue_full",
				Message: "dispatch halted: post-processor queue is full",
				Timeout: 0,
			})
		}
		return
	}
	if f.pushBus != nil {
		f.pushBus.Remove(pushmsg.IDPendingTaskHaltedPostProcessorQueueFull)
	}

	if f.matchLocal(ctx, idleWorkers) {
		return
	}
	f.matchRemote(ctx)
}

type idleWorker struct {
	id      string
	groupID string
	tags    []string
}

// idleWorkerSnapshot returns every idle, unpaused, non-redundant worker
// paired with its group's tag filter, plus the total worker count.
func (f *Foreman) idleWorkerSnapshot() ([]idleWorker, int) {
	groups, err := f.groups.GetAllWorkerGroups(f.legacyWorkerCount, f.clearLegacyCount)
	if err != nil {
		f.logger.Error().Err(err).Msg("list worker groups for dispatch failed")
	}
	tagsByGroup := make(map[string][]string, len(groups))
	for _, g := range groups {
		tagsByGroup[g.ID] = g.Tags
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	total := len(f.workers)
	var idle []idleWorker
	for id, w := range f.workers {
		if w.Redundant() || w.Paused() || !w.Idle() {
			continue
		}
		idle = append(idle, idleWorker{id: id, groupID: f.groupOf[id], tags: tagsByGroup[f.groupOf[id]]})
	}
	return idle, total
}

// matchLocal implements step 8's local-preferred branch: try idle
// workers in turn until one gets a matching task. Returns true if a task
// was dispatched.
func (f *Foreman) matchLocal(ctx context.Context, idle []idleWorker) bool {
	for _, iw := range idle {
		filter := taskqueue.Filter{}
		if iw.tags != nil {
			filter = filter.WithTags(iw.tags)
		}
		t, err := f.queue.GetNextPending(ctx, filter)
		if err != nil {
			f.logger.Error().Err(err).Str("worker_id", iw.id).Msg("get next pending failed")
			continue
		}
		if t == nil {
			continue
		}

		f.mu.Lock()
		w, ok := f.workers[iw.id]
		f.mu.Unlock()
		if !ok {
			_, _ = f.queue.RequeueAtBottom(ctx, t.ID)
			continue
		}

		select {
		case w.HandoffSlot <- t:
			if t.Type == task.TypeLocal {
				f.emitTaskScheduled(ctx, t, "local")
			}
			return true
		default:
			_, _ = f.queue.RequeueAtBottom(ctx, t.ID)
		}
	}
	return false
}

// matchRemote implements step 8's remote fallback: ask the queue for the
// next pending task whose library is advertised by some available
// remote peer, and hand it to a freshly spawned Remote-Task-Manager. A
// dispatch that fails to even start is requeued at the bottom.
func (f *Foreman) matchRemote(ctx context.Context) {
	if f.remote == nil {
		return
	}

	var names []string
	if libs, err := f.libraries.List(); err == nil {
		for _, l := range libs {
			if _, ok := f.remote.AvailableForLibrary(l.GetName()); ok {
				names = append(names, l.GetName())
			}
		}
	}
	if len(names) == 0 {
		return
	}

	t, err := f.queue.GetNextPending(ctx, taskqueue.Filter{LibraryNames: names})
	if err != nil {
		f.logger.Error().Err(err).Msg("get next pending for remote dispatch failed")
		return
	}
	if t == nil {
		return
	}

	libraryName := f.libraryName(t.LibraryID)
	peer, ok := f.remote.AvailableForLibrary(libraryName)
	if !ok {
		_, _ = f.queue.RequeueAtBottom(ctx, t.ID)
		return
	}

	if err := f.remote.Dispatch(ctx, t, peer); err != nil {
		f.logger.Error().Err(err).Int64("task_id", t.ID).Str("peer", peer).Msg("remote dispatch failed to start")
		_, _ = f.queue.RequeueAtBottom(ctx, t.ID)
		return
	}
}

func (f *Foreman) libraryName(libraryID int64) string {
	l, err := f.libraries.Get(libraryID)
	if err != nil {
		return ""
	}
	return l.GetName()
}

// emitTaskScheduled implements step 9: invoke events.task_scheduled
// exactly once at dispatch.
func (f *Foreman) emitTaskScheduled(ctx context.Context, t *task.Task, scheduleType string) {
	payload := pluginhost.HookPayload{
		"library_id":         t.LibraryID,
		"task_id":            t.ID,
		"task_type":          string(t.Type),
		"task_schedule_type": scheduleType,
		"source_data":        t.Abspath,
	}
	if err := pluginhost.RunPluginsForType(ctx, "events.task_scheduled", payload); err != nil {
		f.logger.Error().Err(err).Int64("task_id", t.ID).Msg("events.task_scheduled hook failed")
	}
}

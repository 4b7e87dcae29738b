// Package postprocessor implements the single dedicated thread of
// spec.md §4.F: it drains `processed` tasks from the task queue, moves
// the transcoded cache artifact to its final destination in up to three
// attempts, backing off 2 s and then 4 s after a failure, and writes exactly one
// history record per task before transitioning it to `complete` (which
// purges scratch state) or deleting it on terminal failure. Runs as a
// single ticker loop with an interruptible sleep whose duration depends
// on the current task's retry count rather than a fixed tick.
package postprocessor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/unmanic/unmanicd/pkg/library"
	"github.com/unmanic/unmanicd/pkg/log"
	"github.com/unmanic/unmanicd/pkg/pluginhost"
	"github.com/unmanic/unmanicd/pkg/task"
	"github.com/unmanic/unmanicd/pkg/taskqueue"
)

// MaxRetries bounds the move-retry loop (spec.md §4.F step 3): the first
// and second failures back off 2s and 4s, the third is a terminal failure.
const MaxRetries = 3

// pollInterval is how often the post-processor asks the queue for the
// next processed task when its own retry timers aren't pending one.
const pollInterval = 1 * time.Second

// HistoryRecord is the external history sink's write shape, spec.md §3.7.
type HistoryRecord struct {
	TaskLabel         string
	Abspath           string
	TaskSuccess       bool
	StartTime         time.Time
	FinishTime        time.Time
	ProcessedByWorker string
	Errors            []string
	Log               string
}

// HistorySink persists exactly one HistoryRecord per task's terminal
// outcome (success or terminal failure).
type HistorySink interface {
	SaveTaskHistory(record HistoryRecord) error
}

// Scratch is the subset of task.ScratchStore the post-processor needs:
// purge on the complete transition (spec.md §4.F step 5).
type Scratch interface {
	Purge(taskID int64)
}

// PostProcessor is the single post-processing thread.
type PostProcessor struct {
	queue   taskqueue.Interface
	history HistorySink
	scratch Scratch

	mu      sync.Mutex
	retries map[string]int // source_abspath -> retry count

	stopCh chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New constructs a PostProcessor.
func New(queue taskqueue.Interface, history HistorySink, scratch Scratch) *PostProcessor {
	return &PostProcessor{
		queue:   queue,
		history: history,
		scratch: scratch,
		retries: make(map[string]int),
		stopCh:  make(chan struct{}),
		logger:  log.WithComponent("postprocessor"),
	}
}

// Start begins the post-processing loop in its own goroutine.
func (p *PostProcessor) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop signals the loop to exit after its current task, if any.
func (p *PostProcessor) Stop() { close(p.stopCh) }

// Wait blocks until the loop has exited.
func (p *PostProcessor) Wait() { p.wg.Wait() }

func (p *PostProcessor) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		t, err := p.queue.GetNextProcessed(ctx)
		if err != nil {
			p.logger.Error().Err(err).Msg("get next processed failed")
			p.interruptibleSleep(ctx, pollInterval)
			continue
		}
		if t == nil {
			p.interruptibleSleep(ctx, pollInterval)
			continue
		}

		p.processOne(ctx, t)
	}
}

// interruptibleSleep waits for d, or returns early on ctx.Done/stopCh -
// spec.md §5 "Post-Processor sleeps 2^retry_count seconds on failure, on
// an interruptible event".
func (p *PostProcessor) interruptibleSleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	case <-p.stopCh:
	}
}

// processOne implements the five steps of spec.md §4.F for one task.
func (p *PostProcessor) processOne(ctx context.Context, t *task.Task) {
	destination := destinationPath(t.Abspath, t.CachePath)

	if _, err := os.Stat(t.CachePath); errors.Is(err, os.ErrNotExist) {
		// Step 1: missing cache fails immediately, forcing a terminal
		// failure without ever entering the retry/backoff loop.
		p.setRetryCount(t.Abspath, MaxRetries)
		p.finishFailed(ctx, t, "cache file missing: "+t.CachePath)
		return
	}

	if err := moveFile(t.CachePath, destination); err != nil {
		p.onMoveFailure(ctx, t, err)
		return
	}

	p.recordRename(t.Abspath, destination)
	p.onMoveSuccess(ctx, t, destination)
}

func (p *PostProcessor) onMoveFailure(ctx context.Context, t *task.Task, moveErr error) {
	count := p.incrementRetryCount(t.Abspath)
	if count < MaxRetries {
		backoff := time.Duration(1<<uint(count)) * time.Second // 2s, 4s
		p.logger.Warn().Err(moveErr).Int64("task_id", t.ID).Int("retry", count).Msg("move failed, backing off")
		p.interruptibleSleep(ctx, backoff)
		if _, err := p.queue.RequeueAtBottom(ctx, t.ID); err != nil {
			p.logger.Error().Err(err).Int64("task_id", t.ID).Msg("requeue at bottom failed")
		}
		return
	}
	p.finishFailed(ctx, t, moveErr.Error())
}

// finishFailed implements steps 1/4's terminal path: write exactly one
// history record, delete the task, drop the retry counter.
func (p *PostProcessor) finishFailed(ctx context.Context, t *task.Task, reason string) {
	p.clearRetryCount(t.Abspath)

	if p.history != nil {
		if err := p.history.SaveTaskHistory(HistoryRecord{
			TaskLabel:         filepath.Base(t.Abspath),
			Abspath:           t.Abspath,
			TaskSuccess:       false,
			StartTime:         t.StartTime,
			FinishTime:        time.Now(),
			ProcessedByWorker: t.ProcessedByWorker,
			Errors:            []string{reason},
			Log:               t.Log,
		}); err != nil {
			p.logger.Error().Err(err).Int64("task_id", t.ID).Msg("save task history failed")
		}
	}

	if err := p.queue.Delete(ctx, t.ID); err != nil {
		// Deletion is opportunistic per spec.md §6.1: logged, non-fatal.
		p.logger.Warn().Err(err).Int64("task_id", t.ID).Msg("delete failed task record failed")
	}
}

// onMoveSuccess implements step 5.
func (p *PostProcessor) onMoveSuccess(ctx context.Context, t *task.Task, destination string) {
	p.clearRetryCount(t.Abspath)

	if err := pluginhost.RunPluginsForType(ctx, "events.post_process", pluginhost.HookPayload{
		"library_id": t.LibraryID,
		"task_id":    t.ID,
		"destination": destination,
	}); err != nil {
		p.logger.Error().Err(err).Int64("task_id", t.ID).Msg("events.post_process hook failed")
	}

	if p.history != nil {
		if err := p.history.SaveTaskHistory(HistoryRecord{
			TaskLabel:         filepath.Base(t.Abspath),
			Abspath:           t.Abspath,
			TaskSuccess:       true,
			StartTime:         t.StartTime,
			FinishTime:        time.Now(),
			ProcessedByWorker: t.ProcessedByWorker,
			Log:               t.Log,
		}); err != nil {
			p.logger.Error().Err(err).Int64("task_id", t.ID).Msg("save task history failed")
		}
	}

	t.Status = task.StatusComplete
	t.FinishTime = time.Now()
	if err := p.queue.MarkComplete(ctx, t); err != nil {
		p.logger.Error().Err(err).Int64("task_id", t.ID).Msg("mark complete failed")
	}
	if p.scratch != nil {
		p.scratch.Purge(t.ID)
	}
}

func (p *PostProcessor) incrementRetryCount(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries[key]++
	return p.retries[key]
}

func (p *PostProcessor) setRetryCount(key string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries[key] = n
}

func (p *PostProcessor) clearRetryCount(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.retries, key)
}

// recordRename appends an entry to the destination's rename-chain file
// (spec.md §6.3) whenever a successful move changed the file's basename,
// so a later lookup can trace the renamed file back to the name it had
// before this task's transcode ever ran.
func (p *PostProcessor) recordRename(sourceAbspath, destination string) {
	originalName := filepath.Base(sourceAbspath)
	newName := filepath.Base(destination)
	if originalName == newName {
		return
	}
	infoPath := library.InfoFilePath(filepath.Dir(destination), newName)
	if err := library.AppendRename(infoPath, newName, originalName); err != nil {
		p.logger.Warn().Err(err).Str("info_path", infoPath).Msg("append rename chain failed")
	}
}

// destinationPath derives the final artifact path: source directory,
// source base name, cache-path extension (spec.md §4.F step 2).
func destinationPath(sourceAbspath, cachePath string) string {
	dir := filepath.Dir(sourceAbspath)
	base := filepath.Base(sourceAbspath)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	return filepath.Join(dir, stem+filepath.Ext(cachePath))
}

// moveFile renames src to dst, falling back to copy-then-remove when the
// rename fails across filesystems (the common os.Rename EXDEV case) - no
// third-party file-copy library appears anywhere in the example pack, so
// this stays on the standard library per DESIGN.md.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("postprocessor: create destination dir: %w", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("postprocessor: open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("postprocessor: create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("postprocessor: copy: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("postprocessor: close destination: %w", err)
	}
	return os.Remove(src)
}

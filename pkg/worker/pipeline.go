package worker

import (
	"context"
	"fmt"

	"github.com/unmanic/unmanicd/pkg/pluginhost"
	"github.com/unmanic/unmanicd/pkg/task"
)

// LibraryLookup resolves the ordered plugin flow and per-plugin settings
// a task's library has configured, without worker depending on
// pkg/library directly (that package's bbolt Store has no business being
// imported by the per-task execution path).
type LibraryLookup interface {
	PluginFlow(libraryID int64) ([]string, error)
	PluginSettings(libraryID int64, pluginName string) map[string]any
}

// PluginPipeline is the default Pipeline: it resolves a task's library's
// plugin flow, in order, and invokes each registered Runner in turn
// against the task's cache path, failing the task at the first stage
// that returns success=false or errors. Scratch, if non-nil, binds a
// RunnerContext per stage so a Runner implementation can retrieve it via
// task.RunnerFromContext to stash write-once plugin state.
type PluginPipeline struct {
	Libraries LibraryLookup
	Scratch   *task.ScratchStore
}

// NewPluginPipeline builds a Pipeline backed by the given library flow
// resolver. scratch may be nil if no plugin in this installation uses
// the scratch store.
func NewPluginPipeline(libraries LibraryLookup, scratch *task.ScratchStore) *PluginPipeline {
	return &PluginPipeline{Libraries: libraries, Scratch: scratch}
}

// Run implements Pipeline.
func (p *PluginPipeline) Run(ctx context.Context, t *task.Task, onStats func(SubprocessStats)) error {
	flow, err := p.Libraries.PluginFlow(t.LibraryID)
	if err != nil {
		return fmt.Errorf("worker: resolve plugin flow for library %d: %w", t.LibraryID, err)
	}

	inputPath := t.Abspath
	for _, name := range flow {
		factory, err := pluginhost.GetRunnerFactory(name)
		if err != nil {
			return fmt.Errorf("worker: task %d stage %q: %w", t.ID, name, err)
		}
		runner := factory()
		settings := p.Libraries.PluginSettings(t.LibraryID, name)

		if onStats != nil {
			onStats(SubprocessStats{})
		}

		stageCtx := task.WithBoundRunner(ctx, p.Scratch, task.RunnerContext{TaskID: t.ID, PluginID: name, RunnerName: name})
		result, err := runner.Run(stageCtx, inputPath, t.CachePath, settings)
		if err != nil {
			return fmt.Errorf("worker: task %d stage %q: %w", t.ID, name, err)
		}
		if !result.Success {
			return fmt.Errorf("worker: task %d stage %q reported failure: %s", t.ID, name, result.Message)
		}
		// Every successive stage reads the previous stage's output.
		inputPath = t.CachePath
	}
	return nil
}

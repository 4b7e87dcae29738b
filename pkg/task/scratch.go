package task

import (
	"encoding/json"
	"sync"

	"github.com/unmanic/unmanicd/pkg/orcherr"
)

// RunnerContext identifies the plugin callback currently allowed to write
// runner state. Go has no goroutine-local storage, so instead of the
// ambient thread-local the original design describes, callers thread this
// value through explicitly (see WithRunnerContext) - the same "prefer
// explicit context over ambient state" call the design notes make for this
// exact API.
type RunnerContext struct {
	TaskID     int64
	PluginID   string
	RunnerName string
}

// ScratchStore is the process-wide, concurrency-safe per-task scratch data
// store. It has two tiers: an immutable, write-once runner tier and a
// free-form overwritable task tier. Both are purged on task deletion or on
// transition to "complete".
type ScratchStore struct {
	mu     sync.RWMutex
	runner map[int64]map[string]map[string]map[string]any // task -> plugin -> runner -> key -> value
	task   map[int64]map[string]any                       // task -> key -> value
}

// NewScratchStore constructs an empty store.
func NewScratchStore() *ScratchStore {
	return &ScratchStore{
		runner: make(map[int64]map[string]map[string]map[string]any),
		task:   make(map[int64]map[string]any),
	}
}

// WithRunnerContext binds rc for the duration of fn, giving fn access to
// SetRunnerValue for that task/plugin/runner triple through the
// BoundRunner it passes to fn. This keeps the ergonomic call shape plugin
// code expects ("just call SetRunnerValue") without resorting to a
// goroutine-local.
func (s *ScratchStore) WithRunnerContext(rc RunnerContext, fn func(*BoundRunner)) {
	fn(&BoundRunner{store: s, ctx: rc})
}

// BoundRunner is the write handle handed to a plugin callback once a
// RunnerContext has been bound.
type BoundRunner struct {
	store *ScratchStore
	ctx   RunnerContext
}

// SetRunnerValue write-once-inserts key=value under the bound task/plugin/
// runner triple. Returns false without mutating if the key already exists.
func (b *BoundRunner) SetRunnerValue(key string, value any) (bool, error) {
	return b.store.setRunnerValue(b.ctx, key, value)
}

// GetRunnerValue reads a previously-written runner value.
func (b *BoundRunner) GetRunnerValue(key string) (any, bool) {
	return b.store.getRunnerValue(b.ctx, key)
}

func (s *ScratchStore) setRunnerValue(rc RunnerContext, key string, value any) (bool, error) {
	if rc.TaskID == 0 && rc.PluginID == "" && rc.RunnerName == "" {
		return false, orcherr.New(orcherr.KindUserConfig, "context not bound", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	plugins, ok := s.runner[rc.TaskID]
	if !ok {
		plugins = make(map[string]map[string]map[string]any)
		s.runner[rc.TaskID] = plugins
	}
	runners, ok := plugins[rc.PluginID]
	if !ok {
		runners = make(map[string]map[string]any)
		plugins[rc.PluginID] = runners
	}
	values, ok := runners[rc.RunnerName]
	if !ok {
		values = make(map[string]any)
		runners[rc.RunnerName] = values
	}

	if _, exists := values[key]; exists {
		return false, nil
	}
	values[key] = value
	return true, nil
}

func (s *ScratchStore) getRunnerValue(rc RunnerContext, key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values, ok := s.runner[rc.TaskID][rc.PluginID][rc.RunnerName]
	if !ok {
		return nil, false
	}
	v, ok := values[key]
	return v, ok
}

// SetTaskValue overwrites key=value in the free-form mutable tier.
func (s *ScratchStore) SetTaskValue(taskID int64, key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, ok := s.task[taskID]
	if !ok {
		values = make(map[string]any)
		s.task[taskID] = values
	}
	values[key] = value
}

// GetTaskValue reads a value from the mutable tier.
func (s *ScratchStore) GetTaskValue(taskID int64, key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.task[taskID][key]
	return v, ok
}

// ExportTaskState serializes the mutable tier for taskID to JSON, so a
// remote installation can carry scratch state across the wire alongside a
// dispatched task.
func (s *ScratchStore) ExportTaskState(taskID int64) ([]byte, error) {
	s.mu.RLock()
	values := s.task[taskID]
	s.mu.RUnlock()

	if values == nil {
		values = map[string]any{}
	}
	return json.Marshal(values)
}

// ImportTaskState replaces the mutable tier for taskID with the contents of
// data, which must be the output of a prior ExportTaskState call (possibly
// from a different task id - re-importing onto a fresh id is how a remote
// installation hands scratch state back for a returned task).
func (s *ScratchStore) ImportTaskState(taskID int64, data []byte) error {
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return orcherr.New(orcherr.KindUserConfig, "invalid scratch state JSON", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.task[taskID] = values
	return nil
}

// Purge clears both tiers for taskID. Called on deletion and on transition
// to "complete".
func (s *ScratchStore) Purge(taskID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runner, taskID)
	delete(s.task, taskID)
}

// HasState reports whether either tier still holds an entry for taskID -
// used by tests asserting the complete-purges-scratch invariant.
func (s *ScratchStore) HasState(taskID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, runnerHas := s.runner[taskID]
	_, taskHas := s.task[taskID]
	return runnerHas || taskHas
}

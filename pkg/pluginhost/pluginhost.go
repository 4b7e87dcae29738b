// Package pluginhost is the registry of transcode-pipeline runners and
// event hooks external plugins provide, per spec.md §6.5. It is modeled
// directly on firestige-Otus's pkg/plugin/registry.go: a global,
// panic-on-duplicate-registration factory map populated during an init()
// phase and read-only at runtime, generalized from capturer/parser/
// processor/reporter factories to transcode Runners and event Hooks.
package pluginhost

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// RunnerResult is what a transcode-pipeline plugin runner returns for one
// stage of the pipeline.
type RunnerResult struct {
	Success bool
	Message string
}

// Runner is one named stage of the plugin-driven transcode pipeline
// spec.md §4.C step 4 hands off to. ctx carries the cache path and any
// scratch-store bound runner context the caller has already set up.
type Runner interface {
	Run(ctx context.Context, inputPath, outputPath string, settings map[string]any) (RunnerResult, error)
}

// RunnerFactory builds an empty Runner instance; configuration happens
// after construction, not at registration time.
type RunnerFactory func() Runner

// HookPayload is the argument to a registered event hook, e.g.
// events.task_scheduled's {library_id, task_id, task_type,
// task_schedule_type, source_data}.
type HookPayload map[string]any

// Hook handles one named event, e.g. "events.task_scheduled" or
// "events.post_process".
type Hook func(ctx context.Context, payload HookPayload) error

var (
	mu        sync.RWMutex
	runners   = make(map[string]RunnerFactory)
	hooksByID = make(map[string][]Hook)
)

// RegisterRunner registers a transcode-pipeline runner factory by name.
// Panics on a duplicate name or nil factory - both indicate a compile-time
// wiring bug, not a runtime condition to recover from.
func RegisterRunner(name string, factory RunnerFactory) {
	mu.Lock()
	defer mu.Unlock()
	if name == "" {
		panic("pluginhost: runner name cannot be empty")
	}
	if factory == nil {
		panic("pluginhost: runner factory cannot be nil")
	}
	if _, exists := runners[name]; exists {
		panic(fmt.Sprintf("pluginhost: runner %q already registered", name))
	}
	runners[name] = factory
}

// GetRunnerFactory returns the factory for the named runner, or an error
// wrapping ErrPluginNotFound.
func GetRunnerFactory(name string) (RunnerFactory, error) {
	mu.RLock()
	defer mu.RUnlock()
	factory, ok := runners[name]
	if !ok {
		return nil, fmt.Errorf("runner %q: %w", name, ErrPluginNotFound)
	}
	return factory, nil
}

// ListRunners returns a sorted list of all registered runner names.
func ListRunners() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(runners))
	for name := range runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterHook appends a hook under eventID, e.g. "events.task_scheduled".
// Unlike runners, multiple hooks may share an event id - every plugin
// subscribed to events.post_process runs, in registration order.
func RegisterHook(eventID string, hook Hook) {
	mu.Lock()
	defer mu.Unlock()
	hooksByID[eventID] = append(hooksByID[eventID], hook)
}

// RunPluginsForType invokes every hook registered under eventID with
// payload, in registration order, stopping at the first error.
func RunPluginsForType(ctx context.Context, eventID string, payload HookPayload) error {
	mu.RLock()
	hooks := append([]Hook(nil), hooksByID[eventID]...)
	mu.RUnlock()

	for _, h := range hooks {
		if err := h(ctx, payload); err != nil {
			return err
		}
	}
	return nil
}

// ErrPluginNotFound is returned by GetRunnerFactory for an unregistered
// name.
var ErrPluginNotFound = fmt.Errorf("pluginhost: plugin not found")

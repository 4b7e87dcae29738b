package pluginhost

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopRunner struct{}

func (noopRunner) Run(ctx context.Context, in, out string, settings map[string]any) (RunnerResult, error) {
	return RunnerResult{Success: true}, nil
}

func TestRegisterRunnerAndLookup(t *testing.T) {
	RegisterRunner("test.noop", func() Runner { return noopRunner{} })

	factory, err := GetRunnerFactory("test.noop")
	require.NoError(t, err)
	r := factory()
	res, err := r.Run(context.Background(), "in", "out", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestGetRunnerFactoryUnknownReturnsErrPluginNotFound(t *testing.T) {
	_, err := GetRunnerFactory("nope.does.not.exist")
	assert.True(t, errors.Is(err, ErrPluginNotFound))
}

func TestRegisterRunnerPanicsOnDuplicate(t *testing.T) {
	RegisterRunner("test.dup", func() Runner { return noopRunner{} })
	assert.Panics(t, func() {
		RegisterRunner("test.dup", func() Runner { return noopRunner{} })
	})
}

func TestRunPluginsForTypeInvokesAllHooksInOrder(t *testing.T) {
	var order []int
	RegisterHook("events.test_order", func(ctx context.Context, payload HookPayload) error {
		order = append(order, 1)
		return nil
	})
	RegisterHook("events.test_order", func(ctx context.Context, payload HookPayload) error {
		order = append(order, 2)
		return nil
	})

	require.NoError(t, RunPluginsForType(context.Background(), "events.test_order", HookPayload{"k": "v"}))
	assert.Equal(t, []int{1, 2}, order)
}

func TestRunPluginsForTypeStopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	called := false
	RegisterHook("events.test_stop", func(ctx context.Context, payload HookPayload) error {
		return boom
	})
	RegisterHook("events.test_stop", func(ctx context.Context, payload HookPayload) error {
		called = true
		return nil
	})

	err := RunPluginsForType(context.Background(), "events.test_stop", nil)
	assert.Equal(t, boom, err)
	assert.False(t, called)
}

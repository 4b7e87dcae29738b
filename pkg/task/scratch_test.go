package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetRunnerValueWriteOnce(t *testing.T) {
	s := NewScratchStore()
	rc := RunnerContext{TaskID: 1, PluginID: "p1", RunnerName: "r1"}

	s.WithRunnerContext(rc, func(b *BoundRunner) {
		ok, err := b.SetRunnerValue("k", "v1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = b.SetRunnerValue("k", "v2")
		require.NoError(t, err)
		assert.False(t, ok, "re-writing an existing key must fail")

		v, _ := b.GetRunnerValue("k")
		assert.Equal(t, "v1", v, "value must not have been overwritten")
	})
}

func TestSetRunnerValueRequiresBoundContext(t *testing.T) {
	s := NewScratchStore()
	_, err := s.setRunnerValue(RunnerContext{}, "k", "v")
	assert.Error(t, err)
}

func TestTaskValueOverwrite(t *testing.T) {
	s := NewScratchStore()
	s.SetTaskValue(1, "k", "v1")
	s.SetTaskValue(1, "k", "v2")
	v, ok := s.GetTaskValue(1, "k")
	require.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestPurgeClearsBothTiers(t *testing.T) {
	s := NewScratchStore()
	rc := RunnerContext{TaskID: 1, PluginID: "p", RunnerName: "r"}
	s.WithRunnerContext(rc, func(b *BoundRunner) { _, _ = b.SetRunnerValue("k", "v") })
	s.SetTaskValue(1, "k", "v")

	require.True(t, s.HasState(1))
	s.Purge(1)
	assert.False(t, s.HasState(1))
}

func TestExportImportRoundTrip(t *testing.T) {
	s := NewScratchStore()
	s.SetTaskValue(7, "a", "b")
	s.SetTaskValue(7, "n", float64(3))

	data, err := s.ExportTaskState(7)
	require.NoError(t, err)

	s2 := NewScratchStore()
	require.NoError(t, s2.ImportTaskState(99, data))

	a, ok := s2.GetTaskValue(99, "a")
	require.True(t, ok)
	assert.Equal(t, "b", a)
}

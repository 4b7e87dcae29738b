package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateIsIdempotentPerWorker(t *testing.T) {
	m := NewManager(StrategyRoundRobin, 2)
	m.RegisterDevice(Device{DeviceID: "cuda:0"})

	first, err := m.Allocate("w1", "")
	require.NoError(t, err)

	second, err := m.Allocate("w1", "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRoundRobinCyclesDevices(t *testing.T) {
	m := NewManager(StrategyRoundRobin, 4)
	m.RegisterDevice(Device{DeviceID: "cuda:0"})
	m.RegisterDevice(Device{DeviceID: "cuda:1"})

	d1, err := m.Allocate("w1", "")
	require.NoError(t, err)
	d2, err := m.Allocate("w2", "")
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2)
}

func TestMaxWorkersPerGPUEnforced(t *testing.T) {
	m := NewManager(StrategyRoundRobin, 1)
	m.RegisterDevice(Device{DeviceID: "cuda:0"})

	_, err := m.Allocate("w1", "")
	require.NoError(t, err)

	_, err = m.Allocate("w2", "")
	assert.Error(t, err, "second worker must not fit on a single-slot device")
}

func TestReleaseFreesCapacity(t *testing.T) {
	m := NewManager(StrategyRoundRobin, 1)
	m.RegisterDevice(Device{DeviceID: "cuda:0"})

	_, err := m.Allocate("w1", "")
	require.NoError(t, err)
	m.Release("w1")

	_, err = m.Allocate("w2", "")
	require.NoError(t, err)
}

func TestManualStrategyRequiresDeviceID(t *testing.T) {
	m := NewManager(StrategyManual, 0)
	m.RegisterDevice(Device{DeviceID: "cuda:0"})

	_, err := m.Allocate("w1", "")
	assert.Error(t, err)

	dev, err := m.Allocate("w1", "cuda:0")
	require.NoError(t, err)
	assert.Equal(t, "cuda:0", dev)
}

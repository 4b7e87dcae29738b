// Package gpu is the device registry and allocation manager workers use
// to reserve a transcode accelerator per spec.md §3.5. Its allocation
// map is guarded by a plain mutex and allocation is idempotent per
// worker_id.
package gpu

import (
	"sync"

	"github.com/unmanic/unmanicd/pkg/orcherr"
)

// Strategy picks which device a new allocation lands on.
type Strategy string

const (
	StrategyRoundRobin Strategy = "round_robin"
	StrategyLeastUsed  Strategy = "least_used"
	StrategyManual     Strategy = "manual"
)

// Device is a transcode accelerator, e.g. "cuda:0" or
// "vaapi:/dev/dri/renderD128".
type Device struct {
	DeviceID        string
	Type            string
	HWAccelDevice   string
	CurrentWorkers  int
	TotalAllocations int64
	IsAvailable     bool
}

// Manager tracks devices and the worker_id -> device_id allocation map.
type Manager struct {
	mu                sync.Mutex
	strategy          Strategy
	maxWorkersPerGPU  int
	devices           map[string]*Device
	order             []string // stable iteration order for round-robin
	nextRoundRobin    int
	allocations       map[string]string // worker_id -> device_id
}

// NewManager constructs an empty manager. maxWorkersPerGPU bounds how many
// concurrent workers a single device may serve before IsAvailable is
// considered false for new allocations.
func NewManager(strategy Strategy, maxWorkersPerGPU int) *Manager {
	return &Manager{
		strategy:         strategy,
		maxWorkersPerGPU: maxWorkersPerGPU,
		devices:          make(map[string]*Device),
		allocations:      make(map[string]string),
	}
}

// RegisterDevice adds or replaces a device definition.
func (m *Manager) RegisterDevice(d Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.devices[d.DeviceID]; !exists {
		m.order = append(m.order, d.DeviceID)
	}
	d.IsAvailable = true
	m.devices[d.DeviceID] = &d
}

// Allocate reserves a device for workerID under the configured strategy.
// Re-allocating for an already-allocated worker returns the existing
// mapping rather than picking a new device.
func (m *Manager) Allocate(workerID string, manualDeviceID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.allocations[workerID]; ok {
		return existing, nil
	}

	var deviceID string
	switch m.strategy {
	case StrategyManual:
		if manualDeviceID == "" {
			return "", orcherr.New(orcherr.KindUserConfig, "manual gpu strategy requires a device id", nil)
		}
		dev, ok := m.devices[manualDeviceID]
		if !ok {
			return "", orcherr.New(orcherr.KindResourceMissing, "gpu device not found", nil)
		}
		if !m.hasCapacity(dev) {
			return "", orcherr.New(orcherr.KindDispatchStarvation, "gpu device at capacity", nil)
		}
		deviceID = manualDeviceID
	case StrategyLeastUsed:
		deviceID = m.leastUsedDevice()
	default: // StrategyRoundRobin
		deviceID = m.roundRobinDevice()
	}

	if deviceID == "" {
		return "", orcherr.New(orcherr.KindDispatchStarvation, "no available gpu device", nil)
	}

	dev := m.devices[deviceID]
	dev.CurrentWorkers++
	dev.TotalAllocations++
	dev.IsAvailable = m.hasCapacity(dev)
	m.allocations[workerID] = deviceID
	return deviceID, nil
}

func (m *Manager) hasCapacity(d *Device) bool {
	return m.maxWorkersPerGPU <= 0 || d.CurrentWorkers < m.maxWorkersPerGPU
}

func (m *Manager) roundRobinDevice() string {
	n := len(m.order)
	for i := 0; i < n; i++ {
		idx := (m.nextRoundRobin + i) % n
		id := m.order[idx]
		if m.hasCapacity(m.devices[id]) {
			m.nextRoundRobin = (idx + 1) % n
			return id
		}
	}
	return ""
}

func (m *Manager) leastUsedDevice() string {
	var best string
	bestLoad := -1
	for _, id := range m.order {
		dev := m.devices[id]
		if !m.hasCapacity(dev) {
			continue
		}
		if bestLoad == -1 || dev.CurrentWorkers < bestLoad {
			best = id
			bestLoad = dev.CurrentWorkers
		}
	}
	return best
}

// Release frees workerID's allocation, if any.
func (m *Manager) Release(workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deviceID, ok := m.allocations[workerID]
	if !ok {
		return
	}
	delete(m.allocations, workerID)
	if dev, ok := m.devices[deviceID]; ok {
		if dev.CurrentWorkers > 0 {
			dev.CurrentWorkers--
		}
		dev.IsAvailable = m.hasCapacity(dev)
	}
}

// Devices returns a snapshot of all registered devices.
func (m *Manager) Devices() []Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Device, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.devices[id])
	}
	return out
}

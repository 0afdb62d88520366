package registry

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Memory is an in-process registry backed by a Data snapshot. It serves
// the fixture backend and tests.
type Memory struct {
	mu       sync.RWMutex
	data     Data
	index    map[string]int
	disabled map[Capability]bool
	hook     func(entityID string, upd EntityUpdate) error
}

// NewMemory returns a registry holding a copy of data.
func NewMemory(data Data) *Memory {
	m := &Memory{
		data:     cloneData(data),
		disabled: make(map[Capability]bool),
	}
	m.reindex()
	return m
}

func (m *Memory) reindex() {
	m.index = make(map[string]int, len(m.data.Entities))
	for i, e := range m.data.Entities {
		m.index[e.EntityID] = i
	}
}

// Disable makes the registry report c as unsupported.
func (m *Memory) Disable(c Capability) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled[c] = true
}

// SetUpdateHook installs fn to run before each entity update. A non-nil
// error from fn fails that update.
func (m *Memory) SetUpdateHook(fn func(entityID string, upd EntityUpdate) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = fn
}

// Supports implements CapabilityReporter.
func (m *Memory) Supports(c Capability) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.disabled[c]
}

// ListFloors implements FloorLister.
func (m *Memory) ListFloors(_ context.Context) ([]Floor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.data.Floors), nil
}

// ListAreas implements Source.
func (m *Memory) ListAreas(_ context.Context) ([]Area, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.data.Areas), nil
}

// ListDevices implements Source.
func (m *Memory) ListDevices(_ context.Context) ([]Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.data.Devices), nil
}

// ListEntities implements Source.
func (m *Memory) ListEntities(_ context.Context) ([]Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entity, len(m.data.Entities))
	for i, e := range m.data.Entities {
		out[i] = cloneEntity(e)
	}
	return out, nil
}

// ListEntitiesForDevice implements DeviceEntityLister.
func (m *Memory) ListEntitiesForDevice(_ context.Context, deviceID string) ([]Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entity
	for _, e := range m.data.Entities {
		if Value(e.DeviceID) == deviceID {
			out = append(out, cloneEntity(e))
		}
	}
	return out, nil
}

// ListConfigEntries implements ConfigEntryLister.
func (m *Memory) ListConfigEntries(_ context.Context) ([]ConfigEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.data.ConfigEntries), nil
}

// GetEntity returns a single entity by id.
func (m *Memory) GetEntity(_ context.Context, entityID string) (Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[entityID]
	if !ok {
		return Entity{}, fmt.Errorf("entity %s: %w", entityID, ErrNotFound)
	}
	return cloneEntity(m.data.Entities[i]), nil
}

// UpdateEntity implements EntityUpdater.
func (m *Memory) UpdateEntity(_ context.Context, entityID string, upd EntityUpdate) (Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[entityID]
	if !ok {
		return Entity{}, fmt.Errorf("entity %s: %w", entityID, ErrNotFound)
	}
	if m.hook != nil {
		if err := m.hook(entityID, upd); err != nil {
			return Entity{}, fmt.Errorf("updating entity %s: %w", entityID, err)
		}
	}
	upd.Apply(&m.data.Entities[i])
	return cloneEntity(m.data.Entities[i]), nil
}

// Data returns a copy of the current contents.
func (m *Memory) Data() Data {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneData(m.data)
}

func cloneEntity(e Entity) Entity {
	e.Labels = slices.Clone(e.Labels)
	return e
}

func cloneData(d Data) Data {
	out := Data{
		Floors:        slices.Clone(d.Floors),
		Areas:         slices.Clone(d.Areas),
		Devices:       make([]Device, len(d.Devices)),
		Entities:      make([]Entity, len(d.Entities)),
		ConfigEntries: slices.Clone(d.ConfigEntries),
	}
	for i, dev := range d.Devices {
		dev.ConfigEntries = slices.Clone(dev.ConfigEntries)
		out.Devices[i] = dev
	}
	for i, e := range d.Entities {
		out.Entities[i] = cloneEntity(e)
	}
	return out
}

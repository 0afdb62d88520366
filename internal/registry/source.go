package registry

import (
	"context"
	"errors"
)

// Source is the read side every registry backend provides.
type Source interface {
	ListAreas(ctx context.Context) ([]Area, error)
	ListDevices(ctx context.Context) ([]Device, error)
	ListEntities(ctx context.Context) ([]Entity, error)
}

// FloorLister is implemented by sources that know about floors.
type FloorLister interface {
	ListFloors(ctx context.Context) ([]Floor, error)
}

// ConfigEntryLister is implemented by sources that expose integrations.
type ConfigEntryLister interface {
	ListConfigEntries(ctx context.Context) ([]ConfigEntry, error)
}

// DeviceEntityLister is implemented by sources with an indexed
// per-device entity lookup.
type DeviceEntityLister interface {
	ListEntitiesForDevice(ctx context.Context, deviceID string) ([]Entity, error)
}

// EntityUpdater is implemented by writable sources.
type EntityUpdater interface {
	UpdateEntity(ctx context.Context, entityID string, upd EntityUpdate) (Entity, error)
}

// Capability names an optional relation or operation of a source.
type Capability string

const (
	CapFloors            Capability = "floors"
	CapConfigEntries     Capability = "config_entries"
	CapEntitiesForDevice Capability = "entities_for_device"
	CapUpdateEntity      Capability = "update_entity"
)

// CapabilityReporter lets a source veto an interface it implements, for
// example a remote host too old to have a floor registry.
type CapabilityReporter interface {
	Supports(c Capability) bool
}

// Supports reports whether src provides c.
func Supports(src any, c Capability) bool {
	var ok bool
	switch c {
	case CapFloors:
		_, ok = src.(FloorLister)
	case CapConfigEntries:
		_, ok = src.(ConfigEntryLister)
	case CapEntitiesForDevice:
		_, ok = src.(DeviceEntityLister)
	case CapUpdateEntity:
		_, ok = src.(EntityUpdater)
	}
	if !ok {
		return false
	}
	if r, isReporter := src.(CapabilityReporter); isReporter {
		return r.Supports(c)
	}
	return true
}

// Floors lists floors, or returns an empty list when src has none.
func Floors(ctx context.Context, src Source) ([]Floor, error) {
	if !Supports(src, CapFloors) {
		return []Floor{}, nil
	}
	floors, err := src.(FloorLister).ListFloors(ctx)
	if errors.Is(err, ErrUnsupported) {
		return []Floor{}, nil
	}
	if err != nil {
		return nil, err
	}
	return floors, nil
}

// ConfigEntries lists config entries, or returns an empty list when src
// has none.
func ConfigEntries(ctx context.Context, src Source) ([]ConfigEntry, error) {
	if !Supports(src, CapConfigEntries) {
		return []ConfigEntry{}, nil
	}
	entries, err := src.(ConfigEntryLister).ListConfigEntries(ctx)
	if errors.Is(err, ErrUnsupported) {
		return []ConfigEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// EntitiesForDevice returns the entities owned by deviceID. Sources
// without an indexed lookup are served by filtering all.
func EntitiesForDevice(ctx context.Context, src Source, deviceID string, all []Entity) ([]Entity, error) {
	if Supports(src, CapEntitiesForDevice) {
		entities, err := src.(DeviceEntityLister).ListEntitiesForDevice(ctx, deviceID)
		if err == nil {
			return entities, nil
		}
		if !errors.Is(err, ErrUnsupported) {
			return nil, err
		}
	}
	var out []Entity
	for _, e := range all {
		if Value(e.DeviceID) == deviceID {
			out = append(out, e)
		}
	}
	return out, nil
}

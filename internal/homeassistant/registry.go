package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/notify"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/registry"
)

// floorsSince is the first release with a floor registry.
var floorsSince = version{2024, 4}

// Caller is the command surface Registry needs. *Client and *Session
// satisfy it.
type Caller interface {
	Call(ctx context.Context, command string, fields map[string]any) (json.RawMessage, error)
	Version() string
}

// Registry reads and updates Home Assistant's registries over the
// WebSocket API. It implements registry.Source, FloorLister,
// ConfigEntryLister, EntityUpdater and notify.Notifier.
type Registry struct {
	api Caller
}

// NewRegistry wraps an authenticated connection.
func NewRegistry(api Caller) *Registry {
	return &Registry{api: api}
}

// Supports implements registry.CapabilityReporter. Floors are reported
// missing on releases that predate them.
func (r *Registry) Supports(c registry.Capability) bool {
	if c != registry.CapFloors {
		return true
	}
	v, ok := parseVersion(r.api.Version())
	return !ok || !v.less(floorsSince)
}

// ListFloors implements registry.FloorLister.
func (r *Registry) ListFloors(ctx context.Context) ([]registry.Floor, error) {
	var floors []registry.Floor
	err := r.list(ctx, "config/floor_registry/list", &floors)
	if errors.Is(err, ErrUnknownCommand) {
		return nil, fmt.Errorf("floors: %w", registry.ErrUnsupported)
	}
	return floors, err
}

// ListAreas implements registry.Source.
func (r *Registry) ListAreas(ctx context.Context) ([]registry.Area, error) {
	var areas []registry.Area
	return areas, r.list(ctx, "config/area_registry/list", &areas)
}

// ListDevices implements registry.Source.
func (r *Registry) ListDevices(ctx context.Context) ([]registry.Device, error) {
	var devices []registry.Device
	return devices, r.list(ctx, "config/device_registry/list", &devices)
}

// state is the part of get_states the exporter uses.
type state struct {
	EntityID   string `json:"entity_id"`
	Attributes struct {
		DeviceClass       *string `json:"device_class"`
		UnitOfMeasurement *string `json:"unit_of_measurement"`
	} `json:"attributes"`
}

// ListEntities implements registry.Source. The entity registry does not
// carry device class or unit, so they are filled in from current states.
func (r *Registry) ListEntities(ctx context.Context) ([]registry.Entity, error) {
	var entities []registry.Entity
	if err := r.list(ctx, "config/entity_registry/list", &entities); err != nil {
		return nil, err
	}

	var states []state
	if err := r.list(ctx, "get_states", &states); err != nil {
		return nil, err
	}
	byID := make(map[string]state, len(states))
	for _, s := range states {
		byID[s.EntityID] = s
	}

	for i := range entities {
		s, ok := byID[entities[i].EntityID]
		if !ok {
			continue
		}
		if entities[i].DeviceClass == nil {
			entities[i].DeviceClass = s.Attributes.DeviceClass
		}
		if entities[i].UnitOfMeasurement == nil {
			entities[i].UnitOfMeasurement = s.Attributes.UnitOfMeasurement
		}
	}
	return entities, nil
}

// ListConfigEntries implements registry.ConfigEntryLister.
func (r *Registry) ListConfigEntries(ctx context.Context) ([]registry.ConfigEntry, error) {
	var entries []registry.ConfigEntry
	err := r.list(ctx, "config_entries/get", &entries)
	if errors.Is(err, ErrUnknownCommand) {
		return nil, fmt.Errorf("config entries: %w", registry.ErrUnsupported)
	}
	return entries, err
}

// UpdateEntity implements registry.EntityUpdater. Only the keys that are
// set are sent, so Home Assistant leaves the other fields alone.
func (r *Registry) UpdateEntity(ctx context.Context, entityID string, upd registry.EntityUpdate) (registry.Entity, error) {
	fields := map[string]any{"entity_id": entityID}
	if upd.NameSet {
		fields["name"] = upd.Name
	}
	if upd.LabelsSet {
		fields["labels"] = registry.NormalizeLabels(upd.Labels)
	}

	raw, err := r.api.Call(ctx, "config/entity_registry/update", fields)
	if err != nil {
		var ce *CommandError
		if errors.As(err, &ce) && ce.Code == "not_found" {
			return registry.Entity{}, fmt.Errorf("entity %s: %w", entityID, registry.ErrNotFound)
		}
		return registry.Entity{}, err
	}

	var reply struct {
		Entry registry.Entity `json:"entity_entry"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return registry.Entity{}, fmt.Errorf("decoding entity_registry/update result: %w", err)
	}
	return reply.Entry, nil
}

// Notify implements notify.Notifier with persistent_notification.create.
func (r *Registry) Notify(ctx context.Context, n notify.Notification) error {
	_, err := r.api.Call(ctx, "call_service", map[string]any{
		"domain":  "persistent_notification",
		"service": "create",
		"service_data": map[string]any{
			"title":           n.Title,
			"message":         n.Message,
			"notification_id": n.ID,
		},
	})
	if err != nil {
		return fmt.Errorf("creating notification %s: %w", n.ID, err)
	}
	return nil
}

func (r *Registry) list(ctx context.Context, command string, out any) error {
	raw, err := r.api.Call(ctx, command, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s result: %w", command, err)
	}
	return nil
}

// version is a Home Assistant CalVer release (year.month).
type version struct {
	year, month int
}

func (v version) less(o version) bool {
	if v.year != o.year {
		return v.year < o.year
	}
	return v.month < o.month
}

// parseVersion reads the year and month from strings like "2024.4.1"
// or "2025.1.0.dev0".
func parseVersion(s string) (version, bool) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) < 2 {
		return version{}, false
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return version{}, false
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return version{}, false
	}
	return version{year, month}, true
}

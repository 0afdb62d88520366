package registry

import (
	"slices"
	"strings"
)

// Floor is a level of the building. Areas belong to at most one floor.
type Floor struct {
	ID    string  `json:"floor_id" yaml:"floor_id"`
	Name  string  `json:"name" yaml:"name"`
	Level *int    `json:"level,omitempty" yaml:"level,omitempty"`
	Icon  *string `json:"icon,omitempty" yaml:"icon,omitempty"`
}

// Area is a room or zone.
type Area struct {
	ID      string  `json:"area_id" yaml:"area_id"`
	Name    string  `json:"name" yaml:"name"`
	FloorID *string `json:"floor_id,omitempty" yaml:"floor_id,omitempty"`
	Picture *string `json:"picture,omitempty" yaml:"picture,omitempty"`
	Icon    *string `json:"icon,omitempty" yaml:"icon,omitempty"`
}

// Device is a physical or logical device owning zero or more entities.
type Device struct {
	ID                 string   `json:"id" yaml:"id"`
	Name               *string  `json:"name,omitempty" yaml:"name,omitempty"`
	NameByUser         *string  `json:"name_by_user,omitempty" yaml:"name_by_user,omitempty"`
	Manufacturer       *string  `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty"`
	Model              *string  `json:"model,omitempty" yaml:"model,omitempty"`
	SWVersion          *string  `json:"sw_version,omitempty" yaml:"sw_version,omitempty"`
	HWVersion          *string  `json:"hw_version,omitempty" yaml:"hw_version,omitempty"`
	AreaID             *string  `json:"area_id,omitempty" yaml:"area_id,omitempty"`
	ConfigEntries      []string `json:"config_entries,omitempty" yaml:"config_entries,omitempty"`
	PrimaryConfigEntry *string  `json:"primary_config_entry,omitempty" yaml:"primary_config_entry,omitempty"`
	DisabledBy         *string  `json:"disabled_by,omitempty" yaml:"disabled_by,omitempty"`
}

// DisplayName returns the user-assigned name, falling back to the
// integration-provided one. Empty when neither is set.
func (d Device) DisplayName() string {
	if v := Value(d.NameByUser); v != "" {
		return v
	}
	return Value(d.Name)
}

// OwningConfigEntry returns the primary config entry, or the first one
// listed when no primary is recorded.
func (d Device) OwningConfigEntry() *string {
	if d.PrimaryConfigEntry != nil && *d.PrimaryConfigEntry != "" {
		return d.PrimaryConfigEntry
	}
	if len(d.ConfigEntries) > 0 {
		return Ptr(d.ConfigEntries[0])
	}
	return nil
}

// Entity is an individual controllable or observable point.
type Entity struct {
	EntityID          string   `json:"entity_id" yaml:"entity_id"`
	UniqueID          *string  `json:"unique_id,omitempty" yaml:"unique_id,omitempty"`
	Platform          *string  `json:"platform,omitempty" yaml:"platform,omitempty"`
	Name              *string  `json:"name,omitempty" yaml:"name,omitempty"`
	OriginalName      *string  `json:"original_name,omitempty" yaml:"original_name,omitempty"`
	Labels            []string `json:"labels,omitempty" yaml:"labels,omitempty"`
	DeviceClass       *string  `json:"device_class,omitempty" yaml:"device_class,omitempty"`
	UnitOfMeasurement *string  `json:"unit_of_measurement,omitempty" yaml:"unit_of_measurement,omitempty"`
	Icon              *string  `json:"icon,omitempty" yaml:"icon,omitempty"`
	DeviceID          *string  `json:"device_id,omitempty" yaml:"device_id,omitempty"`
	AreaID            *string  `json:"area_id,omitempty" yaml:"area_id,omitempty"`
	ConfigEntryID     *string  `json:"config_entry_id,omitempty" yaml:"config_entry_id,omitempty"`
	DisabledBy        *string  `json:"disabled_by,omitempty" yaml:"disabled_by,omitempty"`
}

// Disabled reports whether something has disabled the entity.
func (e Entity) Disabled() bool {
	return Value(e.DisabledBy) != ""
}

// Domain returns the part of the entity_id before the first dot.
func (e Entity) Domain() string {
	domain, _, _ := strings.Cut(e.EntityID, ".")
	return domain
}

// ConfigEntry is an integration instance.
type ConfigEntry struct {
	EntryID string `json:"entry_id" yaml:"entry_id"`
	Domain  string `json:"domain" yaml:"domain"`
	Title   string `json:"title" yaml:"title"`
	Source  string `json:"source,omitempty" yaml:"source,omitempty"`
	State   string `json:"state,omitempty" yaml:"state,omitempty"`
}

// EntityUpdate carries the only two entity fields an import may change.
// A field is written only when its Set flag is true; a set Name of nil
// clears the user-assigned name.
type EntityUpdate struct {
	NameSet   bool
	Name      *string
	LabelsSet bool
	Labels    []string
}

// Empty reports whether the update changes nothing.
func (u EntityUpdate) Empty() bool {
	return !u.NameSet && !u.LabelsSet
}

// Apply writes the update onto e.
func (u EntityUpdate) Apply(e *Entity) {
	if u.NameSet {
		e.Name = CloneString(u.Name)
	}
	if u.LabelsSet {
		e.Labels = NormalizeLabels(u.Labels)
	}
}

// Data is a complete registry snapshot. It doubles as the fixture format.
type Data struct {
	Floors        []Floor       `json:"floors" yaml:"floors"`
	Areas         []Area        `json:"areas" yaml:"areas"`
	Devices       []Device      `json:"devices" yaml:"devices"`
	Entities      []Entity      `json:"entities" yaml:"entities"`
	ConfigEntries []ConfigEntry `json:"config_entries" yaml:"config_entries"`
}

// NormalizeLabels returns the labels as a sorted set without blanks.
// The result is never nil so it serializes as [].
func NormalizeLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// SameLabels compares two label lists as sets.
func SameLabels(a, b []string) bool {
	return slices.Equal(NormalizeLabels(a), NormalizeLabels(b))
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Value dereferences s, returning "" for nil.
func Value(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// CloneString copies the pointee so callers cannot alias stored records.
func CloneString(s *string) *string {
	if s == nil {
		return nil
	}
	return Ptr(*s)
}

// SameString compares two optional strings by value.
func SameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

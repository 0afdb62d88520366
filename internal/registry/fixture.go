package registry

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFixture reads a registry snapshot from a YAML (or JSON) file.
func LoadFixture(path string) (Data, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // Operator-supplied path from config
	if err != nil {
		return Data{}, fmt.Errorf("reading fixture: %w", err)
	}
	return ParseFixture(raw)
}

// ParseFixture decodes and validates a registry snapshot.
func ParseFixture(raw []byte) (Data, error) {
	var data Data
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return Data{}, fmt.Errorf("parsing fixture: %w", err)
	}
	if err := data.Validate(); err != nil {
		return Data{}, err
	}
	return data, nil
}

// Validate checks identifiers are present and unique per record kind.
// Dangling references are allowed; exports place them at the root.
func (d Data) Validate() error {
	var errs []string

	check := func(kind string, ids []string) {
		seen := make(map[string]bool, len(ids))
		for i, id := range ids {
			switch {
			case strings.TrimSpace(id) == "":
				errs = append(errs, fmt.Sprintf("%s[%d]: missing id", kind, i))
			case seen[id]:
				errs = append(errs, fmt.Sprintf("%s[%d]: duplicate id %q", kind, i, id))
			}
			seen[id] = true
		}
	}

	check("floors", collect(d.Floors, func(f Floor) string { return f.ID }))
	check("areas", collect(d.Areas, func(a Area) string { return a.ID }))
	check("devices", collect(d.Devices, func(dev Device) string { return dev.ID }))
	check("entities", collect(d.Entities, func(e Entity) string { return e.EntityID }))
	check("config_entries", collect(d.ConfigEntries, func(c ConfigEntry) string { return c.EntryID }))

	for i, e := range d.Entities {
		if e.EntityID != "" && !strings.Contains(e.EntityID, ".") {
			errs = append(errs, fmt.Sprintf("entities[%d]: entity_id %q has no domain", i, e.EntityID))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidFixture, strings.Join(errs, "; "))
	}
	return nil
}

func collect[T any](items []T, id func(T) string) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = id(item)
	}
	return out
}

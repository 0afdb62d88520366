package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is written at the root of every export. Bump it when the
// layout changes in a way an importer must know about.
const SchemaVersion = 1

// UnassignedFloorName labels the bucket of areas without a floor.
const UnassignedFloorName = "Unassigned"

// Document is the exported tree. Devices and entities that cannot be
// placed under an area are kept at the root.
type Document struct {
	SchemaVersion int               `json:"schema_version"`
	GeneratedAt   time.Time         `json:"generated_at"`
	Floors        []FloorNode       `json:"floors"`
	Devices       []DeviceNode      `json:"devices"`
	Entities      []EntityNode      `json:"entities"`
	Integrations  []IntegrationNode `json:"integrations"`
}

// FloorNode is a floor and its areas. FloorID is nil for the unassigned
// bucket.
type FloorNode struct {
	FloorID *string    `json:"floor_id"`
	Name    string     `json:"name"`
	Level   *int       `json:"level,omitempty"`
	Icon    *string    `json:"icon,omitempty"`
	Areas   []AreaNode `json:"areas"`
}

// AreaNode is an area with its devices and device-less entities.
type AreaNode struct {
	AreaID   string       `json:"area_id"`
	Name     string       `json:"name"`
	Picture  *string      `json:"picture"`
	Icon     *string      `json:"icon,omitempty"`
	Devices  []DeviceNode `json:"devices"`
	Entities []EntityNode `json:"entities"`
}

// DeviceNode is a retained device with its entities.
type DeviceNode struct {
	ID            string       `json:"id"`
	Name          *string      `json:"name"`
	NameByUser    *string      `json:"name_by_user,omitempty"`
	Manufacturer  *string      `json:"manufacturer"`
	Model         *string      `json:"model"`
	SWVersion     *string      `json:"sw_version"`
	HWVersion     *string      `json:"hw_version,omitempty"`
	AreaID        *string      `json:"area_id"`
	ConfigEntryID *string      `json:"config_entry_id"`
	Disabled      bool         `json:"disabled,omitempty"`
	Entities      []EntityNode `json:"entities"`
}

// EntityNode is one entity. Name and labels are the fields an import
// may write back.
type EntityNode struct {
	EntityID          string   `json:"entity_id"`
	Name              *string  `json:"name"`
	OriginalName      *string  `json:"original_name,omitempty"`
	Labels            []string `json:"labels"`
	DeviceClass       *string  `json:"device_class"`
	UnitOfMeasurement *string  `json:"unit_of_measurement"`
	Icon              *string  `json:"icon,omitempty"`
	Platform          *string  `json:"platform,omitempty"`
	DeviceID          *string  `json:"device_id"`
	AreaID            *string  `json:"area_id,omitempty"`
	Disabled          bool     `json:"disabled,omitempty"`
}

// IntegrationNode is a config entry and the ids of what it provides.
// Ids are plain strings so importers do not mistake them for entities.
type IntegrationNode struct {
	EntryID  string   `json:"entry_id"`
	Domain   string   `json:"domain,omitempty"`
	Title    string   `json:"title,omitempty"`
	Source   string   `json:"source,omitempty"`
	State    string   `json:"state,omitempty"`
	Devices  []string `json:"devices"`
	Entities []string `json:"entities"`
}

// Marshal encodes the document, compact unless pretty is set. HTML
// characters in names are written as-is.
func (d *Document) Marshal(pretty bool) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// EntityCount returns the number of entity records in the tree.
func (d *Document) EntityCount() int {
	n := len(d.Entities)
	for _, dev := range d.Devices {
		n += len(dev.Entities)
	}
	for _, f := range d.Floors {
		for _, a := range f.Areas {
			n += len(a.Entities)
			for _, dev := range a.Devices {
				n += len(dev.Entities)
			}
		}
	}
	return n
}

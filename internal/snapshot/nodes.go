package snapshot

import (
	"strings"

	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/registry"
)

func newDeviceNode(d registry.Device) DeviceNode {
	return DeviceNode{
		ID:            d.ID,
		Name:          d.Name,
		NameByUser:    d.NameByUser,
		Manufacturer:  d.Manufacturer,
		Model:         d.Model,
		SWVersion:     d.SWVersion,
		HWVersion:     d.HWVersion,
		AreaID:        d.AreaID,
		ConfigEntryID: d.OwningConfigEntry(),
		Disabled:      registry.Value(d.DisabledBy) != "",
		Entities:      []EntityNode{},
	}
}

func newEntityNode(e registry.Entity) EntityNode {
	return EntityNode{
		EntityID:          e.EntityID,
		Name:              e.Name,
		OriginalName:      e.OriginalName,
		Labels:            registry.NormalizeLabels(e.Labels),
		DeviceClass:       e.DeviceClass,
		UnitOfMeasurement: e.UnitOfMeasurement,
		Icon:              e.Icon,
		Platform:          e.Platform,
		DeviceID:          e.DeviceID,
		AreaID:            e.AreaID,
		Disabled:          e.Disabled(),
	}
}

// floorsFromAreaNames derives floors from names like "2F - Kitchen". The
// matching areas are renamed to the part after the dash and assigned to
// the derived floor; other areas are left without a floor.
func floorsFromAreaNames(areas []registry.Area) ([]registry.Floor, []registry.Area) {
	var floors []registry.Floor
	seen := make(map[string]bool)
	out := make([]registry.Area, len(areas))
	for i, a := range areas {
		out[i] = a
		m := floorPattern.FindStringSubmatch(a.Name)
		if m == nil {
			continue
		}
		id := strings.ToLower(m[1])
		if !seen[id] {
			seen[id] = true
			floors = append(floors, registry.Floor{ID: id, Name: m[1]})
		}
		out[i].Name = m[2]
		out[i].FloorID = registry.Ptr(id)
	}
	return floors, out
}

package snapshot

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/registry"
)

// Logger is the logging surface the exporter and importer use.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ExportStats counts what went into an export and what was left out.
type ExportStats struct {
	Floors           int `json:"floors"`
	Areas            int `json:"areas"`
	Devices          int `json:"devices"`
	Entities         int `json:"entities"`
	Integrations     int `json:"integrations"`
	SkippedDevices   int `json:"skipped_devices"`
	SkippedEntities  int `json:"skipped_entities"`
	DisabledExcluded int `json:"disabled_excluded"`
}

// Exporter builds the floor → area → device → entity tree from a
// registry source.
type Exporter struct {
	opts   ExportOptions
	now    func() time.Time
	logger Logger
}

// NewExporter returns an exporter with the given options.
func NewExporter(opts ExportOptions) *Exporter {
	return &Exporter{
		opts:   opts,
		now:    time.Now,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger used for filter decisions.
func (e *Exporter) SetLogger(logger Logger) {
	e.logger = logger
}

// snapshotOf is everything read from the source for one export.
type snapshotOf struct {
	floors   []registry.Floor
	areas    []registry.Area
	devices  []registry.Device
	entities []registry.Entity
	entries  []registry.ConfigEntry
}

func (e *Exporter) read(ctx context.Context, src registry.Source) (*snapshotOf, error) {
	var s snapshotOf
	var err error

	if s.floors, err = registry.Floors(ctx, src); err != nil {
		return nil, fmt.Errorf("%w: listing floors: %w", ErrRegistryUnavailable, err)
	}
	if s.areas, err = src.ListAreas(ctx); err != nil {
		return nil, fmt.Errorf("%w: listing areas: %w", ErrRegistryUnavailable, err)
	}
	if s.devices, err = src.ListDevices(ctx); err != nil {
		return nil, fmt.Errorf("%w: listing devices: %w", ErrRegistryUnavailable, err)
	}
	if s.entities, err = src.ListEntities(ctx); err != nil {
		return nil, fmt.Errorf("%w: listing entities: %w", ErrRegistryUnavailable, err)
	}
	if s.entries, err = registry.ConfigEntries(ctx, src); err != nil {
		return nil, fmt.Errorf("%w: listing config entries: %w", ErrRegistryUnavailable, err)
	}
	return &s, nil
}

// Build reads src and assembles the document.
//
// A device with neither a name nor a manufacturer is dropped with its
// entities when SkipNamelessDevices is set. Every other entity ends up
// somewhere: under its device, under its area, or at the root.
func (e *Exporter) Build(ctx context.Context, src registry.Source) (*Document, ExportStats, error) {
	s, err := e.read(ctx, src)
	if err != nil {
		return nil, ExportStats{}, err
	}

	if len(s.floors) == 0 && e.opts.FloorFromAreaName {
		s.floors, s.areas = floorsFromAreaNames(s.areas)
	}

	var stats ExportStats

	areaByID := make(map[string]*AreaNode, len(s.areas))
	areaNodes := make([]AreaNode, len(s.areas))
	for i, a := range s.areas {
		areaNodes[i] = AreaNode{
			AreaID:   a.ID,
			Name:     a.Name,
			Picture:  a.Picture,
			Icon:     a.Icon,
			Devices:  []DeviceNode{},
			Entities: []EntityNode{},
		}
		areaByID[a.ID] = &areaNodes[i]
	}

	// Back-of-house filter, decided once per device.
	skipped := make(map[string]bool)
	retained := make([]registry.Device, 0, len(s.devices))
	for _, d := range s.devices {
		if e.opts.SkipNamelessDevices && d.DisplayName() == "" && registry.Value(d.Manufacturer) == "" {
			e.logger.Debug("skipping device without name or manufacturer", "device_id", d.ID)
			skipped[d.ID] = true
			stats.SkippedDevices++
			continue
		}
		retained = append(retained, d)
	}

	keep := func(ent registry.Entity) bool {
		if !e.opts.IncludeDisabledEntities && ent.Disabled() {
			stats.DisabledExcluded++
			return false
		}
		return true
	}

	placed := make(map[string]bool, len(s.entities))
	var exported []registry.Entity
	deviceNodes := make([]DeviceNode, len(retained))
	deviceIndex := make(map[string]int, len(retained))
	for i, d := range retained {
		owned, err := registry.EntitiesForDevice(ctx, src, d.ID, s.entities)
		if err != nil {
			return nil, ExportStats{}, fmt.Errorf("%w: listing entities of device %s: %w", ErrRegistryUnavailable, d.ID, err)
		}
		node := newDeviceNode(d)
		for _, ent := range owned {
			if placed[ent.EntityID] {
				continue
			}
			placed[ent.EntityID] = true
			if keep(ent) {
				node.Entities = append(node.Entities, newEntityNode(ent))
				exported = append(exported, ent)
			}
		}
		deviceNodes[i] = node
		deviceIndex[d.ID] = i
	}

	doc := &Document{
		SchemaVersion: SchemaVersion,
		GeneratedAt:   e.now().UTC(),
		Floors:        []FloorNode{},
		Devices:       []DeviceNode{},
		Entities:      []EntityNode{},
		Integrations:  []IntegrationNode{},
	}

	// Entities the per-device lookup did not return.
	for _, ent := range s.entities {
		if placed[ent.EntityID] {
			continue
		}
		placed[ent.EntityID] = true
		deviceID := registry.Value(ent.DeviceID)
		if skipped[deviceID] {
			stats.SkippedEntities++
			continue
		}
		if !keep(ent) {
			continue
		}
		exported = append(exported, ent)
		node := newEntityNode(ent)
		if i, ok := deviceIndex[deviceID]; ok {
			deviceNodes[i].Entities = append(deviceNodes[i].Entities, node)
			continue
		}
		if area, ok := areaByID[registry.Value(ent.AreaID)]; ok {
			area.Entities = append(area.Entities, node)
			continue
		}
		doc.Entities = append(doc.Entities, node)
	}

	for i, d := range retained {
		if area, ok := areaByID[registry.Value(d.AreaID)]; ok {
			area.Devices = append(area.Devices, deviceNodes[i])
			continue
		}
		doc.Devices = append(doc.Devices, deviceNodes[i])
	}

	doc.Floors = assembleFloors(s.floors, s.areas, areaNodes)
	doc.Integrations = integrations(s.entries, retained, exported)

	stats.Floors = len(s.floors)
	stats.Areas = len(s.areas)
	stats.Devices = len(retained)
	stats.Entities = doc.EntityCount()
	stats.Integrations = len(doc.Integrations)

	e.logger.Debug("snapshot built",
		"floors", stats.Floors,
		"areas", stats.Areas,
		"devices", stats.Devices,
		"entities", stats.Entities,
		"skipped_devices", stats.SkippedDevices,
	)
	return doc, stats, nil
}

// assembleFloors groups area nodes under their floors in registry order.
// Areas without a known floor go to a trailing unassigned bucket.
func assembleFloors(floors []registry.Floor, areas []registry.Area, nodes []AreaNode) []FloorNode {
	out := make([]FloorNode, 0, len(floors)+1)
	index := make(map[string]int, len(floors))
	for _, f := range floors {
		index[f.ID] = len(out)
		out = append(out, FloorNode{
			FloorID: registry.Ptr(f.ID),
			Name:    f.Name,
			Level:   f.Level,
			Icon:    f.Icon,
			Areas:   []AreaNode{},
		})
	}

	unassigned := FloorNode{Name: UnassignedFloorName, Areas: []AreaNode{}}
	for i, a := range areas {
		if fi, ok := index[registry.Value(a.FloorID)]; ok {
			out[fi].Areas = append(out[fi].Areas, nodes[i])
			continue
		}
		unassigned.Areas = append(unassigned.Areas, nodes[i])
	}
	if len(unassigned.Areas) > 0 {
		out = append(out, unassigned)
	}
	return out
}

// integrations lists every config entry referenced by a retained device
// or an exported entity. Known entries come first in registry order.
func integrations(entries []registry.ConfigEntry, devices []registry.Device, exported []registry.Entity) []IntegrationNode {
	byID := make(map[string]*IntegrationNode)
	seen := make(map[string]map[string]bool)
	var order []string
	node := func(id string) *IntegrationNode {
		if n, ok := byID[id]; ok {
			return n
		}
		n := &IntegrationNode{EntryID: id, Devices: []string{}, Entities: []string{}}
		byID[id] = n
		seen[id] = make(map[string]bool)
		order = append(order, id)
		return n
	}
	addEntity := func(id, entityID string) {
		n := node(id)
		if !seen[id][entityID] {
			seen[id][entityID] = true
			n.Entities = append(n.Entities, entityID)
		}
	}

	owner := make(map[string]string, len(devices))
	for _, d := range devices {
		if id := registry.Value(d.OwningConfigEntry()); id != "" {
			node(id).Devices = append(node(id).Devices, d.ID)
			owner[d.ID] = id
		}
	}
	for _, ent := range exported {
		if id := owner[registry.Value(ent.DeviceID)]; id != "" {
			addEntity(id, ent.EntityID)
		}
		// An entity can come from a different integration than its device.
		if id := registry.Value(ent.ConfigEntryID); id != "" {
			addEntity(id, ent.EntityID)
		}
	}

	known := make(map[string]registry.ConfigEntry, len(entries))
	rank := make(map[string]int, len(entries))
	for i, c := range entries {
		known[c.EntryID] = c
		rank[c.EntryID] = i
	}
	slices.SortStableFunc(order, func(a, b string) int {
		ra, okA := rank[a]
		rb, okB := rank[b]
		switch {
		case okA && okB:
			return ra - rb
		case okA:
			return -1
		case okB:
			return 1
		default:
			return strings.Compare(a, b)
		}
	})

	out := make([]IntegrationNode, 0, len(order))
	for _, id := range order {
		n := byID[id]
		if c, ok := known[id]; ok {
			n.Domain, n.Title, n.Source, n.State = c.Domain, c.Title, c.Source, c.State
		}
		out = append(out, *n)
	}
	return out
}

// ExportResult describes a written export.
type ExportResult struct {
	Filename string      `json:"filename"`
	Path     string      `json:"-"`
	Bytes    int         `json:"bytes"`
	Stats    ExportStats `json:"stats"`
	Document *Document   `json:"-"`
	Data     []byte      `json:"-"`
}

// Export builds the document from src and writes it through w.
func (e *Exporter) Export(ctx context.Context, src registry.Source, w *FileWriter, filename string) (*ExportResult, error) {
	if err := ValidateFilename(filename); err != nil {
		return nil, err
	}
	doc, stats, err := e.Build(ctx, src)
	if err != nil {
		return nil, err
	}
	data, err := doc.Marshal(e.opts.Pretty)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	path, err := w.WriteFile(filename, data)
	if err != nil {
		return nil, err
	}
	e.logger.Info("snapshot written", "path", path, "bytes", len(data), "entities", stats.Entities)
	return &ExportResult{
		Filename: filename,
		Path:     path,
		Bytes:    len(data),
		Stats:    stats,
		Document: doc,
		Data:     data,
	}, nil
}

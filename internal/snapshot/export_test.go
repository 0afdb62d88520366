package snapshot

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/registry"
)

var fixedTime = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func loadHome(t *testing.T) registry.Data {
	t.Helper()
	data, err := registry.LoadFixture("../registry/testdata/home.yaml")
	if err != nil {
		t.Fatalf("LoadFixture() error = %v", err)
	}
	return data
}

func newTestExporter(opts ExportOptions) *Exporter {
	e := NewExporter(opts)
	e.now = func() time.Time { return fixedTime }
	return e
}

func entityIDs(nodes []EntityNode) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.EntityID)
	}
	return ids
}

func deviceIDs(nodes []DeviceNode) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

func TestBuild(t *testing.T) {
	mem := registry.NewMemory(loadHome(t))
	doc, stats, err := newTestExporter(DefaultExportOptions()).Build(context.Background(), mem)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if doc.SchemaVersion != SchemaVersion || !doc.GeneratedAt.Equal(fixedTime) {
		t.Errorf("header = (%d, %v)", doc.SchemaVersion, doc.GeneratedAt)
	}

	if len(doc.Floors) != 3 {
		t.Fatalf("floors = %d, want 3 (two floors plus unassigned)", len(doc.Floors))
	}
	ground, first, unassigned := doc.Floors[0], doc.Floors[1], doc.Floors[2]

	if registry.Value(ground.FloorID) != "ground" || len(ground.Areas) != 1 || ground.Areas[0].AreaID != "kitchen" {
		t.Fatalf("ground floor = %+v", ground)
	}
	kitchen := ground.Areas[0]
	if diff := cmp.Diff([]string{"dev-lamp"}, deviceIDs(kitchen.Devices)); diff != "" {
		t.Errorf("kitchen devices mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"light.kitchen"}, entityIDs(kitchen.Devices[0].Entities)); diff != "" {
		t.Errorf("lamp entities mismatch (-want +got):\n%s", diff)
	}
	if got := registry.Value(kitchen.Devices[0].ConfigEntryID); got != "hue-1" {
		t.Errorf("lamp config entry = %q, want hue-1", got)
	}

	if diff := cmp.Diff([]string{"sensor.bedroom_humidity"}, entityIDs(first.Areas[0].Entities)); diff != "" {
		t.Errorf("bedroom entities mismatch (-want +got):\n%s", diff)
	}

	if unassigned.FloorID != nil || unassigned.Name != UnassignedFloorName {
		t.Errorf("unassigned bucket = (%v, %q)", unassigned.FloorID, unassigned.Name)
	}
	garage := unassigned.Areas[0]
	if diff := cmp.Diff([]string{"dev-hub"}, deviceIDs(garage.Devices)); diff != "" {
		t.Errorf("garage devices mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"sun.sun"}, entityIDs(doc.Entities)); diff != "" {
		t.Errorf("root entities mismatch (-want +got):\n%s", diff)
	}
	if len(doc.Devices) != 0 {
		t.Errorf("root devices = %v, want none", deviceIDs(doc.Devices))
	}

	wantStats := ExportStats{
		Floors:          2,
		Areas:           3,
		Devices:         2,
		Entities:        4,
		Integrations:    2,
		SkippedDevices:  1,
		SkippedEntities: 1,
	}
	if diff := cmp.Diff(wantStats, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildBackOfHouseFilter(t *testing.T) {
	mem := registry.NewMemory(loadHome(t))
	doc, _, err := newTestExporter(DefaultExportOptions()).Build(context.Background(), mem)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	data, err := doc.Marshal(false)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	out := string(data)

	// Manufacturer alone keeps a device.
	if !strings.Contains(out, `"id":"dev-hub"`) {
		t.Error("device with manufacturer Acme and empty name was dropped")
	}
	for _, gone := range []string{"dev-virtual", "switch.virtual"} {
		if strings.Contains(out, gone) {
			t.Errorf("export contains %s, want it filtered", gone)
		}
	}

	t.Run("filter off keeps everything", func(t *testing.T) {
		opts := DefaultExportOptions()
		opts.SkipNamelessDevices = false
		_, stats, err := newTestExporter(opts).Build(context.Background(), mem)
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		if stats.Devices != 3 || stats.Entities != 5 || stats.SkippedDevices != 0 {
			t.Errorf("stats = %+v", stats)
		}
	})

	t.Run("user-assigned name counts as a name", func(t *testing.T) {
		renamed := registry.NewMemory(registry.Data{
			Devices: []registry.Device{
				{ID: "dev-renamed", NameByUser: registry.Ptr("Garage Door")},
				{ID: "dev-bare"},
			},
			Entities: []registry.Entity{
				{EntityID: "cover.garage", DeviceID: registry.Ptr("dev-renamed")},
				{EntityID: "switch.bare", DeviceID: registry.Ptr("dev-bare")},
			},
		})
		doc, stats, err := newTestExporter(DefaultExportOptions()).Build(context.Background(), renamed)
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		data, err := doc.Marshal(false)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		out := string(data)
		for _, kept := range []string{`"id":"dev-renamed"`, "cover.garage"} {
			if !strings.Contains(out, kept) {
				t.Errorf("export is missing %s", kept)
			}
		}
		if strings.Contains(out, "dev-bare") {
			t.Error("device with neither name nor manufacturer was kept")
		}
		if stats.Devices != 1 || stats.Entities != 1 || stats.SkippedDevices != 1 {
			t.Errorf("stats = %+v", stats)
		}
	})
}

func TestBuildIntegrations(t *testing.T) {
	mem := registry.NewMemory(loadHome(t))
	doc, _, err := newTestExporter(DefaultExportOptions()).Build(context.Background(), mem)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	want := []IntegrationNode{
		{EntryID: "hue-1", Domain: "hue", Title: "Philips Hue", Source: "user", State: "loaded",
			Devices: []string{"dev-lamp"}, Entities: []string{"light.kitchen"}},
		{EntryID: "mqtt-1", Domain: "mqtt", Title: "Mosquitto", Source: "user", State: "loaded",
			Devices: []string{"dev-hub"}, Entities: []string{"sensor.hub_temperature"}},
	}
	if diff := cmp.Diff(want, doc.Integrations); diff != "" {
		t.Errorf("integrations mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildWithoutOptionalCapabilities(t *testing.T) {
	mem := registry.NewMemory(loadHome(t))
	mem.Disable(registry.CapFloors)
	mem.Disable(registry.CapConfigEntries)
	mem.Disable(registry.CapEntitiesForDevice)

	doc, stats, err := newTestExporter(DefaultExportOptions()).Build(context.Background(), mem)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(doc.Floors) != 1 || doc.Floors[0].FloorID != nil || len(doc.Floors[0].Areas) != 3 {
		t.Errorf("floors = %+v, want only the unassigned bucket with all areas", doc.Floors)
	}
	if stats.Entities != 4 {
		t.Errorf("entities = %d, want 4", stats.Entities)
	}
	// Unknown entries are still listed, without metadata.
	if len(doc.Integrations) != 2 || doc.Integrations[0].Domain != "" {
		t.Errorf("integrations = %+v", doc.Integrations)
	}
}

func TestBuildUnassignedOmittedWhenEmpty(t *testing.T) {
	data := loadHome(t)
	data.Areas[2].FloorID = registry.Ptr("ground")
	doc, _, err := newTestExporter(DefaultExportOptions()).Build(context.Background(), registry.NewMemory(data))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	for _, f := range doc.Floors {
		if f.FloorID == nil {
			t.Fatal("unassigned bucket present although every area has a floor")
		}
	}
}

func TestBuildDanglingReferences(t *testing.T) {
	data := registry.Data{
		Areas: []registry.Area{{ID: "office", Name: "Office"}},
		Devices: []registry.Device{
			{ID: "dev-1", Name: registry.Ptr("Printer"), AreaID: registry.Ptr("gone")},
		},
		Entities: []registry.Entity{
			{EntityID: "sensor.ink", DeviceID: registry.Ptr("dev-1")},
			{EntityID: "sensor.orphan", DeviceID: registry.Ptr("dev-missing"), AreaID: registry.Ptr("office")},
			{EntityID: "sensor.lost", DeviceID: registry.Ptr("dev-missing")},
		},
	}
	doc, _, err := newTestExporter(DefaultExportOptions()).Build(context.Background(), registry.NewMemory(data))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if diff := cmp.Diff([]string{"dev-1"}, deviceIDs(doc.Devices)); diff != "" {
		t.Errorf("root devices mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"sensor.orphan"}, entityIDs(doc.Floors[0].Areas[0].Entities)); diff != "" {
		t.Errorf("office entities mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"sensor.lost"}, entityIDs(doc.Entities)); diff != "" {
		t.Errorf("root entities mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildDisabledEntities(t *testing.T) {
	data := loadHome(t)
	data.Entities[0].DisabledBy = registry.Ptr("user")

	t.Run("included by default", func(t *testing.T) {
		doc, stats, err := newTestExporter(DefaultExportOptions()).Build(context.Background(), registry.NewMemory(data))
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		if stats.Entities != 4 || stats.DisabledExcluded != 0 {
			t.Errorf("stats = %+v", stats)
		}
		if !doc.Floors[0].Areas[0].Devices[0].Entities[0].Disabled {
			t.Error("disabled flag not exported")
		}
	})

	t.Run("excluded", func(t *testing.T) {
		opts := DefaultExportOptions()
		opts.IncludeDisabledEntities = false
		doc, stats, err := newTestExporter(opts).Build(context.Background(), registry.NewMemory(data))
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		if stats.Entities != 3 || stats.DisabledExcluded != 1 {
			t.Errorf("stats = %+v", stats)
		}
		if got := len(doc.Floors[0].Areas[0].Devices[0].Entities); got != 0 {
			t.Errorf("lamp entities = %d, want 0", got)
		}
	})
}

func TestBuildFloorFromAreaName(t *testing.T) {
	data := registry.Data{
		Areas: []registry.Area{
			{ID: "a1", Name: "2F - Kitchen"},
			{ID: "a2", Name: "1F-Hall"},
			{ID: "a3", Name: "Garden"},
			{ID: "a4", Name: "2F - Study"},
		},
	}
	opts := DefaultExportOptions()
	opts.FloorFromAreaName = true
	doc, stats, err := newTestExporter(opts).Build(context.Background(), registry.NewMemory(data))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if stats.Floors != 2 {
		t.Errorf("floors = %d, want 2", stats.Floors)
	}

	type floor struct {
		ID    string
		Areas []string
	}
	var got []floor
	for _, f := range doc.Floors {
		fl := floor{ID: registry.Value(f.FloorID)}
		for _, a := range f.Areas {
			fl.Areas = append(fl.Areas, a.Name)
		}
		got = append(got, fl)
	}
	want := []floor{
		{ID: "2f", Areas: []string{"Kitchen", "Study"}},
		{ID: "1f", Areas: []string{"Hall"}},
		{ID: "", Areas: []string{"Garden"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("floors mismatch (-want +got):\n%s", diff)
	}

	t.Run("registry floors win", func(t *testing.T) {
		mem := registry.NewMemory(loadHome(t))
		doc, _, err := newTestExporter(opts).Build(context.Background(), mem)
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		if doc.Floors[0].Name != "Ground Floor" {
			t.Errorf("first floor = %q, want Ground Floor", doc.Floors[0].Name)
		}
	})
}

func TestMarshal(t *testing.T) {
	doc := &Document{
		SchemaVersion: SchemaVersion,
		GeneratedAt:   fixedTime,
		Floors:        []FloorNode{},
		Devices:       []DeviceNode{},
		Entities:      []EntityNode{{EntityID: "light.a", Name: registry.Ptr("A & B"), Labels: []string{}}},
		Integrations:  []IntegrationNode{},
	}

	compact, err := doc.Marshal(false)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(compact), "\n") {
		t.Errorf("compact output has newlines: %s", compact)
	}
	if !strings.Contains(string(compact), `"name":"A & B"`) {
		t.Errorf("HTML characters escaped: %s", compact)
	}

	pretty, err := doc.Marshal(true)
	if err != nil {
		t.Fatalf("Marshal(pretty) error = %v", err)
	}
	if !strings.Contains(string(pretty), "\n  \"schema_version\": 1") {
		t.Errorf("pretty output not indented: %s", pretty)
	}

	var back map[string]any
	if err := json.Unmarshal(compact, &back); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if _, ok := back["generated_at"]; !ok {
		t.Error("generated_at missing")
	}
}

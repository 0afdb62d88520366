package registry_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/infrastructure/database"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/registry"
	_ "github.com/johnschieferleuhlenbrock/ha-snapshot/migrations"
)

func setupStore(t *testing.T) *registry.SQLiteStore {
	t.Helper()

	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return registry.NewSQLiteStore(db.DB)
}

func seedHome(t *testing.T, store *registry.SQLiteStore) registry.Data {
	t.Helper()
	data, err := registry.LoadFixture(filepath.Join("testdata", "home.yaml"))
	if err != nil {
		t.Fatalf("LoadFixture() error = %v", err)
	}
	if err := store.Seed(context.Background(), data); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	return data
}

func TestSQLiteStore_SeedAndList(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	seedHome(t, store)

	floors, err := store.ListFloors(ctx)
	if err != nil {
		t.Fatalf("ListFloors() error = %v", err)
	}
	if len(floors) != 2 || floors[0].ID != "ground" {
		t.Errorf("ListFloors() = %+v, want ground first", floors)
	}

	areas, err := store.ListAreas(ctx)
	if err != nil {
		t.Fatalf("ListAreas() error = %v", err)
	}
	wantAreas := []string{"bedroom", "garage", "kitchen"}
	var gotAreas []string
	for _, a := range areas {
		gotAreas = append(gotAreas, a.ID)
	}
	if diff := cmp.Diff(wantAreas, gotAreas); diff != "" {
		t.Errorf("ListAreas() mismatch (-want +got):\n%s", diff)
	}

	devices, err := store.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("ListDevices() len = %d, want 3", len(devices))
	}
	for _, d := range devices {
		if d.ID == "dev-lamp" {
			if diff := cmp.Diff([]string{"hue-1"}, d.ConfigEntries); diff != "" {
				t.Errorf("config_entries mismatch (-want +got):\n%s", diff)
			}
			if registry.Value(d.SWVersion) != "1.88.1" {
				t.Errorf("sw_version = %q, want 1.88.1", registry.Value(d.SWVersion))
			}
		}
	}

	owned, err := store.ListEntitiesForDevice(ctx, "dev-hub")
	if err != nil {
		t.Fatalf("ListEntitiesForDevice() error = %v", err)
	}
	if len(owned) != 1 || owned[0].EntityID != "sensor.hub_temperature" {
		t.Errorf("ListEntitiesForDevice(dev-hub) = %+v", owned)
	}
	if registry.Value(owned[0].UnitOfMeasurement) != "°C" {
		t.Errorf("unit = %q, want °C", registry.Value(owned[0].UnitOfMeasurement))
	}

	entries, err := store.ListConfigEntries(ctx)
	if err != nil {
		t.Fatalf("ListConfigEntries() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Domain != "hue" {
		t.Errorf("ListConfigEntries() = %+v", entries)
	}
}

func TestSQLiteStore_SeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	data := seedHome(t, store)

	if err := store.Seed(ctx, data); err != nil {
		t.Fatalf("second Seed() error = %v", err)
	}
	entities, err := store.ListEntities(ctx)
	if err != nil {
		t.Fatalf("ListEntities() error = %v", err)
	}
	if len(entities) != len(data.Entities) {
		t.Errorf("ListEntities() len = %d, want %d", len(entities), len(data.Entities))
	}
}

func TestSQLiteStore_UpdateEntity(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	seedHome(t, store)

	upd := registry.EntityUpdate{
		NameSet:   true,
		Name:      registry.Ptr("Kitchen Lamp"),
		LabelsSet: true,
		Labels:    []string{"lighting", "downstairs"},
	}
	if _, err := store.UpdateEntity(ctx, "light.kitchen", upd); err != nil {
		t.Fatalf("UpdateEntity() error = %v", err)
	}

	got, err := store.GetEntity(ctx, "light.kitchen")
	if err != nil {
		t.Fatalf("GetEntity() error = %v", err)
	}
	if registry.Value(got.Name) != "Kitchen Lamp" {
		t.Errorf("name = %q, want Kitchen Lamp", registry.Value(got.Name))
	}
	if diff := cmp.Diff([]string{"downstairs", "lighting"}, got.Labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
	if registry.Value(got.DeviceID) != "dev-lamp" || registry.Value(got.Platform) != "hue" {
		t.Errorf("untouched fields changed: %+v", got)
	}

	if _, err := store.UpdateEntity(ctx, "light.kitchen", registry.EntityUpdate{NameSet: true}); err != nil {
		t.Fatalf("UpdateEntity(clear) error = %v", err)
	}
	if got, _ := store.GetEntity(ctx, "light.kitchen"); got.Name != nil {
		t.Errorf("name = %q, want cleared", *got.Name)
	}

	_, err = store.UpdateEntity(ctx, "light.nonexistent", upd)
	if !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("UpdateEntity(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_SeedRejectsInvalid(t *testing.T) {
	store := setupStore(t)
	bad := registry.Data{Entities: []registry.Entity{{EntityID: ""}}}
	if err := store.Seed(context.Background(), bad); !errors.Is(err, registry.ErrInvalidFixture) {
		t.Errorf("Seed() error = %v, want ErrInvalidFixture", err)
	}
}

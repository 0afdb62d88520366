package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// SQLiteStore is a writable registry kept in the service database. It
// backs standalone deployments that have no live host to talk to.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed registry.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// ListFloors implements FloorLister.
func (s *SQLiteStore) ListFloors(ctx context.Context) ([]Floor, error) {
	const query = `SELECT floor_id, name, level, icon FROM floors
		ORDER BY level IS NULL, level, name`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying floors: %w", err)
	}
	defer rows.Close()

	floors := []Floor{}
	for rows.Next() {
		var f Floor
		var level sql.NullInt64
		var icon sql.NullString
		if err := rows.Scan(&f.ID, &f.Name, &level, &icon); err != nil {
			return nil, fmt.Errorf("scanning floor row: %w", err)
		}
		if level.Valid {
			f.Level = Ptr(int(level.Int64))
		}
		f.Icon = strPtr(icon)
		floors = append(floors, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating floor rows: %w", err)
	}
	return floors, nil
}

// ListAreas implements Source.
func (s *SQLiteStore) ListAreas(ctx context.Context) ([]Area, error) {
	const query = `SELECT area_id, name, floor_id, picture, icon FROM areas ORDER BY name`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying areas: %w", err)
	}
	defer rows.Close()

	areas := []Area{}
	for rows.Next() {
		var a Area
		var floorID, picture, icon sql.NullString
		if err := rows.Scan(&a.ID, &a.Name, &floorID, &picture, &icon); err != nil {
			return nil, fmt.Errorf("scanning area row: %w", err)
		}
		a.FloorID = strPtr(floorID)
		a.Picture = strPtr(picture)
		a.Icon = strPtr(icon)
		areas = append(areas, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating area rows: %w", err)
	}
	return areas, nil
}

// ListDevices implements Source.
func (s *SQLiteStore) ListDevices(ctx context.Context) ([]Device, error) {
	const query = `SELECT id, name, name_by_user, manufacturer, model, sw_version, hw_version,
		area_id, config_entries, primary_config_entry, disabled_by
		FROM devices ORDER BY COALESCE(name_by_user, name, ''), id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		var d Device
		var name, nameByUser, manufacturer, model, swVersion, hwVersion sql.NullString
		var areaID, primary, disabledBy sql.NullString
		var entries string
		if err := rows.Scan(&d.ID, &name, &nameByUser, &manufacturer, &model, &swVersion, &hwVersion,
			&areaID, &entries, &primary, &disabledBy); err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		d.Name = strPtr(name)
		d.NameByUser = strPtr(nameByUser)
		d.Manufacturer = strPtr(manufacturer)
		d.Model = strPtr(model)
		d.SWVersion = strPtr(swVersion)
		d.HWVersion = strPtr(hwVersion)
		d.AreaID = strPtr(areaID)
		d.PrimaryConfigEntry = strPtr(primary)
		d.DisabledBy = strPtr(disabledBy)
		if err := json.Unmarshal([]byte(entries), &d.ConfigEntries); err != nil {
			return nil, fmt.Errorf("decoding config_entries for device %s: %w", d.ID, err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device rows: %w", err)
	}
	return devices, nil
}

const entityColumns = `entity_id, unique_id, platform, name, original_name, labels,
	device_class, unit_of_measurement, icon, device_id, area_id, config_entry_id, disabled_by`

// ListEntities implements Source.
func (s *SQLiteStore) ListEntities(ctx context.Context) ([]Entity, error) {
	return s.queryEntities(ctx, `SELECT `+entityColumns+` FROM entities ORDER BY entity_id`)
}

// ListEntitiesForDevice implements DeviceEntityLister.
func (s *SQLiteStore) ListEntitiesForDevice(ctx context.Context, deviceID string) ([]Entity, error) {
	return s.queryEntities(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE device_id = ? ORDER BY entity_id`, deviceID)
}

// GetEntity returns a single entity by id.
func (s *SQLiteStore) GetEntity(ctx context.Context, entityID string) (Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE entity_id = ?`, entityID)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, fmt.Errorf("entity %s: %w", entityID, ErrNotFound)
	}
	if err != nil {
		return Entity{}, err
	}
	return e, nil
}

// ListConfigEntries implements ConfigEntryLister.
func (s *SQLiteStore) ListConfigEntries(ctx context.Context) ([]ConfigEntry, error) {
	const query = `SELECT entry_id, domain, title, source, state FROM config_entries ORDER BY domain, title`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying config entries: %w", err)
	}
	defer rows.Close()

	entries := []ConfigEntry{}
	for rows.Next() {
		var c ConfigEntry
		if err := rows.Scan(&c.EntryID, &c.Domain, &c.Title, &c.Source, &c.State); err != nil {
			return nil, fmt.Errorf("scanning config entry row: %w", err)
		}
		entries = append(entries, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating config entry rows: %w", err)
	}
	return entries, nil
}

// UpdateEntity implements EntityUpdater. Only name and labels are written.
func (s *SQLiteStore) UpdateEntity(ctx context.Context, entityID string, upd EntityUpdate) (Entity, error) {
	e, err := s.GetEntity(ctx, entityID)
	if err != nil {
		return Entity{}, err
	}
	upd.Apply(&e)

	labels, err := encodeList(e.Labels)
	if err != nil {
		return Entity{}, err
	}
	const query = `UPDATE entities SET name = ?, labels = ?,
		updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE entity_id = ?`
	result, err := s.db.ExecContext(ctx, query, nullStr(e.Name), labels, entityID)
	if err != nil {
		return Entity{}, fmt.Errorf("updating entity %s: %w", entityID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return Entity{}, fmt.Errorf("entity %s: %w", entityID, ErrNotFound)
	}
	return e, nil
}

// Seed upserts every record of data in one transaction. Parents are
// written before children so foreign keys resolve.
func (s *SQLiteStore) Seed(ctx context.Context, data Data) error {
	if err := data.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting seed transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	for _, c := range data.ConfigEntries {
		const query = `INSERT INTO config_entries (entry_id, domain, title, source, state)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(entry_id) DO UPDATE SET domain = excluded.domain, title = excluded.title,
				source = excluded.source, state = excluded.state`
		if _, err := tx.ExecContext(ctx, query, c.EntryID, c.Domain, c.Title, c.Source, c.State); err != nil {
			return fmt.Errorf("upserting config entry %s: %w", c.EntryID, err)
		}
	}

	for _, f := range data.Floors {
		var level sql.NullInt64
		if f.Level != nil {
			level = sql.NullInt64{Int64: int64(*f.Level), Valid: true}
		}
		const query = `INSERT INTO floors (floor_id, name, level, icon) VALUES (?, ?, ?, ?)
			ON CONFLICT(floor_id) DO UPDATE SET name = excluded.name, level = excluded.level,
				icon = excluded.icon, updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')`
		if _, err := tx.ExecContext(ctx, query, f.ID, f.Name, level, nullStr(f.Icon)); err != nil {
			return fmt.Errorf("upserting floor %s: %w", f.ID, err)
		}
	}

	for _, a := range data.Areas {
		const query = `INSERT INTO areas (area_id, name, floor_id, picture, icon) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(area_id) DO UPDATE SET name = excluded.name, floor_id = excluded.floor_id,
				picture = excluded.picture, icon = excluded.icon,
				updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')`
		if _, err := tx.ExecContext(ctx, query,
			a.ID, a.Name, nullStr(a.FloorID), nullStr(a.Picture), nullStr(a.Icon)); err != nil {
			return fmt.Errorf("upserting area %s: %w", a.ID, err)
		}
	}

	for _, d := range data.Devices {
		entries, err := encodeList(d.ConfigEntries)
		if err != nil {
			return err
		}
		const query = `INSERT INTO devices (id, name, name_by_user, manufacturer, model, sw_version,
				hw_version, area_id, config_entries, primary_config_entry, disabled_by)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, name_by_user = excluded.name_by_user,
				manufacturer = excluded.manufacturer, model = excluded.model,
				sw_version = excluded.sw_version, hw_version = excluded.hw_version,
				area_id = excluded.area_id, config_entries = excluded.config_entries,
				primary_config_entry = excluded.primary_config_entry,
				disabled_by = excluded.disabled_by,
				updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')`
		if _, err := tx.ExecContext(ctx, query,
			d.ID, nullStr(d.Name), nullStr(d.NameByUser), nullStr(d.Manufacturer), nullStr(d.Model),
			nullStr(d.SWVersion), nullStr(d.HWVersion), nullStr(d.AreaID), entries,
			nullStr(d.PrimaryConfigEntry), nullStr(d.DisabledBy)); err != nil {
			return fmt.Errorf("upserting device %s: %w", d.ID, err)
		}
	}

	for _, e := range data.Entities {
		labels, err := encodeList(NormalizeLabels(e.Labels))
		if err != nil {
			return err
		}
		const query = `INSERT INTO entities (` + entityColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(entity_id) DO UPDATE SET unique_id = excluded.unique_id,
				platform = excluded.platform, name = excluded.name,
				original_name = excluded.original_name, labels = excluded.labels,
				device_class = excluded.device_class,
				unit_of_measurement = excluded.unit_of_measurement, icon = excluded.icon,
				device_id = excluded.device_id, area_id = excluded.area_id,
				config_entry_id = excluded.config_entry_id, disabled_by = excluded.disabled_by,
				updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')`
		if _, err := tx.ExecContext(ctx, query,
			e.EntityID, nullStr(e.UniqueID), nullStr(e.Platform), nullStr(e.Name),
			nullStr(e.OriginalName), labels, nullStr(e.DeviceClass), nullStr(e.UnitOfMeasurement),
			nullStr(e.Icon), nullStr(e.DeviceID), nullStr(e.AreaID), nullStr(e.ConfigEntryID),
			nullStr(e.DisabledBy)); err != nil {
			return fmt.Errorf("upserting entity %s: %w", e.EntityID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing seed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) queryEntities(ctx context.Context, query string, args ...any) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	entities := []Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entity rows: %w", err)
	}
	return entities, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner) (Entity, error) {
	var e Entity
	var uniqueID, platform, name, originalName, deviceClass, unit, icon sql.NullString
	var deviceID, areaID, configEntryID, disabledBy sql.NullString
	var labels string
	err := row.Scan(&e.EntityID, &uniqueID, &platform, &name, &originalName, &labels,
		&deviceClass, &unit, &icon, &deviceID, &areaID, &configEntryID, &disabledBy)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, err
	}
	if err != nil {
		return Entity{}, fmt.Errorf("scanning entity: %w", err)
	}
	e.UniqueID = strPtr(uniqueID)
	e.Platform = strPtr(platform)
	e.Name = strPtr(name)
	e.OriginalName = strPtr(originalName)
	e.DeviceClass = strPtr(deviceClass)
	e.UnitOfMeasurement = strPtr(unit)
	e.Icon = strPtr(icon)
	e.DeviceID = strPtr(deviceID)
	e.AreaID = strPtr(areaID)
	e.ConfigEntryID = strPtr(configEntryID)
	e.DisabledBy = strPtr(disabledBy)
	if err := json.Unmarshal([]byte(labels), &e.Labels); err != nil {
		return Entity{}, fmt.Errorf("decoding labels for %s: %w", e.EntityID, err)
	}
	return e, nil
}

// nullStr converts a *string to a sql.NullString for nullable columns.
func nullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return Ptr(ns.String)
}

func encodeList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encoding list: %w", err)
	}
	return string(b), nil
}

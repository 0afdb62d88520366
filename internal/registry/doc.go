// Package registry models the host platform's floor, area, device and
// entity registries as typed records.
//
// Backends implement Source and any of the optional capability
// interfaces (FloorLister, ConfigEntryLister, DeviceEntityLister,
// EntityUpdater). Callers go through Floors, ConfigEntries and
// EntitiesForDevice, which return an empty collection instead of an
// error when a backend lacks the relation.
//
// Two local backends live here: Memory, loaded from a YAML fixture, and
// SQLiteStore, kept in the service database. The live Home Assistant
// backend is in package homeassistant.
package registry

// Package homeassistant talks to a Home Assistant instance over its
// WebSocket API.
//
// Client handles the auth handshake and id-correlated commands. Registry
// builds on it to serve the floor, area, device, entity and config entry
// registries to the exporter, to apply entity name and label updates, and
// to raise persistent notifications.
package homeassistant

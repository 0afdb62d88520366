// Package service exposes the ha_snapshot.export_data and
// ha_snapshot.import_data calls.
//
// A call arrives as loosely typed call data from the HTTP API or an MQTT
// message, is decoded into a typed request and runs to completion. Each
// run is recorded in the history, counted in metrics and published as an
// event. Notifications are only sent for successful runs; errors are
// returned to the caller and never turned into notifications.
package service

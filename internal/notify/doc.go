// Package notify delivers the persistent notifications raised after an
// export or import.
//
// A Notification can go to Home Assistant (homeassistant.Registry), to
// MQTT, and to the local Store that backs the panel. Fanout sends one
// notification to all of them. Errors are never reported through this
// channel; it only carries success summaries.
package notify

// Package api implements the HTTP surface of HA Snapshot.
//
// This package provides:
//   - Service call endpoint for ha_snapshot.export_data and import_data
//   - Shorthand export and import routes, with multipart upload for imports
//   - Run history and notification listings
//   - Read-only registry listings and health checks
//   - The configuration panel and the public download directory
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Errors
//
// Service errors map onto status codes: parse and configuration errors
// are 400, an unknown service is 404, an unavailable registry is 503 and
// file write failures are 500. The body is always a JSON Error.
//
// # Degradation
//
// Run history, the notification store and metrics are optional. Their
// routes answer 503 when the component is not configured.
package api

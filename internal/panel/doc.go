// Package panel serves the export/import web page.
//
// The page is a plain HTML form pair embedded with go:embed, so the
// binary has no runtime dependency on asset files. It talks to the HTTP
// API under /api/v1.
package panel

// Package snapshot exports the Home Assistant registries as one JSON tree
// and imports edited trees back.
//
// An export walks floors, their areas, the devices in each area and the
// entities of each device. Devices with neither a name nor a manufacturer
// are treated as back-of-house and dropped together with their entities.
// Everything else is kept: areas without a floor go to an "Unassigned"
// bucket, and devices or entities that cannot be placed are listed at the
// root.
//
// An import flattens any JSON document into entity records and writes
// back name and label differences for the entities that exist. Nothing
// else is ever changed.
//
// Usage:
//
//	exp := snapshot.NewExporter(snapshot.DefaultExportOptions())
//	res, err := exp.Export(ctx, src, &snapshot.FileWriter{Dir: wwwDir}, snapshot.DefaultFilename)
//
//	result, err := snapshot.NewImporter().Import(ctx, src, raw, snapshot.ImportOptions{})
package snapshot

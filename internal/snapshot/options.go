package snapshot

import "regexp"

// DefaultFilename is the export file name when none is given.
const DefaultFilename = "ha_snapshot_data.json"

// floorPattern splits area names such as "2F - Kitchen" into a floor
// label and the area name.
var floorPattern = regexp.MustCompile(`^(\w+)\s*-\s*(.*)$`)

// ExportOptions tune the exported tree.
type ExportOptions struct {
	// SkipNamelessDevices drops devices with neither a name nor a
	// manufacturer, together with their entities.
	SkipNamelessDevices bool

	// IncludeDisabledEntities keeps entities disabled in the registry.
	// When false they are left out and counted.
	IncludeDisabledEntities bool

	// FloorFromAreaName derives floors from area names when the
	// registry has no floors.
	FloorFromAreaName bool

	// Pretty indents the output. Exports are compact by default.
	Pretty bool
}

// DefaultExportOptions returns the options used when none are configured.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{
		SkipNamelessDevices:     true,
		IncludeDisabledEntities: true,
	}
}

// ImportOptions tune an import.
type ImportOptions struct {
	// DryRun computes the changes without applying them.
	DryRun bool
}

package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementRuns is the measurement snapshot runs are recorded under.
const MeasurementRuns = "snapshot_runs"

// RunPoint is one finished export or import.
type RunPoint struct {
	Operation string
	Status    string
	Source    string
	Duration  time.Duration
	Bytes     int64
	Total     int
	Updated   int
	Unchanged int
	Skipped   int
	Failed    int
	At        time.Time
}

// WriteRun records a finished run. Tags stay low-cardinality; counts go
// into fields.
func (c *Client) WriteRun(run RunPoint) {
	at := run.At
	if at.IsZero() {
		at = time.Now()
	}
	c.WritePointWithTime(MeasurementRuns,
		map[string]string{
			"operation": run.Operation,
			"status":    run.Status,
			"source":    run.Source,
		},
		map[string]any{
			"duration_ms": run.Duration.Milliseconds(),
			"bytes":       run.Bytes,
			"total":       run.Total,
			"updated":     run.Updated,
			"unchanged":   run.Unchanged,
			"skipped":     run.Skipped,
			"failed":      run.Failed,
		},
		at,
	)
}

// WritePoint writes a point stamped with the current time.
//
//	client.WritePoint("registry_size",
//	    map[string]string{"backend": "homeassistant"},
//	    map[string]any{"entities": 412, "devices": 96})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}

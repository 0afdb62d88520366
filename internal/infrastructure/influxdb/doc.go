// Package influxdb records snapshot runs as InfluxDB time series.
//
// Each finished export or import becomes one point in the snapshot_runs
// measurement, tagged by operation, status and source, with the run
// counts as fields. Writes are batched per the influxdb section of
// config.yaml (batch_size, flush_interval).
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without time series
//	}
//	defer client.Close()
//
//	client.WriteRun(influxdb.RunPoint{Operation: "export_data", Status: "success"})
package influxdb

// Package metrics records export and import runs to Prometheus and,
// when configured, to InfluxDB.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/infrastructure/influxdb"
)

// Run is a finished export or import as seen by metrics.
type Run struct {
	Operation string
	Status    string
	Source    string
	Duration  time.Duration
	Bytes     int
	Total     int
	Updated   int
	Unchanged int
	Skipped   int
	Failed    int
	At        time.Time
}

// Recorder receives finished runs.
type Recorder interface {
	Record(run Run)
}

// Multi fans a run out to every non-nil recorder.
type Multi []Recorder

// Record implements Recorder.
func (m Multi) Record(run Run) {
	for _, r := range m {
		if r != nil {
			r.Record(run)
		}
	}
}

// Prometheus exposes run counters and durations.
type Prometheus struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	entities    *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
	exportBytes prometheus.Gauge
}

// NewPrometheus creates the collectors and registers them, plus the Go
// runtime and process collectors, on a private registry.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hasnapshot_runs_total",
			Help: "Export and import runs by outcome",
		}, []string{"operation", "status", "source"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hasnapshot_run_duration_seconds",
			Help:    "Run duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		entities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hasnapshot_import_entities_total",
			Help: "Imported entity records by outcome",
		}, []string{"outcome"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hasnapshot_last_success_timestamp_seconds",
			Help: "Last successful run (epoch seconds)",
		}, []string{"operation"}),
		exportBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hasnapshot_export_bytes",
			Help: "Size of the last written export",
		}),
	}
	p.registry.MustRegister(
		p.runs, p.duration, p.entities, p.lastSuccess, p.exportBytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Registry returns the registry the collectors live on.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Record implements Recorder.
func (p *Prometheus) Record(run Run) {
	p.runs.WithLabelValues(run.Operation, run.Status, run.Source).Inc()
	p.duration.WithLabelValues(run.Operation).Observe(run.Duration.Seconds())
	if run.Status != "succeeded" {
		return
	}

	at := run.At
	if at.IsZero() {
		at = time.Now()
	}
	p.lastSuccess.WithLabelValues(run.Operation).Set(float64(at.Unix()))

	switch run.Operation {
	case "export_data":
		p.exportBytes.Set(float64(run.Bytes))
	case "import_data":
		p.entities.WithLabelValues("updated").Add(float64(run.Updated))
		p.entities.WithLabelValues("unchanged").Add(float64(run.Unchanged))
		p.entities.WithLabelValues("skipped").Add(float64(run.Skipped))
		p.entities.WithLabelValues("failed").Add(float64(run.Failed))
	}
}

// RunWriter is the part of the InfluxDB client Influx needs.
type RunWriter interface {
	WriteRun(run influxdb.RunPoint)
}

// Influx writes every run as a point in the snapshot_runs measurement.
type Influx struct {
	w RunWriter
}

// NewInflux wraps w. A nil writer is an error so a missing client is
// caught at startup.
func NewInflux(w RunWriter) (*Influx, error) {
	if w == nil {
		return nil, errors.New("metrics: influx writer is required")
	}
	return &Influx{w: w}, nil
}

// Record implements Recorder.
func (i *Influx) Record(run Run) {
	i.w.WriteRun(influxdb.RunPoint{
		Operation: run.Operation,
		Status:    run.Status,
		Source:    run.Source,
		Duration:  run.Duration,
		Bytes:     int64(run.Bytes),
		Total:     run.Total,
		Updated:   run.Updated,
		Unchanged: run.Unchanged,
		Skipped:   run.Skipped,
		Failed:    run.Failed,
		At:        run.At,
	})
}

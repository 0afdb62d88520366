package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/history"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/infrastructure/mqtt"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/metrics"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/notify"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/objectstore"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/registry"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/snapshot"
)

// Domain is the service domain calls are addressed to.
const Domain = "ha_snapshot"

// Service names.
const (
	ServiceExport = "export_data"
	ServiceImport = "import_data"
)

// Notification ids and titles.
const (
	ExportNotificationID    = Domain + "_export_data"
	ExportNotificationTitle = "HA Snapshot Created"
	ImportNotificationID    = Domain + "_import_data"
	ImportNotificationTitle = "HA Snapshot Imported"
)

// Sources recorded in run history.
const (
	SourceAPI  = "api"
	SourceMQTT = "mqtt"
)

// ErrUnknownService is returned for calls to a service that does not exist.
var ErrUnknownService = errors.New("service: unknown service")

// Logger is the logging surface of the service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventPublisher publishes run events. *mqtt.Client satisfies it.
type EventPublisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// Config holds the service settings.
type Config struct {
	// PublicPath is the URL prefix the output directory is served under.
	PublicPath string

	// DefaultFilename is used when an export names no file.
	DefaultFilename string

	// MaxImportSize caps import documents in bytes. Zero means no limit.
	MaxImportSize int64

	Export snapshot.ExportOptions
}

// Deps are the collaborators of a Service. Source and Writer are
// required; the rest are optional.
type Deps struct {
	Source   registry.Source
	Writer   *snapshot.FileWriter
	Notifier notify.Notifier
	History  history.Repository
	Metrics  metrics.Recorder
	Events   EventPublisher
	Mirror   objectstore.Store
	Logger   Logger
}

// Service runs export_data and import_data calls. Calls run to
// completion synchronously; overlapping exports to the same file are not
// coordinated and the last writer wins.
type Service struct {
	cfg      Config
	deps     Deps
	exporter *snapshot.Exporter
	importer *snapshot.Importer
	logger   Logger
	now      func() time.Time
}

// New creates a service.
func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Source == nil {
		return nil, errors.New("service: registry source is required")
	}
	if deps.Writer == nil {
		return nil, errors.New("service: file writer is required")
	}
	if cfg.DefaultFilename == "" {
		cfg.DefaultFilename = snapshot.DefaultFilename
	}
	if cfg.PublicPath == "" {
		cfg.PublicPath = "/local"
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	exporter := snapshot.NewExporter(cfg.Export)
	exporter.SetLogger(logger)
	importer := snapshot.NewImporter()
	importer.SetLogger(logger)

	return &Service{
		cfg:      cfg,
		deps:     deps,
		exporter: exporter,
		importer: importer,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Source returns the registry the service reads from.
func (s *Service) Source() registry.Source {
	return s.deps.Source
}

// DownloadURL returns the public link of an export file.
func (s *Service) DownloadURL(filename string) string {
	return path.Join(s.cfg.PublicPath, filename)
}

// ExportResponse is the result of export_data.
type ExportResponse struct {
	RunID    string               `json:"run_id,omitempty"`
	Filename string               `json:"filename"`
	URL      string               `json:"url"`
	Bytes    int                  `json:"bytes"`
	Stats    snapshot.ExportStats `json:"stats"`
	Mirrored bool                 `json:"mirrored"`
}

// ImportResponse is the result of import_data.
type ImportResponse struct {
	RunID string `json:"run_id,omitempty"`
	*snapshot.ImportResult
	Limitations string `json:"limitations"`
}

// Call dispatches ha_snapshot.<service> with loosely typed call data.
func (s *Service) Call(ctx context.Context, service string, data map[string]any, source string) (any, error) {
	switch service {
	case ServiceExport:
		req, err := DecodeExport(data)
		if err != nil {
			return nil, err
		}
		return s.Export(ctx, req, source)
	case ServiceImport:
		req, err := DecodeImport(data)
		if err != nil {
			return nil, err
		}
		return s.Import(ctx, req, source)
	default:
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownService, Domain, service)
	}
}

// Export writes the snapshot file, mirrors it when a store is
// configured and optionally notifies with the download link.
func (s *Service) Export(ctx context.Context, req ExportRequest, source string) (*ExportResponse, error) {
	filename := req.Filename
	if filename == "" {
		filename = s.cfg.DefaultFilename
	}

	run := s.startRun(ctx, &history.Run{Operation: ServiceExport, Source: source, Filename: filename})

	res, err := s.exporter.Export(ctx, s.deps.Source, s.deps.Writer, filename)
	if err != nil {
		s.finishRun(ctx, run, err)
		return nil, err
	}

	resp := &ExportResponse{
		RunID:    run.ID,
		Filename: res.Filename,
		URL:      s.DownloadURL(res.Filename),
		Bytes:    res.Bytes,
		Stats:    res.Stats,
	}

	if s.deps.Mirror != nil {
		if err := s.deps.Mirror.Save(ctx, res.Filename, res.Data); err != nil {
			s.logger.Warn("mirroring export failed", "filename", res.Filename, "error", err)
			run.Details = map[string]any{"mirror_error": err.Error()}
		} else {
			resp.Mirrored = true
		}
	}

	run.Bytes = res.Bytes
	run.Total = res.Stats.Entities
	run.Skipped = res.Stats.SkippedDevices + res.Stats.SkippedEntities
	s.finishRun(ctx, run, nil)

	s.publishEvent(ServiceExport, run, resp)

	if req.Notify {
		s.notify(ctx, notify.Notification{
			ID:      ExportNotificationID,
			Title:   ExportNotificationTitle,
			Message: fmt.Sprintf("Your HA snapshot file is ready! [Click here to download](%s)", resp.URL),
		})
	}
	return resp, nil
}

// Import applies an import document and optionally notifies with the
// counts.
func (s *Service) Import(ctx context.Context, req ImportRequest, source string) (*ImportResponse, error) {
	run := s.startRun(ctx, &history.Run{Operation: ServiceImport, Source: source, DryRun: req.DryRun, Filename: req.ObjectKey})

	raw, err := s.importDocument(ctx, req)
	if err != nil {
		s.finishRun(ctx, run, err)
		return nil, err
	}

	result, err := s.importer.Import(ctx, s.deps.Source, raw, snapshot.ImportOptions{DryRun: req.DryRun})
	if result != nil {
		run.Total = result.Total
		run.Updated = result.Updated
		run.Unchanged = result.Unchanged
		run.Skipped = result.Skipped
		run.Failed = result.Failed
	}
	if err != nil {
		s.finishRun(ctx, run, err)
		return nil, err
	}
	run.Details = map[string]any{"changes": len(result.Changes)}
	s.finishRun(ctx, run, nil)

	resp := &ImportResponse{RunID: run.ID, ImportResult: result, Limitations: snapshot.LimitationsMessage}
	s.publishEvent(ServiceImport, run, resp)

	if req.Notify {
		s.notify(ctx, notify.Notification{
			ID:      ImportNotificationID,
			Title:   ImportNotificationTitle,
			Message: result.Summary(),
		})
	}
	return resp, nil
}

func (s *Service) importDocument(ctx context.Context, req ImportRequest) ([]byte, error) {
	switch {
	case req.ImportJSON != "" && req.ObjectKey != "":
		return nil, fmt.Errorf("%w: import_json and object_key are mutually exclusive", snapshot.ErrConfiguration)
	case req.ObjectKey != "":
		if s.deps.Mirror == nil {
			return nil, fmt.Errorf("%w: object store is not configured", snapshot.ErrConfiguration)
		}
		raw, err := s.deps.Mirror.Load(ctx, req.ObjectKey, s.cfg.MaxImportSize)
		if errors.Is(err, objectstore.ErrTooLarge) {
			return nil, fmt.Errorf("%w: import document %s: %w", snapshot.ErrConfiguration, req.ObjectKey, err)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: loading %s: %w", snapshot.ErrIO, req.ObjectKey, err)
		}
		return raw, nil
	case req.ImportJSON == "":
		return nil, fmt.Errorf("%w: import_json is required", snapshot.ErrConfiguration)
	default:
		return s.checkSize([]byte(req.ImportJSON))
	}
}

func (s *Service) checkSize(raw []byte) ([]byte, error) {
	if s.cfg.MaxImportSize > 0 && int64(len(raw)) > s.cfg.MaxImportSize {
		return nil, fmt.Errorf("%w: import document is %d bytes, limit is %d", snapshot.ErrConfiguration, len(raw), s.cfg.MaxImportSize)
	}
	return raw, nil
}

// startRun records the run. History failures are logged and the call
// goes ahead without a run id.
func (s *Service) startRun(ctx context.Context, run *history.Run) *history.Run {
	if run.Source == "" {
		run.Source = SourceAPI
	}
	run.StartedAt = s.now().UTC()
	run.Status = history.StatusRunning
	if s.deps.History == nil {
		return run
	}
	if err := s.deps.History.Start(ctx, run); err != nil {
		s.logger.Warn("recording run start failed", "operation", run.Operation, "error", err)
		run.ID = ""
	}
	return run
}

// finishRun stores the outcome, records metrics and, for failures,
// publishes the failed event.
func (s *Service) finishRun(ctx context.Context, run *history.Run, runErr error) {
	if runErr != nil {
		run.Error = runErr.Error()
	}
	finished := s.now().UTC()
	run.FinishedAt = &finished
	run.Status = history.StatusSucceeded
	if runErr != nil {
		run.Status = history.StatusFailed
	}

	if s.deps.History != nil && run.ID != "" {
		// Finish restamps FinishedAt and Status with the same rule.
		if err := s.deps.History.Finish(context.WithoutCancel(ctx), run); err != nil {
			s.logger.Warn("recording run finish failed", "run_id", run.ID, "error", err)
		}
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.Record(metrics.Run{
			Operation: run.Operation,
			Status:    run.Status,
			Source:    run.Source,
			Duration:  run.Duration(),
			Bytes:     run.Bytes,
			Total:     run.Total,
			Updated:   run.Updated,
			Unchanged: run.Unchanged,
			Skipped:   run.Skipped,
			Failed:    run.Failed,
			At:        finished,
		})
	}

	if runErr != nil {
		s.logger.Error("service call failed", "operation", run.Operation, "source", run.Source, "error", runErr)
		s.publishEvent(run.Operation, run, nil)
		return
	}
	s.logger.Info("service call finished", "operation", run.Operation, "source", run.Source,
		"duration_ms", run.Duration().Milliseconds())
}

// Event is published on hasnapshot/event/{service} after every run.
type Event struct {
	RunID     string    `json:"run_id,omitempty"`
	Operation string    `json:"operation"`
	Status    string    `json:"status"`
	Source    string    `json:"source"`
	Error     string    `json:"error,omitempty"`
	Result    any       `json:"result,omitempty"`
	At        time.Time `json:"at"`
}

func (s *Service) publishEvent(service string, run *history.Run, result any) {
	if s.deps.Events == nil {
		return
	}
	ev := Event{
		RunID:     run.ID,
		Operation: service,
		Status:    run.Status,
		Source:    run.Source,
		Error:     run.Error,
		Result:    result,
		At:        s.now().UTC(),
	}
	if err := s.deps.Events.PublishJSON(mqtt.Topics{}.Event(service), ev, false); err != nil {
		s.logger.Warn("publishing run event failed", "operation", service, "error", err)
	}
}

// notify sends a success notification. A failed delivery is logged and
// does not fail the call.
func (s *Service) notify(ctx context.Context, n notify.Notification) {
	if s.deps.Notifier == nil {
		s.logger.Debug("notification requested but no notifier configured", "notification_id", n.ID)
		return
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	if err := s.deps.Notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("sending notification failed", "notification_id", n.ID, "error", err)
	}
}

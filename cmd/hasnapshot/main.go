// HA Snapshot exports a Home Assistant registry as a floor, area, device
// and entity tree, and imports edited names and labels back.
//
// The service is reachable as ha_snapshot.export_data and
// ha_snapshot.import_data over HTTP and MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/johnschieferleuhlenbrock/ha-snapshot/migrations"

	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/api"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/history"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/homeassistant"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/infrastructure/config"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/infrastructure/database"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/infrastructure/influxdb"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/infrastructure/logging"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/infrastructure/mqtt"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/metrics"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/notify"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/objectstore"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/registry"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/service"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/snapshot"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "/etc/hasnapshot/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting HA Snapshot",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	checks := map[string]api.HealthChecker{"database": db}
	notifications := notify.NewStore(db.DB)
	notifiers := notify.Fanout{notifications}

	// Registry backend
	src, haSession, err := openRegistry(ctx, cfg, db, log)
	if err != nil {
		return err
	}
	if haSession != nil {
		defer func() {
			log.Info("closing Home Assistant connection")
			if closeErr := haSession.Close(); closeErr != nil {
				log.Error("error closing Home Assistant connection", "error", closeErr)
			}
		}()
		checks["home_assistant"] = healthFunc(haSession.Ping)
		if n, ok := src.(notify.Notifier); ok {
			notifiers = append(notifiers, n)
		}
	}

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		checks["mqtt"] = mqttClient
		notifiers = append(notifiers, notify.NewMQTT(mqttClient))
	} else {
		log.Info("MQTT disabled")
	}

	// Metrics
	var recorders metrics.Multi
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		recorders = append(recorders, prom)
	}

	// InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		influxRecorder, recErr := metrics.NewInflux(influxClient)
		if recErr != nil {
			return fmt.Errorf("creating InfluxDB recorder: %w", recErr)
		}
		recorders = append(recorders, influxRecorder)
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Object store mirror (optional)
	var mirror objectstore.Store
	if cfg.ObjectStore.Enabled {
		s3, storeErr := objectstore.NewS3Store(cfg.ObjectStore)
		if storeErr != nil {
			return fmt.Errorf("creating object store: %w", storeErr)
		}
		mirror = s3
		checks["object_store"] = s3
		log.Info("object store enabled",
			"endpoint", cfg.ObjectStore.Endpoint,
			"bucket", cfg.ObjectStore.Bucket,
		)
	}

	runs := history.NewSQLiteRepository(db.DB)
	deps := service.Deps{
		Source:   src,
		Writer:   &snapshot.FileWriter{Dir: cfg.Snapshot.WWWDir},
		Notifier: notifiers,
		History:  runs,
		Metrics:  recorders,
		Mirror:   mirror,
		Logger:   log.Component("snapshot"),
	}
	if mqttClient != nil {
		deps.Events = mqttClient
	}

	svc, err := service.New(serviceConfig(cfg), deps)
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	if mqttClient != nil {
		if subErr := svc.SubscribeMQTT(mqttClient); subErr != nil {
			return subErr
		}
		log.Info("listening for MQTT service calls", "topic", mqtt.Topics{}.AllServices())
	}

	apiDeps := api.Deps{
		Config:        cfg.API,
		Logger:        log.Component("api"),
		Service:       svc,
		Runs:          runs,
		Notifications: notifications,
		Checks:        checks,
		WWWDir:        cfg.Snapshot.WWWDir,
		PublicPath:    cfg.Snapshot.PublicPath,
		MaxImportSize: cfg.Snapshot.MaxImportSize,
		Version:       version,
	}
	if prom != nil {
		apiDeps.Metrics = prom.Handler()
		apiDeps.MetricsPath = cfg.Metrics.Path
	}

	server, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	log.Info("HA Snapshot stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HASNAPSHOT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HASNAPSHOT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// serviceConfig maps the snapshot section onto the service settings.
func serviceConfig(cfg *config.Config) service.Config {
	return service.Config{
		PublicPath:      cfg.Snapshot.PublicPath,
		DefaultFilename: cfg.Snapshot.DefaultFilename,
		MaxImportSize:   cfg.Snapshot.MaxImportSize,
		Export: snapshot.ExportOptions{
			SkipNamelessDevices:     cfg.Snapshot.SkipNamelessDevices,
			IncludeDisabledEntities: cfg.Snapshot.IncludeDisabledEntities,
			FloorFromAreaName:       cfg.Snapshot.FloorFromAreaName,
			Pretty:                  cfg.Snapshot.Pretty,
		},
	}
}

// openRegistry builds the configured registry backend. The session is
// returned when the backend holds a Home Assistant connection, so the
// caller can close it.
func openRegistry(ctx context.Context, cfg *config.Config, db *database.DB, log *logging.Logger) (registry.Source, *homeassistant.Session, error) {
	switch cfg.Registry.Backend {
	case config.BackendHomeAssistant:
		haCfg := homeassistant.Config{
			URL:            cfg.HomeAssistant.URL,
			Token:          cfg.HomeAssistant.Token,
			RequestTimeout: cfg.HomeAssistant.GetRequestTimeout(),
		}
		session, err := homeassistant.NewSession(ctx, func(ctx context.Context) (*homeassistant.Client, error) {
			return homeassistant.Dial(ctx, haCfg)
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to Home Assistant: %w", err)
		}
		session.SetLogger(log.Component("homeassistant"))
		log.Info("Home Assistant connected", "url", cfg.HomeAssistant.URL, "ha_version", session.Version())
		return homeassistant.NewRegistry(session), session, nil

	case config.BackendSQLite:
		store := registry.NewSQLiteStore(db.DB)
		if cfg.Registry.SeedFile != "" {
			data, err := registry.LoadFixture(cfg.Registry.SeedFile)
			if err != nil {
				return nil, nil, fmt.Errorf("loading registry seed: %w", err)
			}
			if err := store.Seed(ctx, data); err != nil {
				return nil, nil, fmt.Errorf("seeding registry: %w", err)
			}
			log.Info("registry seeded", "path", cfg.Registry.SeedFile, "entities", len(data.Entities))
		}
		return store, nil, nil

	case config.BackendFixture:
		data, err := registry.LoadFixture(cfg.Registry.FixturePath)
		if err != nil {
			return nil, nil, fmt.Errorf("loading registry fixture: %w", err)
		}
		log.Info("registry fixture loaded", "path", cfg.Registry.FixturePath, "entities", len(data.Entities))
		return registry.NewMemory(data), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown registry backend %q", cfg.Registry.Backend)
	}
}

// healthFunc adapts a check function to api.HealthChecker.
type healthFunc func(ctx context.Context) error

func (f healthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// healthCheck verifies every configured component and reports all
// failures together.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	var errs []error
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

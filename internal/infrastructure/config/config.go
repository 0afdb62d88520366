package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Registry backends understood by RegistryConfig.Backend.
const (
	BackendHomeAssistant = "homeassistant"
	BackendSQLite        = "sqlite"
	BackendFixture       = "fixture"
)

// Config is the root configuration structure for HA Snapshot.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Registry      RegistryConfig      `yaml:"registry"`
	HomeAssistant HomeAssistantConfig `yaml:"home_assistant"`
	Snapshot      SnapshotConfig      `yaml:"snapshot"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb"`
	ObjectStore   ObjectStoreConfig   `yaml:"object_store"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	API           APIConfig           `yaml:"api"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// RegistryConfig selects where floors, areas, devices and entities are read from.
type RegistryConfig struct {
	// Backend is one of "homeassistant", "sqlite" or "fixture".
	Backend string `yaml:"backend"`

	// FixturePath is the YAML registry file used by the fixture backend.
	FixturePath string `yaml:"fixture_path"`

	// SeedFile, when set, is loaded into the sqlite backend at startup.
	SeedFile string `yaml:"seed_file"`
}

// HomeAssistantConfig contains the WebSocket API connection settings.
type HomeAssistantConfig struct {
	URL            string `yaml:"url"`
	Token          string `yaml:"token"`
	RequestTimeout int    `yaml:"request_timeout"`
}

// SnapshotConfig controls export output and reconciliation behaviour.
type SnapshotConfig struct {
	// WWWDir is the publicly served directory export files are written to.
	WWWDir string `yaml:"www_dir"`

	// PublicPath is the URL prefix WWWDir is served under.
	PublicPath string `yaml:"public_path"`

	DefaultFilename         string `yaml:"default_filename"`
	SkipNamelessDevices     bool   `yaml:"skip_nameless_devices"`
	IncludeDisabledEntities bool   `yaml:"include_disabled_entities"`
	FloorFromAreaName       bool   `yaml:"floor_from_area_name"`
	Pretty                  bool   `yaml:"pretty"`

	// MaxImportSize caps the size of an uploaded import document in bytes.
	MaxImportSize int64 `yaml:"max_import_size"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// ObjectStoreConfig contains S3-compatible storage settings for export mirroring.
type ObjectStoreConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	Region        string `yaml:"region"`
	AccessKeyFile string `yaml:"access_key_file"`
	SecretKeyFile string `yaml:"secret_key_file"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// PanelDir serves the panel from disk instead of the embedded copy.
	PanelDir string `yaml:"panel_dir"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HASNAPSHOT_SECTION_KEY
// For example: HASNAPSHOT_HA_TOKEN, HASNAPSHOT_SNAPSHOT_WWW_DIR
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading a file.
// Environment overrides are applied; the result is not validated.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/hasnapshot.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Registry: RegistryConfig{
			Backend: BackendHomeAssistant,
		},
		HomeAssistant: HomeAssistantConfig{
			URL:            "ws://homeassistant.local:8123/api/websocket",
			RequestTimeout: 10,
		},
		Snapshot: SnapshotConfig{
			WWWDir:                  "./www",
			PublicPath:              "/local",
			DefaultFilename:         "ha_snapshot_data.json",
			SkipNamelessDevices:     true,
			IncludeDisabledEntities: true,
			MaxImportSize:           10 << 20,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "hasnapshot",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		ObjectStore: ObjectStoreConfig{
			Prefix: "hasnapshot/exports",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8099,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 60,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HASNAPSHOT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("HASNAPSHOT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Registry
	if v := os.Getenv("HASNAPSHOT_REGISTRY_BACKEND"); v != "" {
		cfg.Registry.Backend = v
	}

	// Home Assistant (the token should never live in the config file)
	if v := os.Getenv("HASNAPSHOT_HA_URL"); v != "" {
		cfg.HomeAssistant.URL = v
	}
	if v := os.Getenv("HASNAPSHOT_HA_TOKEN"); v != "" {
		cfg.HomeAssistant.Token = v
	}

	// Snapshot
	if v := os.Getenv("HASNAPSHOT_SNAPSHOT_WWW_DIR"); v != "" {
		cfg.Snapshot.WWWDir = v
	}
	if v := os.Getenv("HASNAPSHOT_SNAPSHOT_SKIP_NAMELESS_DEVICES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Snapshot.SkipNamelessDevices = b
		}
	}

	// MQTT
	if v := os.Getenv("HASNAPSHOT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HASNAPSHOT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HASNAPSHOT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("HASNAPSHOT_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("HASNAPSHOT_API_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = p
		}
	}

	// InfluxDB
	if v := os.Getenv("HASNAPSHOT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	switch c.Registry.Backend {
	case BackendHomeAssistant:
		if c.HomeAssistant.URL == "" {
			errs = append(errs, "home_assistant.url is required")
		}
		if c.HomeAssistant.Token == "" {
			errs = append(errs, "home_assistant.token is required (set HASNAPSHOT_HA_TOKEN environment variable)")
		}
	case BackendSQLite:
	case BackendFixture:
		if c.Registry.FixturePath == "" {
			errs = append(errs, "registry.fixture_path is required for the fixture backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("registry.backend %q must be one of homeassistant, sqlite, fixture", c.Registry.Backend))
	}

	if c.Snapshot.WWWDir == "" {
		errs = append(errs, "snapshot.www_dir is required")
	}
	if c.Snapshot.DefaultFilename == "" {
		errs = append(errs, "snapshot.default_filename is required")
	}
	if !strings.HasPrefix(c.Snapshot.PublicPath, "/") {
		errs = append(errs, "snapshot.public_path must start with /")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.ObjectStore.Enabled && (c.ObjectStore.Endpoint == "" || c.ObjectStore.Bucket == "") {
		errs = append(errs, "object_store.endpoint and object_store.bucket are required when enabled")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetRequestTimeout returns the Home Assistant request timeout as a Duration.
func (c HomeAssistantConfig) GetRequestTimeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.RequestTimeout) * time.Second
}

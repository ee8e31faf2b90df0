package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Persistence backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendNone   = "none"
)

// Config is the root configuration structure for the SCADA hub.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Simulation  SimulationConfig  `yaml:"simulation"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Database    DatabaseConfig    `yaml:"database"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// SimulationConfig contains settings for the telemetry simulation loop.
type SimulationConfig struct {
	// IntervalMS is the tick period in milliseconds.
	IntervalMS int `yaml:"interval_ms"`

	// DefaultControllers seeds the registry when the store yields nothing.
	DefaultControllers []string `yaml:"default_controllers"`
}

// PersistenceConfig selects where controller state is saved between restarts.
type PersistenceConfig struct {
	// Backend is one of "file", "sqlite" or "none".
	Backend string `yaml:"backend"`

	// FilePath is the JSON snapshot path for the file backend.
	FilePath string `yaml:"file_path"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains control-plane HTTP server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
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

// WebSocketConfig contains the telemetry push listener settings.
type WebSocketConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
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
// Environment variables follow the pattern: SCADAHUB_SECTION_KEY
// For example: SCADAHUB_PERSISTENCE_BACKEND, SCADAHUB_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

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

// LoadDefaults returns the default configuration with environment overrides
// applied. Used when no config file exists at the default location.
func LoadDefaults() (*Config, error) {
	cfg := Default()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with the out-of-the-box settings.
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			IntervalMS:         1000,
			DefaultControllers: []string{"controller 1", "controller 2", "controller 3"},
		},
		Persistence: PersistenceConfig{
			Backend:  BackendFile,
			FilePath: "controllers.json",
		},
		Database: DatabaseConfig{
			Path:        "./data/scadahub.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8081,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			Path:           "/",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "scadahub",
			},
			QoS:         0,
			TopicPrefix: "scadahub",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
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
// Environment variables follow the pattern: SCADAHUB_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Persistence
	if v := os.Getenv("SCADAHUB_PERSISTENCE_BACKEND"); v != "" {
		cfg.Persistence.Backend = v
	}
	if v := os.Getenv("SCADAHUB_PERSISTENCE_FILE"); v != "" {
		cfg.Persistence.FilePath = v
	}

	// Database
	if v := os.Getenv("SCADAHUB_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Listeners
	if v := os.Getenv("SCADAHUB_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v, ok := envInt("SCADAHUB_API_PORT"); ok {
		cfg.API.Port = v
	}
	if v, ok := envInt("SCADAHUB_WEBSOCKET_PORT"); ok {
		cfg.WebSocket.Port = v
	}

	// MQTT
	if v := os.Getenv("SCADAHUB_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SCADAHUB_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SCADAHUB_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Logging
	if v := os.Getenv("SCADAHUB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// envInt reads an integer environment variable. Unset or malformed values are ignored.
func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Simulation.IntervalMS <= 0 {
		errs = append(errs, "simulation.interval_ms must be positive")
	}
	for _, name := range c.Simulation.DefaultControllers {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, "simulation.default_controllers must not contain empty names")
			break
		}
	}

	switch c.Persistence.Backend {
	case BackendFile:
		if c.Persistence.FilePath == "" {
			errs = append(errs, "persistence.file_path is required for the file backend")
		}
	case BackendSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite backend")
		}
	case BackendNone:
	default:
		errs = append(errs, "persistence.backend must be file, sqlite, or none")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.WebSocket.Port < 1 || c.WebSocket.Port > 65535 {
		errs = append(errs, "websocket.port must be between 1 and 65535")
	}
	if !strings.HasPrefix(c.WebSocket.Path, "/") {
		errs = append(errs, "websocket.path must start with /")
	}
	if c.API.Port == c.WebSocket.Port && c.API.Host == c.WebSocket.Host {
		errs = append(errs, "api and websocket listeners must not share an address")
	}

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.TopicPrefix == "" {
			errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// TickInterval returns the simulation period as a Duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Simulation.IntervalMS) * time.Millisecond
}

// GetReadTimeout returns the read timeout as a Duration.
func (t APITimeoutConfig) GetReadTimeout() time.Duration {
	return time.Duration(t.Read) * time.Second
}

// GetWriteTimeout returns the write timeout as a Duration.
func (t APITimeoutConfig) GetWriteTimeout() time.Duration {
	return time.Duration(t.Write) * time.Second
}

// GetIdleTimeout returns the keep-alive idle timeout as a Duration.
func (t APITimeoutConfig) GetIdleTimeout() time.Duration {
	return time.Duration(t.Idle) * time.Second
}

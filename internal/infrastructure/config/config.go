package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for zigbridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway     GatewayConfig     `yaml:"gateway"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Heartbeat   HeartbeatConfig   `yaml:"heartbeat"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// GatewayConfig contains gateway identity settings.
type GatewayConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// PublishRetries is the number of times a state publish is retried
	// on broker-ack timeout before the delta is dropped and logged.
	PublishRetries int `yaml:"publish_retries"`
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

// CoordinatorConfig contains coordinator link settings.
//
// The coordinator is the radio-network controller bridging the low-power
// mesh to the wired network (e.g. an SLZB-06M reachable over TCP).
type CoordinatorConfig struct {
	// Address is the coordinator connection URL.
	// Supported formats:
	//   - "tcp://10.160.0.231:6638" (network serial adapter)
	//   - "unix:///run/coordinator" (local socket)
	Address string `yaml:"address"`

	// Protocol selects the coordinator framing variant.
	// Supported: "zstack" (length-prefixed MT framing), "deconz" (SLIP framing).
	// This is NEVER auto-detected - a mismatched variant is the most common
	// operator error and must fail loudly at connect time.
	Protocol string `yaml:"protocol"`

	// Firmware is the expected coordinator firmware version string.
	// Informational; included in the handshake log line for diagnostics.
	Firmware string `yaml:"firmware"`

	// ConnectTimeout is the maximum time to wait for connection (seconds).
	ConnectTimeout int `yaml:"connect_timeout"`

	// Reconnect configures the backoff policy for the coordinator link.
	Reconnect CoordinatorReconnectConfig `yaml:"reconnect"`
}

// CoordinatorReconnectConfig contains coordinator reconnection settings.
type CoordinatorReconnectConfig struct {
	// InitialDelay is the first retry delay in seconds. Subsequent attempts
	// double the delay up to MaxDelay.
	InitialDelay int `yaml:"initial_delay"`

	// MaxDelay caps the exponential backoff (seconds).
	MaxDelay int `yaml:"max_delay"`
}

// HeartbeatConfig contains device liveness settings.
type HeartbeatConfig struct {
	// Interval is the expected device heartbeat interval (seconds).
	Interval int `yaml:"interval"`

	// SilenceThreshold is how long a device may stay silent before being
	// marked offline (seconds). Default: 2x Interval.
	SilenceThreshold int `yaml:"silence_threshold"`

	// SweepInterval is how often the offline sweep runs (seconds).
	SweepInterval int `yaml:"sweep_interval"`
}

// InfluxDBConfig contains InfluxDB connection settings for attribute history.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Supported coordinator protocol variants.
const (
	ProtocolZStack = "zstack"
	ProtocolDeconz = "deconz"
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ZIGBRIDGE_SECTION_KEY
// For example: ZIGBRIDGE_DATABASE_PATH, ZIGBRIDGE_MQTT_HOST
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ID:       "zigbridge-001",
			Name:     "zigbridge",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/zigbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "zigbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			PublishRetries: 3,
		},
		Coordinator: CoordinatorConfig{
			Protocol:       ProtocolZStack,
			ConnectTimeout: 10,
			Reconnect: CoordinatorReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Heartbeat: HeartbeatConfig{
			Interval:      300,
			SweepInterval: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ZIGBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("ZIGBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("ZIGBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ZIGBRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("ZIGBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ZIGBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Coordinator
	if v := os.Getenv("ZIGBRIDGE_COORDINATOR_ADDRESS"); v != "" {
		cfg.Coordinator.Address = v
	}
	if v := os.Getenv("ZIGBRIDGE_COORDINATOR_PROTOCOL"); v != "" {
		cfg.Coordinator.Protocol = v
	}

	// InfluxDB
	if v := os.Getenv("ZIGBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Validation failures are fatal at startup - the process must not start in a
// half-configured state (e.g. with an unknown framing variant that would
// silently misinterpret coordinator frames).
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Gateway validation
	if c.Gateway.ID == "" {
		errs = append(errs, "gateway.id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.PublishRetries < 0 {
		errs = append(errs, "mqtt.publish_retries must not be negative")
	}

	// Coordinator validation - the link address and framing variant are
	// explicit requirements, never guessed.
	if c.Coordinator.Address == "" {
		errs = append(errs, "coordinator.address is required (e.g. tcp://10.160.0.231:6638)")
	} else if err := validateAddress(c.Coordinator.Address); err != nil {
		errs = append(errs, fmt.Sprintf("coordinator.address: %v", err))
	}

	switch c.Coordinator.Protocol {
	case ProtocolZStack, ProtocolDeconz:
	default:
		errs = append(errs, fmt.Sprintf(
			"coordinator.protocol %q is not supported (use %q or %q)",
			c.Coordinator.Protocol, ProtocolZStack, ProtocolDeconz))
	}

	// Heartbeat validation
	if c.Heartbeat.Interval < 1 {
		errs = append(errs, "heartbeat.interval must be at least 1 second")
	}
	if c.Heartbeat.SweepInterval < 1 {
		errs = append(errs, "heartbeat.sweep_interval must be at least 1 second")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateAddress checks that a coordinator address URL is well-formed.
func validateAddress(addr string) error {
	u, err := url.Parse(addr)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "tcp":
		if u.Host == "" {
			return fmt.Errorf("tcp address requires host:port")
		}
	case "unix":
		if u.Path == "" {
			return fmt.Errorf("unix address requires a socket path")
		}
	default:
		return fmt.Errorf("unsupported scheme %q (use tcp or unix)", u.Scheme)
	}
	return nil
}

// SilenceThreshold returns the device silence threshold as a Duration.
// Defaults to 2x the expected heartbeat interval when unset.
func (c *Config) SilenceThreshold() time.Duration {
	if c.Heartbeat.SilenceThreshold > 0 {
		return time.Duration(c.Heartbeat.SilenceThreshold) * time.Second
	}
	return 2 * time.Duration(c.Heartbeat.Interval) * time.Second
}

// SweepInterval returns the offline sweep interval as a Duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Heartbeat.SweepInterval) * time.Second
}

// ConnectTimeout returns the coordinator connect timeout as a Duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Coordinator.ConnectTimeout) * time.Second
}

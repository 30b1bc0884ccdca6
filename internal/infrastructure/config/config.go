package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Matter Gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site        SiteConfig        `yaml:"site"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Security    SecurityConfig    `yaml:"security"`

	// Devices is the inventory registered at startup. When empty (and
	// DevicesFile is empty) the built-in demo inventory is used.
	Devices []DeviceConfig `yaml:"devices"`

	// DevicesFile optionally points at a JSON array of {"type","name"} objects.
	// Entries from the file are appended after Devices.
	DevicesFile string `yaml:"devices_file"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// PersistenceConfig selects the device state store.
type PersistenceConfig struct {
	// Type is "file" (JSON document), "bolt" (bbolt database) or "memory".
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

// DatabaseConfig contains SQLite settings for the state history database.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
	// RetentionDays bounds state history. 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
	SendBuffer     int    `yaml:"send_buffer"`
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

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// UpstreamConfig contains the Larnitech controller link settings.
type UpstreamConfig struct {
	Enabled bool `yaml:"enabled"`

	Serial   string `yaml:"serial"`
	Password string `yaml:"password"`
	// Token switches request authentication to a bearer header and is
	// also sent on the streaming connection.
	Token string `yaml:"token"`

	LocalIP   string `yaml:"local_ip"`
	LocalPort int    `yaml:"local_port"`
	// RemoteURL defaults to https://<serial>.in.larnitech.com:8443/api2.
	RemoteURL string `yaml:"remote_url"`

	Timeout      time.Duration `yaml:"timeout"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	Retries      int           `yaml:"retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`

	// StreamURL is the WebSocket endpoint pushing {id,value} frames.
	StreamURL      string        `yaml:"stream_url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`

	// WriteThrough forwards locally issued commands to the controller.
	WriteThrough bool `yaml:"write_through"`

	// Fallback is returned by device listing when the controller is unreachable.
	Fallback []RemoteDeviceConfig `yaml:"fallback"`
}

// RemoteDeviceConfig describes a controller-side device.
type RemoteDeviceConfig struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

// DeviceConfig declares one device of the gateway inventory.
type DeviceConfig struct {
	Name       string `yaml:"name" json:"name"`
	Kind       string `yaml:"kind" json:"type"`
	UpstreamID string `yaml:"upstream_id" json:"upstream_id,omitempty"`
	// UpdateInterval overrides the sensor's default self-update period.
	UpdateInterval time.Duration `yaml:"update_interval" json:"-"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT verification settings. An empty secret disables
// subscriber authentication.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//  4. Devices file entries (appended to the inventory)
//
// Environment variables follow the pattern GATEWAY_SECTION_KEY, plus the
// LARNITECH_* names used by existing controller deployments.
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.DevicesFile != "" {
		extra, err := LoadDevicesFile(cfg.DevicesFile)
		if err != nil {
			return nil, err
		}
		cfg.Devices = append(cfg.Devices, extra...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadDevicesFile reads a JSON device inventory of the form
// [{"type": "dimmer", "name": "BedroomDimmer"}].
func LoadDevicesFile(path string) ([]DeviceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading devices file: %w", err)
	}
	var devices []DeviceConfig
	if err := json.Unmarshal(data, &devices); err != nil {
		return nil, fmt.Errorf("parsing devices file: %w", err)
	}
	return devices, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "gateway-001",
			Name: "Matter Gateway",
		},
		Persistence: PersistenceConfig{
			Type: "file",
			Path: "devices_state.json",
		},
		Database: DatabaseConfig{
			Path:          "./data/history.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "matter-gateway",
			},
			QoS:         1,
			TopicPrefix: "matter-gateway",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     256,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Upstream: UpstreamConfig{
			LocalPort:      1111,
			Timeout:        5 * time.Second,
			ProbeTimeout:   2 * time.Second,
			Retries:        3,
			RetryDelay:     1500 * time.Millisecond,
			ReconnectDelay: 10 * time.Second,
			PingInterval:   30 * time.Second,
			PongTimeout:    20 * time.Second,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Persistence
	if v := os.Getenv("GATEWAY_STATE_PATH"); v != "" {
		cfg.Persistence.Path = v
	}
	if v := os.Getenv("GATEWAY_STATE_TYPE"); v != "" {
		cfg.Persistence.Type = v
	}
	if v := os.Getenv("GATEWAY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GATEWAY_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GATEWAY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GATEWAY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GATEWAY_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := envInt("GATEWAY_API_PORT"); v > 0 {
		cfg.API.Port = v
	}

	// InfluxDB
	if v := os.Getenv("GATEWAY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("GATEWAY_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	applyUpstreamEnv(&cfg.Upstream)
}

// applyUpstreamEnv honours the controller variable names. Setting a serial
// or a remote URL enables the link.
func applyUpstreamEnv(up *UpstreamConfig) {
	if v := os.Getenv("LARNITECH_SERIAL"); v != "" {
		up.Serial = v
		up.Enabled = true
	}
	if v := os.Getenv("LARNITECH_URL"); v != "" {
		up.RemoteURL = v
		up.Enabled = true
	}
	if v := os.Getenv("LARNITECH_PASSWORD"); v != "" {
		up.Password = v
	}
	if v := os.Getenv("LARNITECH_TOKEN"); v != "" {
		up.Token = v
	}
	if v := os.Getenv("LARNITECH_LOCAL_IP"); v != "" {
		up.LocalIP = v
	}
	if v := envInt("LARNITECH_LOCAL_PORT"); v > 0 {
		up.LocalPort = v
	}
	if v := envInt("LARNITECH_TIMEOUT"); v > 0 {
		up.Timeout = time.Duration(v) * time.Second
	}
	if v := envInt("LARNITECH_RETRIES"); v > 0 {
		up.Retries = v
	}
	if v := os.Getenv("LARNITECH_WS_URL"); v != "" {
		up.StreamURL = v
	}
	if v := envInt("LARNITECH_WS_RECONNECT"); v > 0 {
		up.ReconnectDelay = time.Duration(v) * time.Second
	}
}

// envInt returns the integer value of an environment variable, or 0 when
// it is unset or malformed.
func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return n
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	switch c.Persistence.Type {
	case "file", "bolt":
		if c.Persistence.Path == "" {
			errs = append(errs, "persistence.path is required")
		}
	case "memory":
	default:
		errs = append(errs, "persistence.type must be file, bolt, or memory")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when history is enabled")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Upstream.Enabled {
		if c.Upstream.Serial == "" && c.Upstream.RemoteURL == "" {
			errs = append(errs, "upstream.serial or upstream.remote_url is required")
		}
		if c.Upstream.Retries < 1 {
			errs = append(errs, "upstream.retries must be at least 1")
		}
	}

	// An empty secret is development mode. A short one is a mistake.
	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		switch {
		case d.Name == "":
			errs = append(errs, fmt.Sprintf("devices[%d].name is required", i))
		case seen[d.Name]:
			errs = append(errs, fmt.Sprintf("devices[%d].name %q is duplicated", i, d.Name))
		}
		seen[d.Name] = true
		if d.Kind == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].kind is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ErrNoRemoteURL is returned when neither a remote URL nor a serial is configured.
var ErrNoRemoteURL = errors.New("config: upstream remote url cannot be derived")

// RemoteBaseURL returns the configured remote endpoint, deriving it from the
// controller serial when not set explicitly.
func (u UpstreamConfig) RemoteBaseURL() (string, error) {
	if u.RemoteURL != "" {
		return strings.TrimRight(u.RemoteURL, "/"), nil
	}
	if u.Serial == "" {
		return "", ErrNoRemoteURL
	}
	return fmt.Sprintf("https://%s.in.larnitech.com:8443/api2", u.Serial), nil
}

// LocalBaseURL returns the LAN endpoint, or "" when no local address is set.
func (u UpstreamConfig) LocalBaseURL() string {
	if u.LocalIP == "" {
		return ""
	}
	return fmt.Sprintf("http://%s:%d/api2", u.LocalIP, u.LocalPort)
}

// StreamEndpoint returns the controller's event stream URL, deriving it from
// the serial when not set explicitly.
func (u UpstreamConfig) StreamEndpoint() (string, error) {
	if u.StreamURL != "" {
		return u.StreamURL, nil
	}
	if u.Serial == "" {
		return "", ErrNoRemoteURL
	}
	return fmt.Sprintf("wss://%s.in.larnitech.com:8443/api", u.Serial), nil
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

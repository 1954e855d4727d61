package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Nest bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Nest      NestConfig      `yaml:"nest"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Deployment modes for the bridge.
const (
	// ModeSelfHosted reads OAuth client credentials from a local file and
	// expects the operator to supply the authorization PIN out of band.
	ModeSelfHosted = "self"

	// ModeCloud receives OAuth client credentials and a worker token from
	// host-injected configuration and polls the PIN retrieval proxy.
	ModeCloud = "cloud"
)

// BridgeConfig contains bridge identity and scheduling settings.
type BridgeConfig struct {
	// Mode selects the deployment mode: "self" or "cloud".
	Mode string `yaml:"mode"`

	// ProfileVersion is the on-disk driver profile version. A mismatch with
	// the persisted version forces a full driver re-push on discovery.
	ProfileVersion string `yaml:"profile_version"`

	// ShortPoll is the fast tick interval in seconds. The PIN retrieval
	// proxy is polled once per short tick during authorization.
	ShortPoll int `yaml:"short_poll"`

	// LongPoll is the slow tick interval in seconds. Rediscovery and the
	// stream watchdog run once per long tick.
	LongPoll int `yaml:"long_poll"`
}

// NestConfig contains vendor API endpoints and credential locations.
type NestConfig struct {
	// APIURL is the base URL of the Nest REST/streaming API.
	APIURL string `yaml:"api_url"`

	// AuthURL is the base URL of the OAuth token exchange endpoint.
	AuthURL string `yaml:"auth_url"`

	// LoginURL is the base URL of the interactive authorization page
	// embedded in the link shown to the operator.
	LoginURL string `yaml:"login_url"`

	// PinProxyURL is the base URL of the cloud PIN retrieval proxy.
	PinProxyURL string `yaml:"pin_proxy_url"`

	// CredentialsFile is the path to the local OAuth client credentials
	// file (self-hosted mode only).
	CredentialsFile string `yaml:"credentials_file"`

	// Pin is an operator-supplied authorization PIN. When set, the bridge
	// attempts a code-to-token exchange immediately on startup.
	Pin string `yaml:"pin"`

	// CacheFile is the path of the local token cache file.
	// Defaults to ~/.nest_poly when empty.
	CacheFile string `yaml:"cache_file"`

	// StreamStaleAfter is the staleness window in seconds. An open stream
	// with no activity for longer than this forces a process restart.
	StreamStaleAfter int `yaml:"stream_stale_after"`
}

// OAuthConfig contains host-injected OAuth initialisation data (cloud mode).
type OAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// Worker is the opaque session token used as the OAuth state parameter
	// in cloud mode.
	Worker string `yaml:"worker"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
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

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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
// Environment variables follow the pattern: NEST_SECTION_KEY
// For example: NEST_DATABASE_PATH, NEST_MQTT_HOST, NEST_OAUTH_CLIENT_ID
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			Mode:           ModeSelfHosted,
			ProfileVersion: "dev",
			ShortPoll:      15,
			LongPoll:       60,
		},
		Nest: NestConfig{
			APIURL:           "https://developer-api.nest.com",
			AuthURL:          "https://api.home.nest.com",
			LoginURL:         "https://home.nest.com",
			PinProxyURL:      "https://e6vcnh7oyl.execute-api.us-west-2.amazonaws.com/prod",
			CredentialsFile:  "server.json",
			StreamStaleAfter: 1800,
		},
		Database: DatabaseConfig{
			Path:        "./data/nestbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "nest-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8099,
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
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: NEST_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Bridge
	if v := os.Getenv("NEST_BRIDGE_MODE"); v != "" {
		cfg.Bridge.Mode = v
	}

	// Vendor API
	if v := os.Getenv("NEST_API_URL"); v != "" {
		cfg.Nest.APIURL = v
	}
	if v := os.Getenv("NEST_PIN"); v != "" {
		cfg.Nest.Pin = v
	}

	// OAuth init data (cloud mode)
	if v := os.Getenv("NEST_OAUTH_CLIENT_ID"); v != "" {
		cfg.OAuth.ClientID = v
	}
	if v := os.Getenv("NEST_OAUTH_CLIENT_SECRET"); v != "" {
		cfg.OAuth.ClientSecret = v
	}
	if v := os.Getenv("NEST_OAUTH_WORKER"); v != "" {
		cfg.OAuth.Worker = v
	}

	// Database
	if v := os.Getenv("NEST_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("NEST_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("NEST_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("NEST_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("NEST_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("NEST_API_HOST"); v != "" {
		cfg.API.Host = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Bridge validation
	if c.Bridge.Mode != ModeSelfHosted && c.Bridge.Mode != ModeCloud {
		errs = append(errs, fmt.Sprintf("bridge.mode must be %q or %q", ModeSelfHosted, ModeCloud))
	}
	if c.Bridge.ShortPoll < 1 {
		errs = append(errs, "bridge.short_poll must be at least 1 second")
	}
	if c.Bridge.LongPoll < c.Bridge.ShortPoll {
		errs = append(errs, "bridge.long_poll must not be shorter than bridge.short_poll")
	}

	// Vendor API validation
	if c.Nest.APIURL == "" {
		errs = append(errs, "nest.api_url is required")
	}
	if c.Nest.AuthURL == "" {
		errs = append(errs, "nest.auth_url is required")
	}
	if c.Nest.StreamStaleAfter < 60 {
		errs = append(errs, "nest.stream_stale_after must be at least 60 seconds")
	}

	// Cloud mode requires host-injected OAuth init data
	if c.Bridge.Mode == ModeCloud {
		if c.OAuth.ClientID == "" {
			errs = append(errs, "oauth.client_id is required in cloud mode")
		}
		if c.OAuth.ClientSecret == "" {
			errs = append(errs, "oauth.client_secret is required in cloud mode")
		}
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ShortPollInterval returns the fast tick interval as a Duration.
func (c *Config) ShortPollInterval() time.Duration {
	return time.Duration(c.Bridge.ShortPoll) * time.Second
}

// LongPollInterval returns the slow tick interval as a Duration.
func (c *Config) LongPollInterval() time.Duration {
	return time.Duration(c.Bridge.LongPoll) * time.Second
}

// StreamStaleWindow returns the stream staleness window as a Duration.
func (c *Config) StreamStaleWindow() time.Duration {
	return time.Duration(c.Nest.StreamStaleAfter) * time.Second
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

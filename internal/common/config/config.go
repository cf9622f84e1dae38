// Package config provides configuration management for HiveBoard.
// It supports loading configuration from a JSON config file, environment
// variables, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Mode selects how the server runs.
const (
	// ModeLocal enables the native WebSocket manager and permissive CORS.
	ModeLocal = "local"
	// ModeProduction disables CORS and activates the HTTP bridge to the
	// external WebSocket gateway.
	ModeProduction = "production"
)

// Config holds all configuration sections for HiveBoard.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Mode      string          `mapstructure:"mode"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logging   LoggingConfig   `mapstructure:"logging"`

	// StuckThresholdSeconds is how long an agent may go without a heartbeat
	// while working before it is considered stuck.
	StuckThresholdSeconds int `mapstructure:"stuck_threshold_seconds"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // in seconds
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// DataDir is the directory holding the per-table JSON files.
	DataDir string `mapstructure:"data_dir"`
}

// GatewayConfig holds the external WebSocket gateway target, required in
// production mode.
type GatewayConfig struct {
	Endpoint string `mapstructure:"ws_gateway_endpoint"`
	Region   string `mapstructure:"ws_gateway_region"`
}

// NATSConfig holds NATS messaging configuration. An empty URL selects the
// in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"client_id"`
	MaxReconnects int    `mapstructure:"max_reconnects"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// DevKey is an optional single bootstrap API key for the dev tenant.
	// Never hard-coded in source; always injected at process start.
	DevKey    string `mapstructure:"dev_key"`
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTExpiry int    `mapstructure:"jwt_expiry"` // in seconds
}

// RetentionConfig holds pruning configuration.
type RetentionConfig struct {
	PruneIntervalSeconds int `mapstructure:"prune_interval_seconds"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// JWTExpiryDuration returns the JWT expiry as a time.Duration.
func (a *AuthConfig) JWTExpiryDuration() time.Duration {
	return time.Duration(a.JWTExpiry) * time.Second
}

// StuckThreshold returns the stuck threshold as a time.Duration.
func (c *Config) StuckThreshold() time.Duration {
	return time.Duration(c.StuckThresholdSeconds) * time.Second
}

// PruneInterval returns the prune interval as a time.Duration.
func (r *RetentionConfig) PruneInterval() time.Duration {
	return time.Duration(r.PruneIntervalSeconds) * time.Second
}

// Load reads configuration from the optional config file pointed at by
// HIVEBOARD_CONFIG (JSON), environment variables with the HIVEBOARD_ prefix,
// and defaults, in increasing order of precedence for env over file.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HIVEBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("HIVEBOARD_CONFIG"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	if c.Mode != ModeLocal && c.Mode != ModeProduction {
		return fmt.Errorf("invalid mode %q (want %q or %q)", c.Mode, ModeLocal, ModeProduction)
	}
	if c.Mode == ModeProduction && c.Gateway.Endpoint == "" {
		return fmt.Errorf("ws_gateway_endpoint is required in production mode")
	}
	return nil
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	v.SetDefault("storage.data_dir", defaultDataDir())

	v.SetDefault("mode", ModeLocal)

	v.SetDefault("gateway.ws_gateway_endpoint", "")
	v.SetDefault("gateway.ws_gateway_region", "")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.client_id", "hiveboard")
	v.SetDefault("nats.max_reconnects", 10)

	v.SetDefault("auth.dev_key", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_expiry", 3600)

	v.SetDefault("retention.prune_interval_seconds", 300)

	v.SetDefault("stuck_threshold_seconds", 300)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "")
	v.SetDefault("logging.output_path", "stdout")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return home + "/.hiveboard/data"
}

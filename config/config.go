package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Control ControlConfig `mapstructure:"control"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds the UDP listener configuration
type ServerConfig struct {
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	MaxDatagramBytes int    `mapstructure:"max_datagram_bytes"`
}

// SandboxConfig holds sandbox configuration
type SandboxConfig struct {
	TimeLimitSec int      `mapstructure:"time_limit_sec"`
	MaxSteps     uint64   `mapstructure:"max_steps"`
	MaxInFlight  int      `mapstructure:"max_in_flight"`
	AuditBuffer  int      `mapstructure:"audit_buffer"`
	Capabilities []string `mapstructure:"capabilities"`
}

// ControlConfig holds the MCP control surface configuration
type ControlConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// MetricsConfig holds the observability endpoint configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode        string   `mapstructure:"mode"`
	Level       string   `mapstructure:"level"`
	Output      []string `mapstructure:"output"`
	AuditOutput []string `mapstructure:"audit_output"`
}

// Transports accepted by control.transport
const (
	TransportNone  = "none"
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

const maxUDPPayload = 65535

// New loads and validates the application configuration from ./config.yaml or ./config/config.yaml
func New() (*Config, error) {
	return Load(".", "./config")
}

// Load reads config.yaml from the first of paths that has one, falling back to defaults
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 9999)
	v.SetDefault("server.max_datagram_bytes", maxUDPPayload)

	v.SetDefault("sandbox.time_limit_sec", 60)
	v.SetDefault("sandbox.max_steps", 0)
	v.SetDefault("sandbox.max_in_flight", 0)
	v.SetDefault("sandbox.audit_buffer", 256)
	v.SetDefault("sandbox.capabilities", []string{"sleep", "print", "range", "len", "min", "max", "sum", "enumerate"})

	v.SetDefault("control.transport", TransportNone)
	v.SetDefault("control.http_port", 8080)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", []string{"stderr"})
	v.SetDefault("logging.audit_output", []string{"stderr"})
}

// validate ensures the configuration is valid, reporting every problem found
func (c *Config) validate() error {
	var errs error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("invalid server.port: %d", c.Server.Port))
	}

	if c.Server.MaxDatagramBytes <= 0 || c.Server.MaxDatagramBytes > maxUDPPayload {
		errs = multierr.Append(errs, fmt.Errorf("server.max_datagram_bytes must be in 1..%d, got: %d", maxUDPPayload, c.Server.MaxDatagramBytes))
	}

	if c.Sandbox.TimeLimitSec <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("sandbox.time_limit_sec must be positive, got: %d", c.Sandbox.TimeLimitSec))
	}

	if c.Sandbox.MaxInFlight < 0 {
		errs = multierr.Append(errs, fmt.Errorf("sandbox.max_in_flight must not be negative, got: %d", c.Sandbox.MaxInFlight))
	}

	if c.Sandbox.AuditBuffer < 0 {
		errs = multierr.Append(errs, fmt.Errorf("sandbox.audit_buffer must not be negative, got: %d", c.Sandbox.AuditBuffer))
	}

	if len(c.Sandbox.Capabilities) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("sandbox.capabilities must list at least one capability"))
	}

	switch c.Control.Transport {
	case TransportNone, TransportStdio, TransportHTTP:
	default:
		errs = multierr.Append(errs, fmt.Errorf("invalid control.transport: %s, must be 'none', 'stdio' or 'http'", c.Control.Transport))
	}

	if c.Control.Transport == TransportHTTP && (c.Control.HTTPPort <= 0 || c.Control.HTTPPort > 65535) {
		errs = multierr.Append(errs, fmt.Errorf("invalid control.http_port: %d", c.Control.HTTPPort))
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = multierr.Append(errs, fmt.Errorf("metrics.addr is required when metrics are enabled"))
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		errs = multierr.Append(errs, fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		errs = multierr.Append(errs, fmt.Errorf("invalid logging.level: %s", c.Logging.Level))
	}

	if c.Control.Transport == TransportStdio {
		for _, out := range append(slices.Clone(c.Logging.Output), c.Logging.AuditOutput...) {
			if out == "stdout" {
				errs = multierr.Append(errs, fmt.Errorf("logging must not write to stdout when control.transport is stdio"))
				break
			}
		}
	}

	return errs
}

// GetTimeLimit returns the per-submission execution budget as a duration
func (c *Config) GetTimeLimit() time.Duration {
	return time.Duration(c.Sandbox.TimeLimitSec) * time.Second
}

// ListenAddr returns the UDP listen address
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

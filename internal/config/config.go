// Package config provides configuration loading using koanf.
// Precedence: environment variables over compiled defaults.
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/gantryhq/gantry/internal/domain"
)

// envPrefix namespaces all daemon environment variables.
const envPrefix = "GANTRY_"

// Config holds all daemon configuration.
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment"`

	Log LogConfig `koanf:"log"`

	Server   ServerConfig   `koanf:"server"`
	Docker   DockerConfig   `koanf:"docker"`
	Deploy   DeployConfig   `koanf:"deploy"`
	Registry RegistryConfig `koanf:"registry"`
	Redis    RedisConfig    `koanf:"redis"`
	Auth     AuthConfig     `koanf:"auth"`
	Probe    ProbeConfig    `koanf:"probe"`

	// OpenTelemetry configuration
	OTEL OTELConfig `koanf:"otel"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ServerConfig holds the control-plane HTTP server configuration.
type ServerConfig struct {
	HTTPPort int `koanf:"http_port"`

	// BaseDomain routes proxy requests: Host <app>.<BaseDomain> maps to the
	// app's running deployment.
	BaseDomain string `koanf:"base_domain"`
}

// DockerConfig holds Docker Engine client configuration.
type DockerConfig struct {
	// Host overrides the engine endpoint. Empty uses the client defaults
	// (DOCKER_HOST or the platform socket).
	Host string `koanf:"host"`

	Timeout      time.Duration `koanf:"timeout"`       // non-build engine calls
	BuildTimeout time.Duration `koanf:"build_timeout"` // image builds
}

// DeployConfig holds deploy pipeline configuration.
type DeployConfig struct {
	// DataDir is where build contexts and the default registry live.
	DataDir string `koanf:"data_dir"`

	// Host port allocation range for published container ports.
	PortStart int `koanf:"port_start"`
	PortEnd   int `koanf:"port_end"`

	// TTL expires deployments after this duration; 0 disables the reaper.
	TTL          time.Duration `koanf:"ttl"`
	ReapInterval time.Duration `koanf:"reap_interval"`
}

// RegistryConfig holds deployment registry (SQLite) configuration.
type RegistryConfig struct {
	// Path to the database file. Empty resolves to <data_dir>/gantry.db.
	Path    string        `koanf:"path"`
	Timeout time.Duration `koanf:"timeout"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string        `koanf:"addr"` // Required in prod
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Timeout  time.Duration `koanf:"timeout"`
}

// AuthConfig holds API token configuration.
type AuthConfig struct {
	// PEM key paths. Required in prod; local generates an ephemeral pair.
	PrivateKey string `koanf:"private_key"`
	PublicKey  string `koanf:"public_key"`

	Issuer   string `koanf:"issuer"`
	Audience string `koanf:"audience"`
}

// ProbeConfig holds readiness probe defaults; a manifest can override both.
type ProbeConfig struct {
	Path         string        `koanf:"path"`
	ReadyTimeout time.Duration `koanf:"ready_timeout"`
}

// OTELConfig holds OpenTelemetry configuration.
type OTELConfig struct {
	Endpoint    string `koanf:"endpoint"` // Empty disables OTLP export
	ServiceName string `koanf:"service_name"`
}

// defaults returns a Config with compiled default values.
func defaults() *Config {
	return &Config{
		Environment: "local",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},

		Server: ServerConfig{
			HTTPPort:   8080,
			BaseDomain: "apps.localhost",
		},
		Docker: DockerConfig{
			Timeout:      domain.DockerTimeout,
			BuildTimeout: domain.BuildTimeout,
		},
		Deploy: DeployConfig{
			DataDir:      "data",
			PortStart:    domain.DefaultPortRangeStart,
			PortEnd:      domain.DefaultPortRangeEnd,
			TTL:          24 * time.Hour,
			ReapInterval: time.Minute,
		},
		Registry: RegistryConfig{
			Timeout: domain.RegistryTimeout,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			DB:      0,
			Timeout: domain.RedisTimeout,
		},
		Auth: AuthConfig{
			Issuer:   "gantryd",
			Audience: "gantry-api",
		},
		Probe: ProbeConfig{
			Path:         "/check",
			ReadyTimeout: domain.ProbeReadyWindow,
		},
		OTEL: OTELConfig{
			ServiceName: "gantryd",
		},
	}
}

// Load loads configuration following the precedence:
// 1. Environment variables (highest), prefixed GANTRY_
// 2. Compiled defaults (lowest)
//
// The first underscore after the prefix is the section delimiter, so
// GANTRY_SERVER_HTTP_PORT maps to server.http_port.
func Load(ctx context.Context) (*Config, error) {
	k := koanf.New(".")

	// Start with compiled defaults
	cfg := defaults()

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".", 1)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	// Unmarshal into config struct
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Validate required fields
	if err := validateRequired(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateRequired checks that required configuration is present.
// Required key failure → startup failure.
func validateRequired(cfg *Config) error {
	if cfg.Deploy.PortStart < 1 || cfg.Deploy.PortEnd > 65535 || cfg.Deploy.PortStart > cfg.Deploy.PortEnd {
		return fmt.Errorf("%w: deploy.port_start..deploy.port_end must be a valid range", domain.ErrConfigRequired)
	}

	// In local environment, the remaining fields have sensible defaults
	if cfg.Environment == "local" {
		return nil
	}

	// In production, certain fields are required
	if cfg.Environment == "prod" {
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("%w: redis.addr", domain.ErrConfigRequired)
		}
		if cfg.Auth.PrivateKey == "" || cfg.Auth.PublicKey == "" {
			return fmt.Errorf("%w: auth.private_key and auth.public_key", domain.ErrConfigRequired)
		}
	}

	return nil
}

// RegistryPath returns the registry database path, resolving the default
// location under the data directory.
func (c *Config) RegistryPath() string {
	if c.Registry.Path != "" {
		return c.Registry.Path
	}
	return filepath.Join(c.Deploy.DataDir, "gantry.db")
}

// IsLocal returns true if running in local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}

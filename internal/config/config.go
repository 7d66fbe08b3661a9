// ABOUTME: Configuration loading and parsing for license-gateway
// ABOUTME: YAML or TOML files with ${VAR} expansion, LICENSE_GATEWAY_* overrides and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "LICENSE_GATEWAY_"

// Defaults applied when a field is left empty.
const (
	DefaultAccessTTL     = time.Hour
	DefaultRefreshTTL    = 720 * time.Hour
	DefaultSweepInterval = time.Hour
	DefaultCookiePath    = "/auth"
	DefaultMetricsPath   = "/metrics"
)

// Config represents the complete license-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server" envPrefix:"SERVER_"`
	Database  DatabaseConfig  `yaml:"database" toml:"database" envPrefix:"DATABASE_"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Cookie    CookieConfig    `yaml:"cookie" toml:"cookie" envPrefix:"COOKIE_"`
	Licenses  LicensesConfig  `yaml:"licenses" toml:"licenses" envPrefix:"LICENSES_"`
	Redis     RedisConfig     `yaml:"redis" toml:"redis" envPrefix:"REDIS_"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging" envPrefix:"LOG_"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics" envPrefix:"METRICS_"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr" env:"HTTP_ADDR"`
}

// DatabaseConfig selects the entitlement store backend
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver" env:"DRIVER"` // sqlite (default) or postgres
	Path   string `yaml:"path" toml:"path" env:"PATH"`       // SQLite file
	DSN    string `yaml:"dsn" toml:"dsn" env:"DSN"`          // Postgres connection string
}

// AuthConfig holds token signing and lifetime configuration
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret" toml:"jwt_secret" env:"JWT_SECRET"`
	Issuer     string        `yaml:"issuer" toml:"issuer" env:"JWT_ISSUER"`
	SuperEmail string        `yaml:"super_email" toml:"super_email" env:"SUPER_EMAIL"`
	AccessTTL  time.Duration `yaml:"-" toml:"-"`
	RefreshTTL time.Duration `yaml:"-" toml:"-"`

	// Raw string values for YAML unmarshaling
	AccessTTLRaw  string `yaml:"access_ttl" toml:"access_ttl" env:"ACCESS_TTL"`
	RefreshTTLRaw string `yaml:"refresh_ttl" toml:"refresh_ttl" env:"REFRESH_TTL"`
}

// CookieConfig describes the refresh token cookie
type CookieConfig struct {
	Name     string `yaml:"name" toml:"name" env:"NAME"`
	Domain   string `yaml:"domain" toml:"domain" env:"DOMAIN"`
	Path     string `yaml:"path" toml:"path" env:"PATH"`
	Secure   bool   `yaml:"secure" toml:"secure" env:"SECURE"`
	SameSite string `yaml:"same_site" toml:"same_site" env:"SAME_SITE"`
}

// LicensesConfig holds license lifecycle settings
type LicensesConfig struct {
	// SweepInterval is how often expired grants are swept. Zero disables the sweeper.
	SweepInterval    time.Duration `yaml:"-" toml:"-"`
	SweepIntervalRaw string        `yaml:"sweep_interval" toml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

// RedisConfig points at the refresh token denylist. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr" env:"ADDR"`
	Password string `yaml:"password" toml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" toml:"db" env:"DB"`
}

// RateLimitConfig throttles login attempts per client address
type RateLimitConfig struct {
	LoginRPS   float64 `yaml:"login_rps" toml:"login_rps" env:"LOGIN_RPS"`
	LoginBurst int     `yaml:"login_burst" toml:"login_burst" env:"LOGIN_BURST"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LEVEL"`
	Format string `yaml:"format" toml:"format" env:"FORMAT"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" toml:"path" env:"PATH"`
}

// Load reads the configuration file at path, applies LICENSE_GATEWAY_*
// environment overrides, fills defaults and validates the result.
// An empty path loads from the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := decode(path, expandEnvVars(string(data)), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// decode picks the parser from the file extension. Anything but .toml is YAML.
func decode(path, content string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.Decode(content, cfg)
		return err
	}
	return yaml.Unmarshal([]byte(content), cfg)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
		def  time.Duration
	}{
		{"auth.access_ttl", cfg.Auth.AccessTTLRaw, &cfg.Auth.AccessTTL, DefaultAccessTTL},
		{"auth.refresh_ttl", cfg.Auth.RefreshTTLRaw, &cfg.Auth.RefreshTTL, DefaultRefreshTTL},
		{"licenses.sweep_interval", cfg.Licenses.SweepIntervalRaw, &cfg.Licenses.SweepInterval, DefaultSweepInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			*f.dst = f.def
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	c.Database.Driver = strings.ToLower(c.Database.Driver)
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "license-gateway"
	}
	if c.Cookie.Path == "" {
		c.Cookie.Path = DefaultCookiePath
	}
	if c.RateLimit.LoginRPS == 0 {
		c.RateLimit.LoginRPS = 1
	}
	if c.RateLimit.LoginBurst == 0 {
		c.RateLimit.LoginBurst = 5
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// minSecretLength matches the token codec's requirement.
const minSecretLength = 32

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < minSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minSecretLength)
	}
	if c.Auth.AccessTTL <= 0 {
		return fmt.Errorf("auth.access_ttl must be positive")
	}
	if c.Auth.RefreshTTL < c.Auth.AccessTTL {
		return fmt.Errorf("auth.refresh_ttl must not be shorter than auth.access_ttl")
	}

	switch strings.ToLower(c.Cookie.SameSite) {
	case "", "lax", "strict", "none":
	default:
		return fmt.Errorf("cookie.same_site must be lax, strict or none")
	}
	if strings.EqualFold(c.Cookie.SameSite, "none") && !c.Cookie.Secure {
		return fmt.Errorf("cookie.secure is required when cookie.same_site is none")
	}

	if c.Licenses.SweepInterval < 0 {
		return fmt.Errorf("licenses.sweep_interval must not be negative")
	}
	if c.RateLimit.LoginRPS < 0 || c.RateLimit.LoginBurst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

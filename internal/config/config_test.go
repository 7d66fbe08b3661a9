// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, overrides, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

auth:
  jwt_secret: "`+testSecret+`"
  issuer: "licenses.example.com"
  access_ttl: "15m"
  refresh_ttl: "168h"
  super_email: "ops@example.com"

cookie:
  domain: "example.com"
  secure: true
  same_site: "strict"

licenses:
  sweep_interval: "10m"

redis:
  addr: "localhost:6379"
  db: 2

rate_limit:
  login_rps: 0.5
  login_burst: 3

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("expected http_addr 0.0.0.0:8080, got %s", cfg.Server.HTTPAddr)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("expected default driver sqlite, got %s", cfg.Database.Driver)
	}
	if cfg.Auth.Issuer != "licenses.example.com" {
		t.Errorf("expected issuer licenses.example.com, got %s", cfg.Auth.Issuer)
	}
	if cfg.Auth.AccessTTL != 15*time.Minute {
		t.Errorf("expected access_ttl 15m, got %v", cfg.Auth.AccessTTL)
	}
	if cfg.Auth.RefreshTTL != 168*time.Hour {
		t.Errorf("expected refresh_ttl 168h, got %v", cfg.Auth.RefreshTTL)
	}
	if cfg.Licenses.SweepInterval != 10*time.Minute {
		t.Errorf("expected sweep_interval 10m, got %v", cfg.Licenses.SweepInterval)
	}
	if cfg.Cookie.Path != DefaultCookiePath {
		t.Errorf("expected default cookie path, got %s", cfg.Cookie.Path)
	}
	if !cfg.Cookie.Secure || cfg.Cookie.SameSite != "strict" {
		t.Errorf("unexpected cookie config: %+v", cfg.Cookie)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.DB != 2 {
		t.Errorf("unexpected redis config: %+v", cfg.Redis)
	}
	if cfg.RateLimit.LoginRPS != 0.5 || cfg.RateLimit.LoginBurst != 3 {
		t.Errorf("unexpected rate limit config: %+v", cfg.RateLimit)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging config: %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != DefaultMetricsPath {
		t.Errorf("unexpected metrics config: %+v", cfg.Metrics)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "`+testSecret+`"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Auth.AccessTTL != DefaultAccessTTL {
		t.Errorf("expected default access_ttl, got %v", cfg.Auth.AccessTTL)
	}
	if cfg.Auth.RefreshTTL != DefaultRefreshTTL {
		t.Errorf("expected default refresh_ttl, got %v", cfg.Auth.RefreshTTL)
	}
	if cfg.Licenses.SweepInterval != DefaultSweepInterval {
		t.Errorf("expected default sweep_interval, got %v", cfg.Licenses.SweepInterval)
	}
	if cfg.Auth.Issuer != "license-gateway" {
		t.Errorf("expected default issuer, got %s", cfg.Auth.Issuer)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.RateLimit.LoginRPS <= 0 || cfg.RateLimit.LoginBurst <= 0 {
		t.Errorf("expected positive rate limit defaults, got %+v", cfg.RateLimit)
	}
}

func TestLoad_SweepDisabled(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "`+testSecret+`"
licenses:
  sweep_interval: "0s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Licenses.SweepInterval != 0 {
		t.Errorf("expected sweeper disabled, got %v", cfg.Licenses.SweepInterval)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
http_addr = "127.0.0.1:9090"

[database]
driver = "postgres"
dsn = "postgres://licenses@localhost/licenses"

[auth]
jwt_secret = "`+testSecret+`"
access_ttl = "30m"

[logging]
level = "warn"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("expected http_addr from toml, got %s", cfg.Server.HTTPAddr)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.DSN == "" {
		t.Errorf("unexpected database config: %+v", cfg.Database)
	}
	if cfg.Auth.AccessTTL != 30*time.Minute {
		t.Errorf("expected access_ttl 30m, got %v", cfg.Auth.AccessTTL)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected level warn, got %s", cfg.Logging.Level)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", testSecret)
	t.Setenv("TEST_DB_PATH", "/tmp/expanded.db")

	path := writeConfig(t, "config.yaml", `
server:
  http_addr: ":8080"
database:
  path: "${TEST_DB_PATH}"
auth:
  jwt_secret: "${TEST_JWT_SECRET}"
  super_email: "${TEST_UNSET_VARIABLE}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Path != "/tmp/expanded.db" {
		t.Errorf("expected expanded db path, got %s", cfg.Database.Path)
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Errorf("expected expanded jwt secret, got %s", cfg.Auth.JWTSecret)
	}
	if cfg.Auth.SuperEmail != "" {
		t.Errorf("expected unset variable to expand to empty, got %s", cfg.Auth.SuperEmail)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LICENSE_GATEWAY_JWT_SECRET", strings.Repeat("x", 40))
	t.Setenv("LICENSE_GATEWAY_DATABASE_DRIVER", "postgres")
	t.Setenv("LICENSE_GATEWAY_DATABASE_DSN", "postgres://override")
	t.Setenv("LICENSE_GATEWAY_ACCESS_TTL", "5m")
	t.Setenv("LICENSE_GATEWAY_REDIS_ADDR", "redis:6379")
	t.Setenv("LICENSE_GATEWAY_LOG_LEVEL", "error")
	t.Setenv("LICENSE_GATEWAY_COOKIE_SECURE", "true")

	path := writeConfig(t, "config.yaml", `
server:
  http_addr: ":8080"
database:
  path: "./file.db"
auth:
  jwt_secret: "`+testSecret+`"
  access_ttl: "1h"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Auth.JWTSecret != strings.Repeat("x", 40) {
		t.Errorf("expected env jwt secret to win, got %s", cfg.Auth.JWTSecret)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.DSN != "postgres://override" {
		t.Errorf("unexpected database config: %+v", cfg.Database)
	}
	if cfg.Database.Path != "./file.db" {
		t.Errorf("expected untouched path, got %s", cfg.Database.Path)
	}
	if cfg.Auth.AccessTTL != 5*time.Minute {
		t.Errorf("expected env access_ttl 5m, got %v", cfg.Auth.AccessTTL)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("expected env redis addr, got %s", cfg.Redis.Addr)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("expected env log level, got %s", cfg.Logging.Level)
	}
	if !cfg.Cookie.Secure {
		t.Error("expected env cookie secure")
	}
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("LICENSE_GATEWAY_SERVER_HTTP_ADDR", ":7070")
	t.Setenv("LICENSE_GATEWAY_DATABASE_PATH", "/tmp/env.db")
	t.Setenv("LICENSE_GATEWAY_JWT_SECRET", testSecret)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.HTTPAddr != ":7070" || cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", "server: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "`+testSecret+`"
  access_ttl: "soon"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "auth.access_ttl") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func validConfig() *Config {
	cfg := &Config{
		Server:   ServerConfig{HTTPAddr: ":8080"},
		Database: DatabaseConfig{Path: "./test.db"},
		Auth:     AuthConfig{JWTSecret: testSecret},
	}
	_ = parseDurations(cfg)
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }, "database.dsn"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }, "auth.jwt_secret is required"},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "at least 32 bytes"},
		{"refresh shorter than access", func(c *Config) { c.Auth.RefreshTTL = time.Minute }, "auth.refresh_ttl"},
		{"bad same site", func(c *Config) { c.Cookie.SameSite = "sometimes" }, "cookie.same_site"},
		{"same site none needs secure", func(c *Config) { c.Cookie.SameSite = "none" }, "cookie.secure"},
		{"negative sweep", func(c *Config) { c.Licenses.SweepInterval = -time.Second }, "licenses.sweep_interval"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

// Package config handles configuration loading for license-gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from LICENSE_GATEWAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/license-gateway/gateway.yaml
//  3. ~/.config/license-gateway/gateway.yaml
//
// Files ending in .toml are parsed as TOML; everything else is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Environment Overrides
//
// After the file is parsed, LICENSE_GATEWAY_* variables override individual
// fields, for example:
//
//	LICENSE_GATEWAY_JWT_SECRET
//	LICENSE_GATEWAY_DATABASE_DRIVER=postgres
//	LICENSE_GATEWAY_DATABASE_DSN=postgres://...
//	LICENSE_GATEWAY_REDIS_ADDR=localhost:6379
//	LICENSE_GATEWAY_LOG_LEVEL=debug
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  access_ttl: "15m"
//	  refresh_ttl: "720h"
//	licenses:
//	  sweep_interval: "1h"   # "0s" disables the sweeper
//
// # Example
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	database:
//	  driver: sqlite
//	  path: "/var/lib/license-gateway/gateway.db"
//	auth:
//	  jwt_secret: "${JWT_SECRET}"
//	  super_email: "ops@example.com"
//	cookie:
//	  domain: "example.com"
//	  secure: true
//	redis:
//	  addr: "localhost:6379"
//	logging:
//	  level: info
//	  format: json
//	metrics:
//	  enabled: true
package config

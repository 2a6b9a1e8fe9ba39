// Package config handles configuration loading for larder-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from LARDER_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/larder/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${LARDER_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	assistant:
//	  turn_timeout: "2m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # API and push stream
//
// Database:
//
//	database:
//	  path: "/var/lib/larder/gateway.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${LARDER_JWT_SECRET}"   # Empty runs open (dev only)
//
// Assistant provider:
//
//	assistant:
//	  provider: "anthropic"               # anthropic, openai, scripted
//	  model: "claude-sonnet-4-5"
//	  anthropic_api_key: "${ANTHROPIC_API_KEY}"
//	  turn_timeout: "2m"
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "larder-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//	  funnel: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/larder/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

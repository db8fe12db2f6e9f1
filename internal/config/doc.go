// Package config handles configuration loading for scheduler-gateway.
//
// # Configuration File
//
// Location (in order):
//
//  1. Path from SCHEDULER_GATEWAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/scheduler-gateway/config.yaml
//  3. ~/.config/scheduler-gateway/config.yaml
//
// Files ending in .toml are read as TOML; everything else as YAML. Both use
// the same keys.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  account_creation: "code"
//	  account_creation_code: "${SGW_SIGNUP_CODE}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  grpc_addr: "0.0.0.0:50051"   # optional
//
//	database:
//	  driver: "sqlite"             # sqlite | postgres | memory
//	  path: "./data/gateway.db"
//	  dsn: "postgres://..."        # postgres only
//
//	cache:
//	  redis:
//	    enabled: false
//	    addr: "localhost:6379"
//	    key_prefix: "sgw:keyslot:"
//
//	auth:
//	  account_creation: "disabled" # open | code | disabled
//
//	logging:
//	  level: "info"
//	  format: "text"               # text | json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// There is no default for auth.account_creation and no default code.
package config

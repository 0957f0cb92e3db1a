// Package config provides application configuration management.
//
// # Overview
//
// Configuration is assembled in three layers: built-in defaults, an
// optional YAML file named by TENANTGATE_CONFIG_FILE, and TENANTGATE_*
// environment variables, which win. The result is validated before use.
//
// # Configuration Structure
//
// Server settings:
//
//	TENANTGATE_HOST="0.0.0.0"
//	TENANTGATE_PORT="8080"
//	TENANTGATE_HEALTH_PORT="9090"
//	TENANTGATE_READ_TIMEOUT="15s"
//
// Database and Redis:
//
//	TENANTGATE_DATABASE_URL="postgres://localhost/tenantgate"
//	TENANTGATE_DATABASE_MAX_CONNS="20"
//	TENANTGATE_DATABASE_MIGRATE="true"
//	TENANTGATE_REDIS_URL="redis://localhost:6379/0"
//
// Identity and authorization:
//
//	TENANTGATE_SESSION_SECRET="..."          # HS256 session tokens
//	TENANTGATE_OIDC_ISSUER_URL="https://id.example.com"
//	TENANTGATE_OIDC_CLIENT_ID="tenantgate"
//	TENANTGATE_GUARD_STORE_TIMEOUT="2s"
//	TENANTGATE_SIGN_IN_PATH="/sign-in"
//
// Invitations, rate limiting and maintenance:
//
//	TENANTGATE_INVITATION_TTL="168h"
//	TENANTGATE_RATELIMIT_PER_MINUTE="10"
//	TENANTGATE_RATELIMIT_DISTRIBUTED="true"
//	TENANTGATE_PURGE_SCHEDULE="@hourly"
//
// Observability settings:
//
//	TENANTGATE_LOG_LEVEL="info"  # debug, info, warn, error
//	TENANTGATE_METRICS_ENABLED="true"
//	TENANTGATE_OTEL_ENABLED="true"
//	TENANTGATE_OTEL_ENDPOINT="otel-collector:4317"
//
// The same settings in YAML use the section and field names of Config, for
// example:
//
//	guard:
//	  store_timeout: 2s
//	observability:
//	  log_level: debug
//
// # Hot reload
//
// Watch follows the YAML file and hands every valid new configuration to a
// callback. Only settings that are safe to change at runtime should be
// applied; LogLevelReloader applies the log level.
//
//	go config.Watch(ctx, path, logger, config.LogLevelReloader(logger))
package config

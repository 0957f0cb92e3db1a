package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// ConfigFileEnv names the optional YAML file layered under the environment
const ConfigFileEnv = "TENANTGATE_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Auth          AuthConfig          `yaml:"auth"`
	Guard         GuardConfig         `yaml:"guard"`
	Invitations   InvitationsConfig   `yaml:"invitations"`
	RateLimit     RateLimitConfig     `yaml:"ratelimit"`
	Maintenance   MaintenanceConfig   `yaml:"maintenance"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s liveness and readiness checks)
	HealthPort string `yaml:"health_port"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL            string        `yaml:"url"`
	MaxConns       int           `yaml:"max_conns"`
	MinConns       int           `yaml:"min_conns"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	MaxLifetime    time.Duration `yaml:"max_lifetime"`
	MaxIdleTime    time.Duration `yaml:"max_idle_time"`
	// Migrate applies the schema on startup
	Migrate bool `yaml:"migrate"`
}

// RedisConfig holds Redis settings. An empty URL disables Redis.
type RedisConfig struct {
	URL        string `yaml:"url"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	PoolSize   int    `yaml:"pool_size"`
	MaxRetries int    `yaml:"max_retries"`
}

// AuthConfig configures principal resolution
type AuthConfig struct {
	SessionSecret    string        `yaml:"session_secret"`
	SessionCookie    string        `yaml:"session_cookie"`
	SessionIssuer    string        `yaml:"session_issuer"`
	OIDCIssuerURL    string        `yaml:"oidc_issuer_url"`
	OIDCClientID     string        `yaml:"oidc_client_id"`
	UserInfoFallback bool          `yaml:"userinfo_fallback"`
	OIDCTimeout      time.Duration `yaml:"oidc_timeout"`
}

// GuardConfig configures the authorization guard
type GuardConfig struct {
	StoreTimeout time.Duration `yaml:"store_timeout"`
	SignInPath   string        `yaml:"sign_in_path"`
	LandingPath  string        `yaml:"landing_path"`
	SetupPath    string        `yaml:"setup_path"`
}

// InvitationsConfig configures invitation issuance
type InvitationsConfig struct {
	TTL               time.Duration `yaml:"ttl"`
	RequireEmailMatch bool          `yaml:"require_email_match"`
	PurgeAfter        time.Duration `yaml:"purge_after"`
}

// RateLimitConfig limits the setup and redemption endpoints
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	// Distributed shares counters through Redis. A local limiter is still
	// used as the fallback when Redis fails.
	Distributed bool `yaml:"distributed"`
	MaxKeys     int  `yaml:"max_keys"`
}

// MaintenanceConfig schedules background jobs
type MaintenanceConfig struct {
	Enabled bool `yaml:"enabled"`
	// PurgeSchedule is a cron expression for the expired invitation purge
	PurgeSchedule string `yaml:"purge_schedule"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"` // Use insecure gRPC connection
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// OTel returns the OpenTelemetry settings
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Database: DatabaseConfig{
			MaxConns:       20,
			MinConns:       5,
			ConnectTimeout: 10 * time.Second,
			MaxLifetime:    30 * time.Minute,
			MaxIdleTime:    5 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
		},
		Auth: AuthConfig{
			SessionCookie: "tg_session",
			OIDCTimeout:   5 * time.Second,
		},
		Guard: GuardConfig{
			StoreTimeout: 2 * time.Second,
			SignInPath:   "/sign-in",
			LandingPath:  "/",
			SetupPath:    "/setup",
		},
		Invitations: InvitationsConfig{
			TTL:               7 * 24 * time.Hour,
			RequireEmailMatch: true,
			PurgeAfter:        30 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 10,
			MaxKeys:           10000,
		},
		Maintenance: MaintenanceConfig{
			Enabled:       true,
			PurgeSchedule: "@hourly",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "tenantgate",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig loads the defaults, the YAML file named by
// TENANTGATE_CONFIG_FILE if any, then TENANTGATE_* environment variables,
// and validates the result.
func LoadConfig() (*Config, error) {
	return Load(os.Getenv(ConfigFileEnv))
}

// Load is LoadConfig with an explicit file path. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("TENANTGATE_HOST", s.Host)
	s.Port = getEnv("TENANTGATE_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("TENANTGATE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("TENANTGATE_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("TENANTGATE_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("TENANTGATE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.HealthPort = getEnv("TENANTGATE_HEALTH_PORT", s.HealthPort)

	d := &c.Database
	d.URL = getEnv("TENANTGATE_DATABASE_URL", d.URL)
	d.MaxConns = getEnvInt("TENANTGATE_DATABASE_MAX_CONNS", d.MaxConns)
	d.MinConns = getEnvInt("TENANTGATE_DATABASE_MIN_CONNS", d.MinConns)
	d.ConnectTimeout = getEnvDuration("TENANTGATE_DATABASE_CONNECT_TIMEOUT", d.ConnectTimeout)
	d.MaxLifetime = getEnvDuration("TENANTGATE_DATABASE_MAX_LIFETIME", d.MaxLifetime)
	d.MaxIdleTime = getEnvDuration("TENANTGATE_DATABASE_MAX_IDLE_TIME", d.MaxIdleTime)
	d.Migrate = getEnvBool("TENANTGATE_DATABASE_MIGRATE", d.Migrate)

	r := &c.Redis
	r.URL = getEnv("TENANTGATE_REDIS_URL", r.URL)
	r.Password = getEnv("TENANTGATE_REDIS_PASSWORD", r.Password)
	r.DB = getEnvInt("TENANTGATE_REDIS_DB", r.DB)
	r.PoolSize = getEnvInt("TENANTGATE_REDIS_POOL_SIZE", r.PoolSize)
	r.MaxRetries = getEnvInt("TENANTGATE_REDIS_MAX_RETRIES", r.MaxRetries)

	a := &c.Auth
	a.SessionSecret = getEnv("TENANTGATE_SESSION_SECRET", a.SessionSecret)
	a.SessionCookie = getEnv("TENANTGATE_SESSION_COOKIE", a.SessionCookie)
	a.SessionIssuer = getEnv("TENANTGATE_SESSION_ISSUER", a.SessionIssuer)
	a.OIDCIssuerURL = getEnv("TENANTGATE_OIDC_ISSUER_URL", a.OIDCIssuerURL)
	a.OIDCClientID = getEnv("TENANTGATE_OIDC_CLIENT_ID", a.OIDCClientID)
	a.UserInfoFallback = getEnvBool("TENANTGATE_OIDC_USERINFO_FALLBACK", a.UserInfoFallback)
	a.OIDCTimeout = getEnvDuration("TENANTGATE_OIDC_TIMEOUT", a.OIDCTimeout)

	g := &c.Guard
	g.StoreTimeout = getEnvDuration("TENANTGATE_GUARD_STORE_TIMEOUT", g.StoreTimeout)
	g.SignInPath = getEnv("TENANTGATE_SIGN_IN_PATH", g.SignInPath)
	g.LandingPath = getEnv("TENANTGATE_LANDING_PATH", g.LandingPath)
	g.SetupPath = getEnv("TENANTGATE_SETUP_PATH", g.SetupPath)

	i := &c.Invitations
	i.TTL = getEnvDuration("TENANTGATE_INVITATION_TTL", i.TTL)
	i.RequireEmailMatch = getEnvBool("TENANTGATE_INVITATION_REQUIRE_EMAIL_MATCH", i.RequireEmailMatch)
	i.PurgeAfter = getEnvDuration("TENANTGATE_INVITATION_PURGE_AFTER", i.PurgeAfter)

	l := &c.RateLimit
	l.RequestsPerMinute = getEnvInt("TENANTGATE_RATELIMIT_PER_MINUTE", l.RequestsPerMinute)
	l.Distributed = getEnvBool("TENANTGATE_RATELIMIT_DISTRIBUTED", l.Distributed)
	l.MaxKeys = getEnvInt("TENANTGATE_RATELIMIT_MAX_KEYS", l.MaxKeys)

	m := &c.Maintenance
	m.Enabled = getEnvBool("TENANTGATE_MAINTENANCE_ENABLED", m.Enabled)
	m.PurgeSchedule = getEnv("TENANTGATE_PURGE_SCHEDULE", m.PurgeSchedule)

	o := &c.Observability
	o.LogLevel = getEnv("TENANTGATE_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("TENANTGATE_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("TENANTGATE_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("TENANTGATE_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("TENANTGATE_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("TENANTGATE_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("TENANTGATE_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("TENANTGATE_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("database max connections must be at least 1")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database min connections (%d) exceeds max connections (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	if c.Auth.SessionSecret == "" && c.Auth.OIDCIssuerURL == "" {
		return fmt.Errorf("a session secret or an OIDC issuer is required")
	}
	if c.Auth.SessionSecret != "" && len(c.Auth.SessionSecret) < 32 {
		return fmt.Errorf("session secret must be at least 32 bytes")
	}
	if c.Auth.OIDCIssuerURL != "" && c.Auth.OIDCClientID == "" {
		return fmt.Errorf("OIDC client id is required when an OIDC issuer is set")
	}

	if c.Guard.StoreTimeout <= 0 {
		return fmt.Errorf("guard store timeout must be positive")
	}
	for name, path := range map[string]string{
		"sign-in": c.Guard.SignInPath,
		"landing": c.Guard.LandingPath,
		"setup":   c.Guard.SetupPath,
	} {
		if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
			return fmt.Errorf("%s path must be a local absolute path, got %q", name, path)
		}
	}

	if c.Invitations.TTL <= 0 {
		return fmt.Errorf("invitation TTL must be positive")
	}

	if c.RateLimit.RequestsPerMinute < 1 {
		return fmt.Errorf("rate limit must allow at least one request per minute")
	}
	if c.RateLimit.Distributed && c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required for distributed rate limiting")
	}

	if c.Maintenance.Enabled && c.Maintenance.PurgeSchedule == "" {
		return fmt.Errorf("purge schedule is required when maintenance is enabled")
	}

	switch strings.ToLower(c.Observability.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Observability.LogLevel)
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

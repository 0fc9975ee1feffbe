package config

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/healthevents/internal/domain/timing"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	ProfileCacheTTL    time.Duration `mapstructure:"PROFILE_CACHE_TTL"`
	DefaultTenant      string        `mapstructure:"DEFAULT_TENANT"`
	DefaultTimezone    string        `mapstructure:"DEFAULT_TIMEZONE"`
	QueryWindowMinutes int           `mapstructure:"QUERY_WINDOW_MINUTES"`
	WindowTableFile    string        `mapstructure:"WINDOW_TABLE_FILE"`
	AuthSigningKey     string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer         string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience       string        `mapstructure:"AUTH_AUDIENCE"`
	OTLPEndpoint       string        `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS       float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout     time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "PROFILE_CACHE_TTL", "DEFAULT_TENANT", "DEFAULT_TIMEZONE",
	"QUERY_WINDOW_MINUTES", "WINDOW_TABLE_FILE", "AUTH_SIGNING_KEY", "AUTH_ISSUER",
	"AUTH_AUDIENCE", "OTEL_EXPORTER_OTLP_ENDPOINT", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
}

// Load reads the environment and an optional .env file. Only DATABASE_URL is
// mandatory here; Validate enforces the rest.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("PROFILE_CACHE_TTL", "5m")
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("DEFAULT_TIMEZONE", "UTC")
	v.SetDefault("QUERY_WINDOW_MINUTES", int(timing.DefaultOffset/time.Minute))
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		log.Println("WARNING: ENV=development without AUTH_SIGNING_KEY: every request is treated as admin.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// QueryOffset is the half-width of exact-time query windows.
func (c *Config) QueryOffset() time.Duration {
	return time.Duration(c.QueryWindowMinutes) * time.Minute
}

// Validate checks that the configuration is safe to run. Outside development
// bearer tokens must be verifiable, so AUTH_SIGNING_KEY is required.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}
	if _, err := timing.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("DEFAULT_TIMEZONE: %w", err)
	}
	if c.QueryWindowMinutes <= 0 {
		return fmt.Errorf("QUERY_WINDOW_MINUTES must be positive, got %d", c.QueryWindowMinutes)
	}
	if c.ProfileCacheTTL < 0 {
		return fmt.Errorf("PROFILE_CACHE_TTL must not be negative, got %s", c.ProfileCacheTTL)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

// WindowTable returns the configured window table, or nil for the default one.
func (c *Config) WindowTable() (timing.Table, error) {
	if c.WindowTableFile == "" {
		return nil, nil
	}
	return timing.LoadTable(c.WindowTableFile)
}

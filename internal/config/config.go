package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	pkgconfig "github.com/utafrali/storefront/pkg/config"
	"github.com/utafrali/storefront/pkg/database"
)

// Slot backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the storefront.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort      int  `env:"STOREFRONT_HTTP_PORT" envDefault:"8080"`
	SecureCookies bool `env:"SECURE_COOKIES" envDefault:"false"`

	// Slot storage
	SlotBackend string        `env:"SLOT_BACKEND" envDefault:"memory"`
	SlotTTL     time.Duration `env:"SLOT_TTL" envDefault:"0s"`

	// Redis
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"storefront"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"storefront"`
	PostgresDB   string `env:"POSTGRES_DB" envDefault:"storefront"`
	PostgresSSL  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Rate limiting of mutating routes
	RateLimitRPS      float64 `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst    int     `env:"RATE_LIMIT_BURST" envDefault:"20"`
	TrustProxyHeaders bool    `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	// Cross-origin access to /api/v1; development allows any origin.
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// Catalog responses
	CatalogCacheMaxAge int `env:"CATALOG_CACHE_MAX_AGE" envDefault:"60"`

	// Profiling endpoints are mounted only when at least one CIDR is listed.
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envSeparator:","`

	// Page behaviour
	NotificationTTL      time.Duration `env:"NOTIFICATION_TTL" envDefault:"3s"`
	ConsentDelay         time.Duration `env:"CONSENT_DELAY" envDefault:"2s"`
	ConsentRetryAttempts int           `env:"CONSENT_RETRY_ATTEMPTS" envDefault:"5"`
	ConsentRetryInterval time.Duration `env:"CONSENT_RETRY_INTERVAL" envDefault:"500ms"`
	ContactSendDelay     time.Duration `env:"CONTACT_SEND_DELAY" envDefault:"1500ms"`
	ContactResetDelay    time.Duration `env:"CONTACT_RESET_DELAY" envDefault:"3s"`
	FeaturedCount        int           `env:"FEATURED_COUNT" envDefault:"3"`
	PageIdleTimeout      time.Duration `env:"PAGE_IDLE_TIMEOUT" envDefault:"30m"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return load(nil)
}

func load(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.LoadFrom(cfg, environ); err != nil {
		return nil, fmt.Errorf("load storefront config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	switch c.SlotBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis backend")
		}
	case BackendPostgres:
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required for the postgres backend")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required for the postgres backend")
		}
	default:
		return fmt.Errorf("SLOT_BACKEND must be one of memory, redis, postgres, got %q", c.SlotBackend)
	}
	if c.SlotTTL < 0 {
		return fmt.Errorf("SLOT_TTL must not be negative")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	for name, d := range map[string]time.Duration{
		"NOTIFICATION_TTL":       c.NotificationTTL,
		"CONSENT_DELAY":          c.ConsentDelay,
		"CONSENT_RETRY_INTERVAL": c.ConsentRetryInterval,
		"CONTACT_SEND_DELAY":     c.ContactSendDelay,
		"CONTACT_RESET_DELAY":    c.ContactResetDelay,
		"PAGE_IDLE_TIMEOUT":      c.PageIdleTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.ConsentRetryAttempts < 0 {
		return fmt.Errorf("CONSENT_RETRY_ATTEMPTS must not be negative")
	}
	if c.FeaturedCount < 1 {
		return fmt.Errorf("FEATURED_COUNT must be at least 1")
	}
	if c.CatalogCacheMaxAge < 0 {
		return fmt.Errorf("CATALOG_CACHE_MAX_AGE must not be negative")
	}
	for _, cidr := range c.PprofAllowedCIDRs {
		if _, _, err := net.ParseCIDR(strings.TrimSpace(cidr)); err != nil {
			return fmt.Errorf("PPROF_ALLOWED_CIDRS: invalid CIDR %q", cidr)
		}
	}
	return nil
}

// Postgres returns the pool settings for the postgres backend.
func (c *Config) Postgres() *database.PostgresConfig {
	pc := database.DefaultPostgresConfig()
	pc.Host = c.PostgresHost
	pc.Port = c.PostgresPort
	pc.User = c.PostgresUser
	pc.Password = c.PostgresPass
	pc.DBName = c.PostgresDB
	pc.SSLMode = c.PostgresSSL
	return &pc
}

// Redis returns the client settings for the redis backend.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{Addr: c.RedisAddr, Password: c.RedisPass, DB: c.RedisDB}
}

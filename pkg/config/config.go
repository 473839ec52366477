package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the runtime configuration for the instrument provider.
type Config struct {
	ServiceName string
	Env         string
	Venue       string
	LogLevel    string
	LogFile     string

	CatalogBaseURL    string
	CatalogSecretName string
	CatalogAPIKey     string // used when no secret name is configured
	AWSRegion         string
	HTTPClientTimeout time.Duration
	HTTPRetryMax      int
	RateRPS           float64
	RateBurst         int

	NATSEnabled     bool
	NATSURL         string
	OutboundSubject string

	StoreEnabled bool
	RedisAddr    string
	RedisDB      int
	RedisPass    string
	DatabaseURL  string

	PGMaxConns          int
	PGMinConns          int
	PGMaxConnLifetime   time.Duration
	PGMaxConnIdleTime   time.Duration
	PGHealthCheckPeriod time.Duration

	Port             int
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	HTTPBodyLimit    int

	CacheTTL        time.Duration
	RefreshInterval time.Duration
	InitRetry       time.Duration

	ProviderConfigPath string
	Provider           ProviderSettings
}

// Load loads configuration from environment variables and optional .env file.
// Provider settings come from PROVIDER_CONFIG_PATH when set; LOAD_ALL,
// LOAD_IDS and LOAD_TIMEOUT override whatever the file says.
func Load() (*Config, error) {
	_ = godotenv.Load()

	venue := strings.ToUpper(GetEnv("VENUE", "CATALOG"))
	cfg := &Config{
		ServiceName:         GetEnv("SERVICE_NAME", "instrument-provider"),
		Env:                 GetEnv("ENV", "dev"),
		Venue:               venue,
		LogLevel:            GetEnv("LOG_LEVEL", "info"),
		LogFile:             GetEnv("LOG_FILE", ""),
		CatalogBaseURL:      GetEnv("CATALOG_BASE_URL", "http://localhost:8081"),
		CatalogSecretName:   GetEnv("CATALOG_SECRET_NAME", ""),
		CatalogAPIKey:       GetEnv("CATALOG_API_KEY", ""),
		AWSRegion:           GetEnv("AWS_REGION", "us-east-2"),
		HTTPClientTimeout:   GetEnvDuration("HTTP_CLIENT_TIMEOUT", 15*time.Second),
		HTTPRetryMax:        GetEnvInt("HTTP_RETRY_MAX", 3),
		RateRPS:             GetEnvFloat("RATE_RPS", 5),
		RateBurst:           GetEnvInt("RATE_BURST", 5),
		NATSEnabled:         GetEnvBool("NATS_ENABLED", true),
		NATSURL:             GetEnv("NATS_URL", "nats://localhost:4222"),
		OutboundSubject:     GetEnv("OUTBOUND_SUBJECT", "evt.reference.instruments_loaded.v1."+venue),
		StoreEnabled:        GetEnvBool("STORE_ENABLED", true),
		RedisAddr:           GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:             GetEnvInt("REDIS_DB", 0),
		RedisPass:           GetEnv("REDIS_PASS", ""),
		DatabaseURL:         GetEnv("DATABASE_URL", ""),
		PGMaxConns:          GetEnvInt("PG_MAX_CONNS", 10),
		PGMinConns:          GetEnvInt("PG_MIN_CONNS", 2),
		PGMaxConnLifetime:   GetEnvDuration("PG_MAX_CONN_LIFETIME", 30*time.Minute),
		PGMaxConnIdleTime:   GetEnvDuration("PG_MAX_CONN_IDLE_TIME", 5*time.Minute),
		PGHealthCheckPeriod: GetEnvDuration("PG_HEALTH_CHECK_PERIOD", 1*time.Minute),
		Port:                GetEnvInt("PORT", 9040),
		HTTPReadTimeout:     GetEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout:    GetEnvDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
		HTTPIdleTimeout:     GetEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		HTTPBodyLimit:       GetEnvInt("HTTP_BODY_LIMIT", 1*1024*1024),
		CacheTTL:            GetEnvDuration("CACHE_TTL", 15*time.Minute),
		RefreshInterval:     GetEnvDuration("REFRESH_INTERVAL", 0),
		InitRetry:           GetEnvDuration("INIT_RETRY_INTERVAL", 30*time.Second),
		ProviderConfigPath:  GetEnv("PROVIDER_CONFIG_PATH", ""),
	}

	if cfg.ProviderConfigPath != "" {
		s, err := LoadProviderSettings(cfg.ProviderConfigPath)
		if err != nil {
			return nil, err
		}
		cfg.Provider = s
	}
	cfg.Provider.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if c.Venue == "" {
		return fmt.Errorf("VENUE is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Port)
	}
	if c.RateRPS <= 0 {
		return fmt.Errorf("RATE_RPS must be positive")
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("REFRESH_INTERVAL must not be negative")
	}
	return nil
}

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Medusa       MedusaConfig
	Storefront   StorefrontConfig
	HTTP         HTTPConfig
	AuthLimit    AuthRateLimitConfig
	Redis        RedisConfig
	DB           DBConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Medusa.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storefront.validate(); err != nil {
		return nil, err
	}
	if cfg.Storefront.StateDriver == StateDriverSQL {
		if err := cfg.DB.validate(); err != nil {
			return nil, err
		}
	}
	if cfg.Storefront.StateDriver == StateDriverRedis && cfg.Redis.URL == "" && cfg.Redis.Address == "" {
		return nil, fmt.Errorf("%s or %s is required for the redis state driver", EnvRedisURL, EnvRedisAddr)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREFRONT_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// MedusaConfig points the storefront at the commerce backend.
type MedusaConfig struct {
	BaseURL        string        `envconfig:"STOREFRONT_MEDUSA_BASE_URL" required:"true"`
	PublishableKey string        `envconfig:"STOREFRONT_MEDUSA_PUBLISHABLE_KEY" required:"true"`
	RequestTimeout time.Duration `envconfig:"STOREFRONT_MEDUSA_REQUEST_TIMEOUT" default:"10s"`
	RateLimitRPS   float64       `envconfig:"STOREFRONT_MEDUSA_RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst int           `envconfig:"STOREFRONT_MEDUSA_RATE_LIMIT_BURST" default:"10"`
}

func (m MedusaConfig) validate() error {
	parsed, err := url.Parse(strings.TrimSpace(m.BaseURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%s must be an absolute url", EnvMedusaBaseURL)
	}
	if strings.TrimSpace(m.PublishableKey) == "" {
		return fmt.Errorf("%s is required", EnvMedusaPublishableKey)
	}
	return nil
}

type StorefrontConfig struct {
	DefaultCountry   string `envconfig:"STOREFRONT_DEFAULT_COUNTRY" default:"gb"`
	StateDriver      string `envconfig:"STOREFRONT_STATE_DRIVER" default:"memory"`
	SessionCacheSize int    `envconfig:"STOREFRONT_SESSION_CACHE_SIZE" default:"1024"`
	SessionHeader    string `envconfig:"STOREFRONT_SESSION_HEADER" default:"X-Storefront-Session"`
}

// Driver returns the normalized state driver name.
func (s StorefrontConfig) Driver() string {
	return strings.ToLower(strings.TrimSpace(s.StateDriver))
}

func (s *StorefrontConfig) validate() error {
	s.StateDriver = s.Driver()
	switch s.StateDriver {
	case StateDriverMemory, StateDriverRedis, StateDriverSQL:
	default:
		return fmt.Errorf("%s must be one of %s, %s, %s", EnvStateDriver, StateDriverMemory, StateDriverRedis, StateDriverSQL)
	}
	if s.SessionCacheSize <= 0 {
		return fmt.Errorf("%s must be positive", EnvSessionCacheSize)
	}
	s.DefaultCountry = strings.ToLower(strings.TrimSpace(s.DefaultCountry))
	return nil
}

// HTTPConfig tunes the facade server.
type HTTPConfig struct {
	CORSOrigins     []string      `envconfig:"STOREFRONT_CORS_ORIGINS" default:"http://localhost:3000"`
	ReadTimeout     time.Duration `envconfig:"STOREFRONT_HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"STOREFRONT_HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"STOREFRONT_HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
}

// AuthRateLimitConfig bounds login and register attempts per client IP and per email.
type AuthRateLimitConfig struct {
	Window     time.Duration `envconfig:"STOREFRONT_AUTH_RATE_LIMIT_WINDOW" default:"1m"`
	IPLimit    int           `envconfig:"STOREFRONT_AUTH_RATE_LIMIT_IP" default:"20"`
	EmailLimit int           `envconfig:"STOREFRONT_AUTH_RATE_LIMIT_EMAIL" default:"5"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"3s"`
	StateTTL     time.Duration `envconfig:"STOREFRONT_REDIS_STATE_TTL" default:"720h"`
}

type DBConfig struct {
	Driver string `envconfig:"STOREFRONT_DB_DRIVER" default:"sqlite"`
	DSN    string `envconfig:"STOREFRONT_DB_DSN" default:"file:storefront.db?cache=shared"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (db *DBConfig) validate() error {
	db.Driver = strings.ToLower(strings.TrimSpace(db.Driver))
	switch db.Driver {
	case DBDriverPostgres, DBDriverSQLite:
	default:
		return fmt.Errorf("%s must be %s or %s", EnvDBDriver, DBDriverPostgres, DBDriverSQLite)
	}
	if strings.TrimSpace(db.DSN) == "" {
		return fmt.Errorf("%s is required for the sql state driver", EnvDBDSN)
	}
	return nil
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
	Metrics     bool `envconfig:"STOREFRONT_METRICS_ENABLED" default:"true"`
}

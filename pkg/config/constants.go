package config

const EnvPrefix = "STOREFRONT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	StateDriverMemory = "memory"
	StateDriverRedis  = "redis"
	StateDriverSQL    = "sql"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	EnvAppEnv               = "STOREFRONT_APP_ENV"
	EnvPort                 = "STOREFRONT_APP_PORT"
	EnvMedusaBaseURL        = "STOREFRONT_MEDUSA_BASE_URL"
	EnvMedusaPublishableKey = "STOREFRONT_MEDUSA_PUBLISHABLE_KEY"
	EnvMedusaTimeout        = "STOREFRONT_MEDUSA_REQUEST_TIMEOUT"
	EnvDefaultCountry       = "STOREFRONT_DEFAULT_COUNTRY"
	EnvStateDriver          = "STOREFRONT_STATE_DRIVER"
	EnvSessionCacheSize     = "STOREFRONT_SESSION_CACHE_SIZE"
	EnvRedisURL             = "STOREFRONT_REDIS_URL"
	EnvRedisAddr            = "STOREFRONT_REDIS_ADDR"
	EnvDBDriver             = "STOREFRONT_DB_DRIVER"
	EnvDBDSN                = "STOREFRONT_DB_DSN"
)

package config

const (
	EnvPrefix = "ALLOCATOR"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "ALLOCATOR_APP_ENV"
	EnvPort     = "ALLOCATOR_APP_PORT"
	EnvLogLevel = "ALLOCATOR_LOG_LEVEL"

	EnvDBDSN  = "ALLOCATOR_DB_DSN"
	EnvDBHost = "ALLOCATOR_DB_HOST"
	EnvDBPort = "ALLOCATOR_DB_PORT"
	EnvDBUser = "ALLOCATOR_DB_USER"
	EnvDBPass = "ALLOCATOR_DB_PASSWORD"
	EnvDBName = "ALLOCATOR_DB_NAME"

	EnvRedisURL    = "ALLOCATOR_REDIS_URL"
	EnvUseSQLite   = "ALLOCATOR_USE_SQLITE"
	EnvAutoMigrate = "ALLOCATOR_AUTO_MIGRATE"

	EnvCronInterval     = "ALLOCATOR_CRON_INTERVAL"
	EnvRateLimitWrites  = "ALLOCATOR_RATE_LIMIT_WRITES"
	EnvReoptimizeCancel = "ALLOCATOR_REOPTIMIZE_ON_CANCEL"
	EnvGCPProjectID     = "ALLOCATOR_GCP_PROJECT_ID"

	defaultSQLiteDSN = "file:allocator.db?cache=shared"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

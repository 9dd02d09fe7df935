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
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Auth         AuthConfig
	RateLimit    RateLimitConfig
	Idempotency  IdempotencyConfig
	FeatureFlags FeatureFlagsConfig
	Allocation   AllocationConfig
	Cron         CronConfig
	Outbox       OutboxConfig
	PubSub       PubSubConfig
	GCP          GCPConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ALLOCATOR_APP_ENV" required:"true"`
	Port         string `envconfig:"ALLOCATOR_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"ALLOCATOR_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ALLOCATOR_LOG_WARN_STACK" default:"false"`
	// MetricsAddr is the /metrics listener of background binaries. Empty
	// disables it; the api serves /metrics on its own router.
	MetricsAddr string `envconfig:"ALLOCATOR_METRICS_ADDR"`
	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string `envconfig:"ALLOCATOR_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

// Configured reports whether a redis endpoint was provided.
func (r RedisConfig) Configured() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ALLOCATOR_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ALLOCATOR_DB_DSN"`
	Driver string `envconfig:"ALLOCATOR_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ALLOCATOR_DB_HOST"`
	LegacyPort     int    `envconfig:"ALLOCATOR_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ALLOCATOR_DB_USER"`
	LegacyPassword string `envconfig:"ALLOCATOR_DB_PASSWORD"`
	LegacyName     string `envconfig:"ALLOCATOR_DB_NAME"`
	LegacySSLMode  string `envconfig:"ALLOCATOR_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ALLOCATOR_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ALLOCATOR_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ALLOCATOR_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ALLOCATOR_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	LockTimeout     time.Duration `envconfig:"ALLOCATOR_DB_LOCK_TIMEOUT" default:"5s"`
	// SlowQuery is the duration above which statements are logged at warn.
	SlowQuery time.Duration `envconfig:"ALLOCATOR_DB_SLOW_QUERY" default:"200ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ALLOCATOR_REDIS_URL"`
	Address      string        `envconfig:"ALLOCATOR_REDIS_ADDR"`
	Password     string        `envconfig:"ALLOCATOR_REDIS_PASSWORD"`
	DB           int           `envconfig:"ALLOCATOR_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ALLOCATOR_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ALLOCATOR_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ALLOCATOR_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ALLOCATOR_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ALLOCATOR_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// AuthConfig holds the argon2id parameters used to hash API key secrets.
type AuthConfig struct {
	ArgonMemoryKB    int `envconfig:"ALLOCATOR_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"ALLOCATOR_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"ALLOCATOR_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"ALLOCATOR_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"ALLOCATOR_ARGON_KEY_LEN" default:"32"`
}

type RateLimitConfig struct {
	Window     time.Duration `envconfig:"ALLOCATOR_RATE_LIMIT_WINDOW" default:"1m"`
	WriteLimit int           `envconfig:"ALLOCATOR_RATE_LIMIT_WRITES" default:"120"`
	Disabled   bool          `envconfig:"ALLOCATOR_RATE_LIMIT_DISABLED" default:"false"`
}

type IdempotencyConfig struct {
	TTL time.Duration `envconfig:"ALLOCATOR_IDEMPOTENCY_TTL" default:"24h"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"ALLOCATOR_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"ALLOCATOR_AUTO_MIGRATE" default:"false"`
}

// AllocationConfig toggles the eager reoptimization triggers.
type AllocationConfig struct {
	ReoptimizeOnCancel  bool `envconfig:"ALLOCATOR_REOPTIMIZE_ON_CANCEL" default:"true"`
	ReoptimizeOnRestock bool `envconfig:"ALLOCATOR_REOPTIMIZE_ON_RESTOCK" default:"true"`
	// ReoptimizeBatchLimit is the page size a pass loads candidates in. Every
	// page is visited; zero loads them all at once.
	ReoptimizeBatchLimit int `envconfig:"ALLOCATOR_REOPTIMIZE_BATCH_LIMIT" default:"500"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"ALLOCATOR_CRON_INTERVAL" default:"5m"`
	LockTTL         time.Duration `envconfig:"ALLOCATOR_CRON_LOCK_TTL" default:"10m"`
	OutboxRetention time.Duration `envconfig:"ALLOCATOR_OUTBOX_RETENTION" default:"168h"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"ALLOCATOR_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"ALLOCATOR_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"ALLOCATOR_OUTBOX_MAX_ATTEMPTS" default:"10"`
	// ConsumerDedupTTL is how long a consumed event id is remembered.
	ConsumerDedupTTL time.Duration `envconfig:"ALLOCATOR_EVENT_DEDUP_TTL" default:"72h"`
}

type PubSubConfig struct {
	OrdersTopic        string `envconfig:"ALLOCATOR_PUBSUB_ORDERS_TOPIC" default:"allocator-order-events"`
	InventoryTopic     string `envconfig:"ALLOCATOR_PUBSUB_INVENTORY_TOPIC" default:"allocator-inventory-events"`
	OrdersSubscription string `envconfig:"ALLOCATOR_PUBSUB_ORDERS_SUBSCRIPTION"`
	// InventorySubscription feeds restock events to the event worker.
	InventorySubscription string `envconfig:"ALLOCATOR_PUBSUB_INVENTORY_SUBSCRIPTION"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"ALLOCATOR_GCP_PROJECT_ID"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" {
		return nil
	}
	if useSQLite {
		db.DSN = defaultSQLiteDSN
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

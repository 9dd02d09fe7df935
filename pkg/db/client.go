package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/warehouse-allocator/pkg/config"
	"github.com/angelmondragon/warehouse-allocator/pkg/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Client owns the pooled GORM connection. Every write path goes through
// WithTx.
type Client struct {
	conn        *gorm.DB
	driver      string
	lockTimeout time.Duration
}

// New connects, applies pool limits and pings once. SQLite ignores row
// locks and is meant for local runs only.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	driver, dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	var queryLog gormlogger.Interface
	if logg != nil {
		queryLog = newQueryLogger(logg, cfg.SlowQuery)
	}
	conn, err := open(dialector, queryLog)
	if err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db handle: %w", err)
	}
	setIfPositive(cfg.MaxOpenConns, sqlDB.SetMaxOpenConns)
	setIfPositive(cfg.MaxIdleConns, sqlDB.SetMaxIdleConns)
	setIfPositive(cfg.ConnMaxLifetime, sqlDB.SetConnMaxLifetime)
	setIfPositive(cfg.ConnMaxIdleTime, sqlDB.SetConnMaxIdleTime)

	client := &Client{conn: conn, driver: driver}
	if driver == DriverPostgres {
		client.lockTimeout = cfg.LockTimeout
	}
	if err := client.Ping(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("pinging %s: %w", driver, err)
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"driver":         driver,
			"max_open_conns": cfg.MaxOpenConns,
			"lock_timeout":   client.lockTimeout.String(),
		}), "database connection established")
	}
	return client, nil
}

func dialectorFor(cfg config.DBConfig) (string, gorm.Dialector, error) {
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", DriverPostgres:
		return DriverPostgres, postgres.New(postgres.Config{DSN: cfg.DSN, PreferSimpleProtocol: true}), nil
	case DriverSQLite:
		return DriverSQLite, sqlite.Open(cfg.DSN), nil
	default:
		return "", nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func setIfPositive[T int | time.Duration](value T, set func(T)) {
	if value > 0 {
		set(value)
	}
}

// Open creates a GORM handle that logs nothing. Tests and tooling use it.
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	return open(dialector, gormlogger.Discard)
}

func open(dialector gorm.Dialector, queryLog gormlogger.Interface) (*gorm.DB, error) {
	if queryLog == nil {
		queryLog = gormlogger.Discard
	}
	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 queryLog,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening db connection: %w", err)
	}
	return conn, nil
}

// NewFromConn wraps an existing GORM handle.
func NewFromConn(conn *gorm.DB) *Client {
	return &Client{conn: conn, driver: conn.Dialector.Name()}
}

func (c *Client) DB() *gorm.DB {
	return c.conn
}

func (c *Client) Driver() string {
	return c.driver
}

func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (c *Client) Close() error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx runs fn in a transaction, rolling back when fn errors or panics.
// On postgres the configured lock_timeout bounds every row lock fn takes, so
// contended stock surfaces as a lock error instead of a hung request.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) (err error) {
	tx := c.conn.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
		if err != nil {
			tx.Rollback()
		}
	}()

	if c.lockTimeout > 0 {
		if err = tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", c.lockTimeout.Milliseconds())).Error; err != nil {
			return fmt.Errorf("setting lock timeout: %w", err)
		}
	}
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit().Error
}

package hashpolicy

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/porthorian/hashpolicy/pkg/storage/memory"
	"github.com/porthorian/hashpolicy/pkg/storage/postgres"
	redisstore "github.com/porthorian/hashpolicy/pkg/storage/redis"
)

type StorageBackend string

const (
	StorageBackendNone     StorageBackend = "none"
	StorageBackendMemory   StorageBackend = "memory"
	StorageBackendPostgres StorageBackend = "postgres"
	StorageBackendRedis    StorageBackend = "redis"
)

// RuntimeConfig selects a storage backend for stores the caller did not
// supply. Stores set directly on Config always win.
type RuntimeConfig struct {
	Storage StorageConfig `yaml:"storage"`
}

type StorageConfig struct {
	Backend  StorageBackend    `yaml:"backend"`
	Postgres PostgresConfig    `yaml:"postgres"`
	Redis    redisstore.Config `yaml:"redis"`
}

type PostgresConfig struct {
	DriverName      string                                               `yaml:"driver"`
	DSN             string                                               `yaml:"dsn"`
	MaxOpenConns    int                                                  `yaml:"max_open_conns"`
	MaxIdleConns    int                                                  `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration                                        `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration                                        `yaml:"conn_max_idle_time"`
	PingTimeout     time.Duration                                        `yaml:"ping_timeout"`
	OpenDB          func(driverName string, dsn string) (*sql.DB, error) `yaml:"-"`
}

func (c Config) initialize(ctx context.Context) (func() error, Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	config := c
	config.Logger = resolveLogger(config.Logger)

	closeStorage, config, err := initializeStorage(ctx, config)
	if err != nil {
		return nil, Config{}, err
	}

	return joinClosers(closeStorage), config, nil
}

func initializeStorage(ctx context.Context, config Config) (func() error, Config, error) {
	backend := config.Runtime.Storage.Backend
	if backend == "" {
		backend = StorageBackendNone
	}

	switch backend {
	case StorageBackendNone:
		return noopCloser, config, nil
	case StorageBackendMemory:
		return initializeMemory(config)
	case StorageBackendPostgres:
		return initializePostgres(ctx, config)
	case StorageBackendRedis:
		return initializeRedis(ctx, config)
	default:
		return nil, Config{}, fmt.Errorf("hashpolicy config: unsupported runtime.storage.backend %q", backend)
	}
}

func initializeMemory(config Config) (func() error, Config, error) {
	adapter := memory.NewAdapter()

	if config.CredentialStore == nil {
		config.CredentialStore = adapter
	}
	if config.LogStore == nil {
		config.LogStore = adapter
	}

	config.Logger.V(1).Info("initialized memory storage backend")
	return noopCloser, config, nil
}

func initializeRedis(ctx context.Context, config Config) (func() error, Config, error) {
	redisConfig := config.Runtime.Storage.Redis
	if redisConfig.Address == "" {
		return nil, Config{}, fmt.Errorf("hashpolicy config: runtime.storage.redis.address is required")
	}
	if redisConfig.DialTimeout <= 0 {
		redisConfig.DialTimeout = 5 * time.Second
	}

	adapter, err := redisstore.NewAdapter(redisConfig)
	if err != nil {
		return nil, Config{}, fmt.Errorf("hashpolicy config: failed to initialize redis adapter: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, redisConfig.DialTimeout)
	defer cancel()

	if err := adapter.Ping(pingCtx); err != nil {
		_ = adapter.Close()
		return nil, Config{}, fmt.Errorf("hashpolicy config: failed to ping redis: %w", err)
	}

	if config.CredentialStore == nil {
		config.CredentialStore = adapter
	}
	if config.LogStore == nil {
		config.LogStore = adapter
	}

	config.Runtime.Storage.Redis = redisConfig
	config.Logger.V(1).Info("initialized redis storage backend", "address", redisConfig.Address, "database", redisConfig.Database, "namespace", redisConfig.Namespace)
	return adapter.Close, config, nil
}

func initializePostgres(ctx context.Context, config Config) (func() error, Config, error) {
	pgConfig := config.Runtime.Storage.Postgres
	if pgConfig.DSN == "" {
		return nil, Config{}, fmt.Errorf("hashpolicy config: runtime.storage.postgres.dsn is required")
	}

	if pgConfig.DriverName == "" {
		pgConfig.DriverName = "pgx"
	}
	if pgConfig.PingTimeout <= 0 {
		pgConfig.PingTimeout = 5 * time.Second
	}
	if pgConfig.OpenDB == nil {
		pgConfig.OpenDB = sql.Open
	}

	db, err := pgConfig.OpenDB(pgConfig.DriverName, pgConfig.DSN)
	if err != nil {
		return nil, Config{}, fmt.Errorf("hashpolicy config: failed to open postgres database: %w", err)
	}

	if pgConfig.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pgConfig.MaxOpenConns)
	}
	if pgConfig.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pgConfig.MaxIdleConns)
	}
	if pgConfig.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pgConfig.ConnMaxLifetime)
	}
	if pgConfig.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pgConfig.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pgConfig.PingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, Config{}, fmt.Errorf("hashpolicy config: failed to ping postgres database: %w", err)
	}

	adapter, err := postgres.NewAdapter(db)
	if err != nil {
		_ = db.Close()
		return nil, Config{}, fmt.Errorf("hashpolicy config: failed to initialize postgres adapter: %w", err)
	}

	if config.CredentialStore == nil {
		config.CredentialStore = adapter
	}
	if config.LogStore == nil {
		config.LogStore = adapter
	}

	config.Runtime.Storage.Postgres = pgConfig
	config.Logger.V(1).Info("initialized postgres storage backend", "driver", pgConfig.DriverName, "max_open_conns", pgConfig.MaxOpenConns, "max_idle_conns", pgConfig.MaxIdleConns)
	return joinClosers(db.Close, adapter.Close), config, nil
}

// joinClosers runs closers in reverse order and joins their errors.
func joinClosers(closers ...func() error) func() error {
	return func() error {
		var errs []error

		for i := len(closers) - 1; i >= 0; i-- {
			if closers[i] == nil {
				continue
			}
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}

		return stderrors.Join(errs...)
	}
}

func noopCloser() error {
	return nil
}

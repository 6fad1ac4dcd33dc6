package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
)

type QueueDriver string

const (
	QueueDriverPostgres QueueDriver = "postgres"
	QueueDriverRedis    QueueDriver = "redis"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	JWTSecret   string `env:"JWT_SECRET,required,notEmpty"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:5173" envSeparator:","`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`

	QueueDriver    QueueDriver `env:"QUEUE_DRIVER" envDefault:"postgres"`
	RedisURL       string      `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RedisKeyPrefix string      `env:"REDIS_KEY_PREFIX" envDefault:"horse-sheet:balance"`

	RunDispatcher             bool `env:"RUN_DISPATCHER" envDefault:"false"`
	DispatchIntervalMS        int  `env:"DISPATCH_INTERVAL_MS" envDefault:"500"`
	DispatchBatchSize         int  `env:"DISPATCH_BATCH_SIZE" envDefault:"50"`
	DispatchPartitions        int  `env:"DISPATCH_PARTITIONS" envDefault:"8"`
	DispatchMaxAttempts       int  `env:"DISPATCH_MAX_ATTEMPTS" envDefault:"5"`
	DispatchBackoffInitialMS  int  `env:"DISPATCH_BACKOFF_INITIAL_MS" envDefault:"1000"`
	DispatchBackoffMaxMS      int  `env:"DISPATCH_BACKOFF_MAX_MS" envDefault:"60000"`
	DispatchVisibilityTimeout int  `env:"DISPATCH_VISIBILITY_TIMEOUT_S" envDefault:"60"`

	MinIOEndpoint  string `env:"MINIO_ENDPOINT"`
	MinIOAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinIOSecretKey string `env:"MINIO_SECRET_KEY"`
	MinIOBucket    string `env:"MINIO_BUCKET" envDefault:"billing-exports"`
	MinIOUseSSL    bool   `env:"MINIO_USE_SSL" envDefault:"false"`

	ReconcileApply bool `env:"RECONCILE_APPLY" envDefault:"false"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

func (c Config) validate() error {
	switch c.QueueDriver {
	case QueueDriverPostgres, QueueDriverRedis:
	default:
		return fmt.Errorf("unsupported QUEUE_DRIVER %q", c.QueueDriver)
	}
	if c.DispatchPartitions < 1 {
		return fmt.Errorf("DISPATCH_PARTITIONS must be at least 1")
	}
	if c.DispatchMaxAttempts < 1 {
		return fmt.Errorf("DISPATCH_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func (c Config) DispatchInterval() time.Duration {
	return time.Duration(c.DispatchIntervalMS) * time.Millisecond
}

func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.DispatchBackoffInitialMS) * time.Millisecond
}

func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.DispatchBackoffMaxMS) * time.Millisecond
}

func (c Config) VisibilityTimeout() time.Duration {
	return time.Duration(c.DispatchVisibilityTimeout) * time.Second
}

func (c Config) ExportsEnabled() bool {
	return c.MinIOEndpoint != ""
}

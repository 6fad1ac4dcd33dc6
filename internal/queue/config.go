package queue

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/josh-kwaku/horse-sheet/internal/config"
	"github.com/josh-kwaku/horse-sheet/internal/repository"
)

func DispatcherConfigFromConfig(cfg *config.Config) DispatcherConfig {
	retry := DefaultRetryPolicy()
	retry.MaxAttempts = cfg.DispatchMaxAttempts
	retry.Initial = cfg.BackoffInitial()
	retry.Max = cfg.BackoffMax()
	return DispatcherConfig{
		Interval:   cfg.DispatchInterval(),
		BatchSize:  cfg.DispatchBatchSize,
		Partitions: cfg.DispatchPartitions,
		Retry:      retry,
	}
}

// Backend is the configured queue plus the Redis client behind it, which
// is nil for the Postgres driver.
type Backend struct {
	Queue
	Redis *redis.Client
}

func (b *Backend) Close() error {
	if b.Redis == nil {
		return nil
	}
	return b.Redis.Close()
}

func (b *Backend) Ping(ctx context.Context) error {
	if b.Redis == nil {
		return nil
	}
	return b.Redis.Ping(ctx).Err()
}

// Open builds the queue selected by QUEUE_DRIVER.
func Open(ctx context.Context, cfg *config.Config, db *sql.DB) (*Backend, error) {
	switch cfg.QueueDriver {
	case config.QueueDriverRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("queue.Open: parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("queue.Open: ping redis: %w", err)
		}
		return &Backend{Queue: NewRedisQueue(rdb, cfg.RedisKeyPrefix), Redis: rdb}, nil
	default:
		jobs := repository.NewDeltaJobRepository(db)
		return &Backend{Queue: NewPostgresQueue(jobs, cfg.VisibilityTimeout())}, nil
	}
}

package database

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisOptions describes how to reach the redis record store.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
}

// OpenRedis builds a redis client, verifies connectivity with PING and
// applies pending record migrations.
func OpenRedis(ctx context.Context, options RedisOptions, logger *zap.Logger) (*redis.Client, error) {
	if options.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     options.Address,
		Password: options.Password,
		DB:       options.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", options.Address, err)
	}

	if err := applyRedisMigrations(ctx, client, logger); err != nil {
		_ = client.Close()
		return nil, err
	}

	if logger != nil {
		logger.Info("redis connected", zap.String("address", options.Address), zap.Int("db", options.DB))
	}

	return client, nil
}

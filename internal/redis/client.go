// Package redis holds the process-wide redis client shared by the relay
// server's presence store and the client's pub/sub signaling backend.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mossy-p/meshcall/config"
	"github.com/mossy-p/meshcall/internal/logger"
)

const connectRetries = 5

var client *redis.Client

// Connect initializes the Redis client, retrying the first ping with
// exponential backoff.
func Connect(ctx context.Context, cfg config.RedisConfig) error {
	c := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	log := logger.Named("redis")
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	eb.MaxElapsedTime = 15 * time.Second

	op := func() error {
		return c.Ping(ctx).Err()
	}
	notify := func(err error, next time.Duration) {
		log.Warn("redis ping failed, retrying", zap.Error(err), zap.Duration("next", next))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(eb, connectRetries), ctx), notify); err != nil {
		_ = c.Close()
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	client = c
	log.Info("redis connection established", zap.String("addr", c.Options().Addr))
	return nil
}

// Close closes the Redis connection
func Close() error {
	if client != nil {
		return client.Close()
	}
	return nil
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	return client
}

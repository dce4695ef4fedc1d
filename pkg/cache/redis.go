package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis-backed persistence layer.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisBacking is a Backing implementation over Redis. It stores serialized
// entries verbatim and lets Redis drop them server-side once their TTL
// elapses, in addition to the Store's own expiry bookkeeping.
type RedisBacking struct {
	redisClient *redis.Client
	logger      zerolog.Logger
}

// NewRedisBacking creates and connects a RedisBacking. It pings the Redis
// server to ensure connectivity before returning.
func NewRedisBacking(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisBacking, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis for cache backing.")

	return &RedisBacking{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisBacking").Logger(),
	}, nil
}

// Get returns the stored entry for a key, or (nil, nil) on a miss.
func (b *RedisBacking) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.redisClient.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get failed for key %s: %w", key, err)
	}
	return data, nil
}

// Set stores a serialized entry. A ttl of zero stores it without server-side
// expiry; the owning Store remains responsible for its lifecycle.
func (b *RedisBacking) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := b.redisClient.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed for key %s: %w", key, err)
	}
	return nil
}

// Delete removes a key. Absent keys are not an error.
func (b *RedisBacking) Delete(ctx context.Context, key string) error {
	if err := b.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del failed for key %s: %w", key, err)
	}
	return nil
}

// Keys lists stored keys with the given prefix.
func (b *RedisBacking) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := b.redisClient.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan failed for prefix %s: %w", prefix, err)
	}
	return keys, nil
}

// Close closes the Redis client connection.
func (b *RedisBacking) Close() error {
	if b.redisClient != nil {
		b.logger.Info().Msg("Closing Redis client connection...")
		return b.redisClient.Close()
	}
	return nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/config"

	"github.com/redis/go-redis/v9"
)

// RedisCache is the shared cache store. Keys are namespaced with a prefix so several
// deployments can share one Redis database.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisClient builds a client from config; it does not connect until first use.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (r *RedisCache) key(k string) string {
	return r.prefix + k
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	if r.client == nil {
		return "", false, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s from redis: %w", key, err)
	}
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s in redis: %w", key, err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s from redis: %w", key, err)
	}
	return nil
}

func (r *RedisCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	ok, err := r.client.SetNX(ctx, r.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to lock %s in redis: %w", key, err)
	}
	return ok, nil
}

func (r *RedisCache) Take(ctx context.Context, key string) (string, bool, error) {
	if r.client == nil {
		return "", false, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.GetDel(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to take %s from redis: %w", key, err)
	}
	return val, true, nil
}

// DeadLetters is the Redis list that receives terminally failed tasks for inspection.
type DeadLetters struct {
	client *redis.Client
	key    string
	max    int64
}

func NewDeadLetters(client *redis.Client, key string, max int64) *DeadLetters {
	return &DeadLetters{client: client, key: key, max: max}
}

func (d *DeadLetters) Push(ctx context.Context, payload []byte) error {
	if d == nil || d.client == nil {
		return nil
	}
	pipe := d.client.TxPipeline()
	pipe.LPush(ctx, d.key, payload)
	if d.max > 0 {
		pipe.LTrim(ctx, d.key, 0, d.max-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push dead letter: %w", err)
	}
	return nil
}

func (d *DeadLetters) List(ctx context.Context, limit int64) ([]string, error) {
	if d == nil || d.client == nil {
		return nil, nil
	}
	items, err := d.client.LRange(ctx, d.key, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}
	return items, nil
}

// Ping checks the connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close is nil-safe.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}

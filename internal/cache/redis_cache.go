package cache

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix = "posledger:"
	DefaultTTL       = 30 * time.Second

	scanCount = 200
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix is prepended to every key; several deployments can then
	// share one Redis database.
	KeyPrefix  string
	DefaultTTL time.Duration
}

// RedisReportCache stores report payloads as raw JSON strings under
// KeyPrefix + key.
type RedisReportCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisReportCache(opts RedisOptions) *RedisReportCache {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	return &RedisReportCache{client: client, prefix: opts.KeyPrefix, ttl: opts.DefaultTTL}
}

func (c *RedisReportCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReportCache) Close() error {
	return c.client.Close()
}

func (c *RedisReportCache) key(k string) string {
	return c.prefix + k
}

func (c *RedisReportCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisReportCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if len(payload) == 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, c.key(key), payload, ttl).Err()
}

func (c *RedisReportCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, c.key(k))
	}
	return c.client.Del(ctx, full...).Err()
}

// DeletePrefix scans instead of KEYS so a large keyspace does not block Redis.
// Keys are collected before deleting so the cursor is not disturbed.
func (c *RedisReportCache) DeletePrefix(ctx context.Context, prefix string) error {
	var keys []string
	iter := c.client.Scan(ctx, 0, c.key(prefix)+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	for start := 0; start < len(keys); start += scanCount {
		end := min(start+scanCount, len(keys))
		if err := c.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return err
		}
	}
	return nil
}

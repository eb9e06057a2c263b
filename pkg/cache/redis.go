package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanCount is the COUNT hint for SCAN during Clear.
const scanCount = 100

// RedisOptions configures a RedisCache.
type RedisOptions struct {
	Addr     string
	URL      string // redis:// URL, takes precedence over Addr
	Password string
	DB       int
	Prefix   string // prepended to every key, e.g. "quotecard:"
}

// RedisCache stores entries in Redis so several server processes share
// rendered images.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to Redis and verifies the connection with PING.
func NewRedisCache(ctx context.Context, opts RedisOptions) (*RedisCache, error) {
	var ropts *redis.Options
	if opts.URL != "" {
		parsed, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, err
		}
		ropts = parsed
	} else {
		ropts = &redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB}
	}

	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisCache{client: client, prefix: opts.Prefix}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, data, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}

func (c *RedisCache) Close() error { return c.client.Close() }

// ErrNoPrefix is returned by Clear on a cache without a key prefix, which
// would otherwise empty the whole database.
var ErrNoPrefix = errors.New("redis cache has no key prefix")

// Clear deletes every key under the cache prefix and returns how many were
// removed. It uses SCAN so it never blocks the server.
func (c *RedisCache) Clear(ctx context.Context) (int, error) {
	if c.prefix == "" {
		return 0, ErrNoPrefix
	}
	var cursor uint64
	removed := 0
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", scanCount).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, err
			}
			removed += int(n)
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

var _ Cache = (*RedisCache)(nil)

package cache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisOption func(*redisSettings)

type redisSettings struct {
	host        string
	port        int
	password    string
	db          int
	poolSize    int
	minIdle     int
	poolTimeout time.Duration
	prefix      string
	defaultTTL  time.Duration
}

func WithRedisHost(host string) RedisOption {
	return func(s *redisSettings) { s.host = host }
}

func WithRedisPort(port int) RedisOption {
	return func(s *redisSettings) { s.port = port }
}

func WithRedisPassword(password string) RedisOption {
	return func(s *redisSettings) { s.password = password }
}

func WithRedisDB(db int) RedisOption {
	return func(s *redisSettings) { s.db = db }
}

// WithRedisPool sets the pool size, idle floor and wait timeout.
func WithRedisPool(size, minIdle int, timeout time.Duration) RedisOption {
	return func(s *redisSettings) {
		s.poolSize, s.minIdle, s.poolTimeout = size, minIdle, timeout
	}
}

// WithRedisPrefix namespaces every key this cache touches.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *redisSettings) { s.prefix = prefix }
}

// WithRedisTTL sets the expiry used when Set gets no ttl.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *redisSettings) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// RedisCache is the shared second level of the ephemeris cache. Its client
// also backs the job queue.
type RedisCache struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
}

// NewRedisCache connects and pings before returning.
func NewRedisCache(opts ...RedisOption) (*RedisCache, error) {
	s := &redisSettings{
		host:        "localhost",
		port:        6379,
		poolSize:    10,
		minIdle:     2,
		poolTimeout: 30 * time.Second,
		prefix:      "astrocal",
		defaultTTL:  24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(s.host, strconv.Itoa(s.port)),
		Password:     s.password,
		DB:           s.db,
		PoolSize:     s.poolSize,
		MinIdleConns: s.minIdle,
		PoolTimeout:  s.poolTimeout,
	})
	c := NewRedisCacheFromClient(client, s.prefix)
	c.defaultTTL = s.defaultTTL

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return c, nil
}

// NewRedisCacheFromClient wraps an existing client without pinging it.
func NewRedisCacheFromClient(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, defaultTTL: 24 * time.Hour}
}

func (c *RedisCache) Client() *redis.Client { return c.client }

func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error { return c.client.Close() }

func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	return decode(key, data, dest)
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return fmt.Errorf("redis cache encode %s: %w", key, err)
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.client.Unlink(ctx, full...).Err()
}

func (c *RedisCache) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

var _ Service = (*RedisCache)(nil)

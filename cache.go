package pressli

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SettingsCache holds the autoload settings between requests.
type SettingsCache interface {
	// Load returns the cached settings and whether they were present.
	Load(ctx context.Context) (map[string]string, bool, error)
	Store(ctx context.Context, values map[string]string) error
	Invalidate(ctx context.Context) error
}

// MemoryCache is an in-process SettingsCache with a TTL.
type MemoryCache struct {
	mu      sync.RWMutex
	values  map[string]string
	fetched time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache creates a MemoryCache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now}
}

func (c *MemoryCache) valid() bool {
	return c.values != nil && c.now().Sub(c.fetched) < c.ttl
}

func (c *MemoryCache) Load(context.Context) (map[string]string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.valid() {
		return nil, false, nil
	}
	return c.values, true, nil
}

func (c *MemoryCache) Store(_ context.Context, values map[string]string) error {
	c.mu.Lock()
	c.values = values
	c.fetched = c.now()
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Invalidate(context.Context) error {
	c.mu.Lock()
	c.values = nil
	c.mu.Unlock()
	return nil
}

const redisSettingsKey = "pressli:settings:autoload"

// RedisCache keeps the autoload settings in Redis so several processes share
// one copy.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a RedisCache from a redis:// URL and checks the
// connection.
func NewRedisCache(ctx context.Context, rawURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

func (c *RedisCache) Load(ctx context.Context) (map[string]string, bool, error) {
	s, err := c.client.Get(ctx, redisSettingsKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var values map[string]string
	if err := json.Unmarshal([]byte(s), &values); err != nil {
		return nil, false, err
	}
	return values, true, nil
}

func (c *RedisCache) Store(ctx context.Context, values map[string]string) error {
	b, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisSettingsKey, b, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, redisSettingsKey).Err()
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

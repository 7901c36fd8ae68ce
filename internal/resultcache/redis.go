package resultcache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares results across instances. Failures degrade to cache
// misses; the endpoints must never depend on redis being up.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisCache(addr, password string, db int, ttl time.Duration, prefix string) *RedisCache {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	if prefix == "" {
		prefix = "mathsnap:result:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCache{
		client: client,
		ttl:    ttl,
		prefix: prefix,
	}
}

func (c *RedisCache) Get(key string) (Entry, bool) {
	if c == nil || c.client == nil {
		return Entry{}, false
	}

	ctx := context.Background()
	value, err := c.client.Get(ctx, c.prefix+key).Result()
	if err == redis.Nil || err != nil {
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(value), &entry); err != nil {
		return Entry{}, false
	}
	return entry, true
}

func (c *RedisCache) Put(key string, entry Entry) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	ctx := context.Background()
	if c.ttl > 0 {
		_ = c.client.Set(ctx, c.prefix+key, data, c.ttl).Err()
		return
	}
	_ = c.client.Set(ctx, c.prefix+key, data, 0).Err()
}

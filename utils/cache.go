package utils

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"
)

const (
	defaultCacheTTL  = 10 * time.Minute
	localCacheSize   = 4096
	redisCallTimeout = 2 * time.Second
)

// ProjectionCache stores rendered projections as JSON. It uses Redis when a
// client is given and a bounded in-process LRU otherwise. All methods are
// best-effort and never fail the caller.
type ProjectionCache struct {
	rc    *redis.Client
	local *lru.Cache
	mu    sync.Mutex // serialises prefix scans over the LRU
}

type localItem struct {
	data      []byte
	expiresAt time.Time
}

// NewProjectionCache returns a cache over rc; a nil rc selects the LRU.
func NewProjectionCache(rc *redis.Client) *ProjectionCache {
	c := &ProjectionCache{rc: rc}
	if rc == nil {
		c.local, _ = lru.New(localCacheSize)
	}
	return c
}

// GetJSON decodes the cached value of key into dst and reports a hit.
func (c *ProjectionCache) GetJSON(ctx context.Context, key string, dst interface{}) bool {
	b, ok := c.getBytes(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(b, dst); err != nil {
		Sugar.Debugf("cache decode failed key=%s err=%v", key, err)
		return false
	}
	return true
}

func (c *ProjectionCache) getBytes(ctx context.Context, key string) ([]byte, bool) {
	if c.rc == nil {
		v, ok := c.local.Get(key)
		if !ok {
			return nil, false
		}
		it := v.(localItem)
		if time.Now().After(it.expiresAt) {
			c.local.Remove(key)
			return nil, false
		}
		return it.data, true
	}
	ctx, cancel := context.WithTimeout(ctx, redisCallTimeout)
	defer cancel()
	b, err := c.rc.Get(ctx, key).Bytes()
	if err != nil {
		Sugar.Debugf("cache get miss key=%s err=%v", key, err)
		return nil, false
	}
	return b, true
}

// SetJSON marshals v and stores it under key for ttl.
func (c *ProjectionCache) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if c.rc == nil {
		c.local.Add(key, localItem{data: b, expiresAt: time.Now().Add(ttl)})
		return
	}
	ctx, cancel := context.WithTimeout(ctx, redisCallTimeout)
	defer cancel()
	if err := c.rc.Set(ctx, key, b, ttl).Err(); err != nil {
		Sugar.Warnf("cache set failed key=%s err=%v", key, err)
	}
}

// InvalidatePrefix deletes every key starting with prefix.
func (c *ProjectionCache) InvalidatePrefix(ctx context.Context, prefix string) {
	if c.rc == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, k := range c.local.Keys() {
			if s, ok := k.(string); ok && strings.HasPrefix(s, prefix) {
				c.local.Remove(k)
			}
		}
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var cursor uint64
	for i := 0; i < 10; i++ { // bounded rounds
		keys, cur, err := c.rc.Scan(ctx, cursor, prefix+"*", 1000).Result()
		if err != nil {
			Sugar.Warnf("cache invalidate failed prefix=%s err=%v", prefix, err)
			return
		}
		cursor = cur
		if len(keys) > 0 {
			pipe := c.rc.Pipeline()
			for _, k := range keys {
				pipe.Del(ctx, k)
			}
			_, _ = pipe.Exec(ctx)
		}
		if cursor == 0 {
			return
		}
	}
}

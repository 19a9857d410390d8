package utils

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cppla/ascend/config"
)

var (
	redisClient *redis.Client
	redisOnce   sync.Once
)

// NewRedisClient connects to the configured Redis and pings it once.
func NewRedisClient(cfg config.AppConfig) (*redis.Client, error) {
	rc := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.RedisHost, strconv.Itoa(cfg.RedisPort)),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, err
	}
	return rc, nil
}

// GetRedis returns the shared client, or nil when Redis was unreachable at
// first use. Callers then fall back to in-process state.
func GetRedis() *redis.Client {
	redisOnce.Do(func() {
		rc, err := NewRedisClient(config.Get())
		if err != nil {
			Sugar.Warnf("redis unavailable, using in-process fallbacks: %v", err)
			return
		}
		redisClient = rc
	})
	return redisClient
}

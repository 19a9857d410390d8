package utils

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const blacklistPrefix = "jwt:blacklist:"

// TokenBlacklist remembers revoked tokens until they expire. Redis is used
// when available so every instance sees a logout; otherwise state is local.
type TokenBlacklist struct {
	rc  *redis.Client
	now func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewTokenBlacklist returns a blacklist over rc, which may be nil.
func NewTokenBlacklist(rc *redis.Client) *TokenBlacklist {
	return &TokenBlacklist{rc: rc, now: time.Now, revoked: map[string]time.Time{}}
}

// Revoke blacklists token until expiresAt. Already expired tokens are ignored.
func (b *TokenBlacklist) Revoke(token string, expiresAt time.Time) {
	ttl := expiresAt.Sub(b.now())
	if ttl <= 0 {
		return
	}
	if b.rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), redisCallTimeout)
		defer cancel()
		if err := b.rc.Set(ctx, blacklistPrefix+token, "1", ttl).Err(); err == nil {
			return
		}
	}
	b.mu.Lock()
	b.revoked[token] = expiresAt
	b.mu.Unlock()
}

// IsRevoked reports whether token was revoked before its natural expiry.
// A Redis error fails open so an outage never locks everyone out.
func (b *TokenBlacklist) IsRevoked(token string) bool {
	if b.rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), redisCallTimeout)
		defer cancel()
		if n, err := b.rc.Exists(ctx, blacklistPrefix+token).Result(); err == nil && n > 0 {
			return true
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	exp, ok := b.revoked[token]
	if !ok {
		return false
	}
	if b.now().After(exp) {
		delete(b.revoked, token)
		return false
	}
	return true
}

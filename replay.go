package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// ReplayGuard remembers consumed tokens until they would have expired anyway.
type ReplayGuard interface {
	// MarkUsed returns false when the token was already consumed.
	MarkUsed(ctx context.Context, token string, ttl time.Duration) (bool, error)
}

// MemoryReplayGuard keeps consumed token fingerprints in process memory.
type MemoryReplayGuard struct {
	c *gocache.Cache
}

// NewMemoryReplayGuard creates an in-process guard.
func NewMemoryReplayGuard() *MemoryReplayGuard {
	return &MemoryReplayGuard{c: gocache.New(TokenValidity, 10*time.Minute)}
}

// MarkUsed implements ReplayGuard.
func (g *MemoryReplayGuard) MarkUsed(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := g.c.Add(fingerprint(token), struct{}{}, ttl); err != nil {
		return false, nil
	}
	return true, nil
}

// RedisReplayGuard shares consumed tokens across instances.
type RedisReplayGuard struct {
	client *redis.Client
	prefix string
}

// NewRedisReplayGuard creates a guard backed by redis at addr.
func NewRedisReplayGuard(addr string, db int, prefix string) *RedisReplayGuard {
	if prefix == "" {
		prefix = "adminauth:magic:"
	}
	return &RedisReplayGuard{
		client: redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		prefix: prefix,
	}
}

// MarkUsed implements ReplayGuard with SETNX.
func (g *RedisReplayGuard) MarkUsed(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Second
	}
	return g.client.SetNX(ctx, g.prefix+fingerprint(token), 1, ttl).Result()
}

// Close releases the redis connection pool.
func (g *RedisReplayGuard) Close() error {
	return g.client.Close()
}

func fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

package cache

import (
	"context"
	"errors"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/solstream/keygate/internal/metrics"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "keygate:digest:"

// LookupCache fronts the digest-to-keyID lookup with Redis. Misses collapse
// through singleflight so a burst of requests for one token performs one
// store read. Without a Redis client it degrades to pass-through.
type LookupCache struct {
	client  *redis.Client
	ttl     time.Duration
	sfGroup singleflight.Group
}

func NewLookupCache(client *redis.Client, ttl time.Duration) *LookupCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &LookupCache{client: client, ttl: ttl}
}

// KeyID resolves a digest to its keyID, consulting Redis first and falling
// back to the loader. Cache failures degrade to the loader rather than
// failing the request.
func (c *LookupCache) KeyID(ctx context.Context, digest string, load func(context.Context, string) (string, error)) (string, error) {
	if c.client == nil {
		return load(ctx, digest)
	}

	cacheKey := keyPrefix + digest

	val, err := c.client.Get(ctx, cacheKey).Result()
	if err == nil {
		metrics.LookupCacheHits.Inc()
		return val, nil
	}
	if !errors.Is(err, redis.Nil) {
		fiberlog.Warnf("lookup cache read failed, falling back to store: %v", err)
		return load(ctx, digest)
	}

	metrics.LookupCacheMisses.Inc()

	v, err, _ := c.sfGroup.Do(digest, func() (any, error) {
		keyID, err := load(ctx, digest)
		if err != nil {
			return "", err
		}
		if err := c.client.Set(ctx, cacheKey, keyID, c.ttl).Err(); err != nil {
			fiberlog.Warnf("lookup cache write failed: %v", err)
		}
		return keyID, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// Invalidate evicts a digest entry after a revoke or settings update so the
// next validation sees the fresh record.
func (c *LookupCache) Invalidate(ctx context.Context, digest string) {
	if c.client == nil || digest == "" {
		return
	}
	if err := c.client.Del(ctx, keyPrefix+digest).Err(); err != nil {
		fiberlog.Warnf("lookup cache invalidation failed: %v", err)
	}
}

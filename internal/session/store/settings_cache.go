package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"crew/pkg/sentinel"
)

// CachedSettings is a redis read-through cache in front of a SettingsStore.
// Security settings change rarely but are read on every session registration,
// so a short TTL keeps storage load flat without meaningfully delaying policy
// changes.
type CachedSettings struct {
	inner SettingsStore
	redis *redis.Client
	ttl   time.Duration
}

// NewCachedSettings wraps the inner store with a redis cache.
func NewCachedSettings(inner SettingsStore, client *redis.Client, ttl time.Duration) *CachedSettings {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedSettings{inner: inner, redis: client, ttl: ttl}
}

func (c *CachedSettings) Value(ctx context.Context, key string) (string, error) {
	cacheKey := "crew:security_settings:" + key

	cached, err := c.redis.Get(ctx, cacheKey).Result()
	if err == nil {
		if cached == "" {
			// Negative cache entry: the setting does not exist.
			return "", fmt.Errorf("setting %q: %w", key, sentinel.ErrNotFound)
		}
		return cached, nil
	}
	if !errors.Is(err, redis.Nil) {
		// Cache unavailable; fall through to the inner store.
		return c.inner.Value(ctx, key)
	}

	value, innerErr := c.inner.Value(ctx, key)
	if innerErr != nil {
		if errors.Is(innerErr, sentinel.ErrNotFound) {
			c.redis.Set(ctx, cacheKey, "", c.ttl) //nolint:errcheck // best-effort negative cache
		}
		return "", innerErr
	}

	c.redis.Set(ctx, cacheKey, value, c.ttl) //nolint:errcheck // best-effort cache fill
	return value, nil
}

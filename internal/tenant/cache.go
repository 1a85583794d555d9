package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix       = "voicedesk:tenant:"
	agentKeyPrefix  = "voicedesk:tenant-agent:"
	DefaultCacheTTL = 5 * time.Minute
)

type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Cache is a read-through Directory that keeps tenant config in redis.
// Redis failures are logged and fall through to the backing directory.
type Cache struct {
	next   Directory
	rdb    kv
	ttl    time.Duration
	logger *slog.Logger
}

func NewCache(next Directory, rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func (c *Cache) Tenant(ctx context.Context, id string) (Tenant, error) {
	return c.lookup(ctx, keyPrefix+id, func() (Tenant, error) {
		return c.next.Tenant(ctx, id)
	})
}

func (c *Cache) TenantByAgent(ctx context.Context, agentID string) (Tenant, error) {
	return c.lookup(ctx, agentKeyPrefix+agentID, func() (Tenant, error) {
		return c.next.TenantByAgent(ctx, agentID)
	})
}

// Invalidate drops a cached tenant so the next lookup hits the backing store.
func (c *Cache) Invalidate(ctx context.Context, t Tenant) error {
	keys := []string{keyPrefix + t.ID}
	if t.AgentID != "" {
		keys = append(keys, agentKeyPrefix+t.AgentID)
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate tenant %s: %w", t.ID, err)
	}
	return nil
}

func (c *Cache) lookup(ctx context.Context, key string, load func() (Tenant, error)) (Tenant, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var t Tenant
		if jsonErr := json.Unmarshal(raw, &t); jsonErr == nil {
			return t, nil
		}
		c.logger.Warn("tenant cache entry unreadable", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("tenant cache get failed", "key", key, "error", err)
	}

	t, err := load()
	if err != nil {
		return Tenant{}, err
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return t, nil
	}
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("tenant cache set failed", "key", key, "error", err)
	}
	return t, nil
}

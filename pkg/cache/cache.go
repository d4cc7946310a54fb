// Package cache implements the advisory lookup cache over Redis. Every
// operation degrades to a miss or no-op when Redis is unavailable or the
// cache is disabled; callers always have a direct DB or upstream path.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wisbric/graphgate/internal/telemetry"
)

// Key formats are inherited from the legacy service; operators inspect and
// delete them by hand, so they must not change.

// TenantExistsKey is the cache key for tenant existence ("0"/"1").
func TenantExistsKey(tenantID string) string {
	return fmt.Sprintf("tenant_%s_exists", tenantID)
}

// UserTenantsKey is the cache key for a user's tenant memberships
// (comma-joined tenant IDs).
func UserTenantsKey(userID int64) string {
	return fmt.Sprintf("user_tenants_%d", userID)
}

// BelongsKey is the cache key for an entity-belongs-to-tenant verdict
// ("0"/"1").
func BelongsKey(entity, id, tenantID string) string {
	return fmt.Sprintf("%s-%s__tenant-%s", entity, id, tenantID)
}

// Cache wraps a Redis client with the gateway's key scheme and TTL policy.
// A nil *Cache is valid and behaves as permanently disabled.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	negTTL time.Duration
	logger *slog.Logger
}

// New creates a Cache. negativeTTL bounds how long a negative belonging
// verdict may be served; it must stay short so freshly created entities
// become visible quickly.
func New(rdb *redis.Client, ttl, negativeTTL time.Duration, logger *slog.Logger) *Cache {
	return &Cache{rdb: rdb, ttl: ttl, negTTL: negativeTTL, logger: logger}
}

// Enabled reports whether a backing Redis client is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.rdb != nil
}

func (c *Cache) get(ctx context.Context, key string) (string, bool) {
	if !c.Enabled() {
		return "", false
	}
	val, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			telemetry.CacheOperationsTotal.WithLabelValues("get", "miss").Inc()
		} else {
			c.logger.Warn("cache get failed", "key", key, "error", err)
			telemetry.CacheOperationsTotal.WithLabelValues("get", "error").Inc()
		}
		return "", false
	}
	telemetry.CacheOperationsTotal.WithLabelValues("get", "hit").Inc()
	return val, true
}

func (c *Cache) set(ctx context.Context, key, val string, ttl time.Duration) {
	if !c.Enabled() {
		return
	}
	if err := c.rdb.Set(ctx, key, val, ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
		telemetry.CacheOperationsTotal.WithLabelValues("set", "error").Inc()
		return
	}
	telemetry.CacheOperationsTotal.WithLabelValues("set", "ok").Inc()
}

func (c *Cache) del(ctx context.Context, keys ...string) {
	if !c.Enabled() {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("cache delete failed", "keys", keys, "error", err)
		telemetry.CacheOperationsTotal.WithLabelValues("del", "error").Inc()
		return
	}
	telemetry.CacheOperationsTotal.WithLabelValues("del", "ok").Inc()
}

// GetTenantExists returns a cached tenant-existence verdict. The second
// return value reports whether the cache had an answer.
func (c *Cache) GetTenantExists(ctx context.Context, tenantID string) (bool, bool) {
	val, ok := c.get(ctx, TenantExistsKey(tenantID))
	if !ok {
		return false, false
	}
	return val == "1", true
}

// SetTenantExists caches a tenant-existence verdict.
func (c *Cache) SetTenantExists(ctx context.Context, tenantID string, exists bool) {
	c.set(ctx, TenantExistsKey(tenantID), boolValue(exists), c.ttl)
}

// InvalidateTenant drops the existence entry for a tenant.
func (c *Cache) InvalidateTenant(ctx context.Context, tenantID string) {
	c.del(ctx, TenantExistsKey(tenantID))
}

// GetUserTenants returns the cached membership list for a user. An empty
// list is a valid cached answer and distinct from a miss.
func (c *Cache) GetUserTenants(ctx context.Context, userID int64) ([]string, bool) {
	val, ok := c.get(ctx, UserTenantsKey(userID))
	if !ok {
		return nil, false
	}
	if val == "" {
		return []string{}, true
	}
	return strings.Split(val, ","), true
}

// SetUserTenants caches a user's tenant memberships.
func (c *Cache) SetUserTenants(ctx context.Context, userID int64, tenantIDs []string) {
	c.set(ctx, UserTenantsKey(userID), strings.Join(tenantIDs, ","), c.ttl)
}

// InvalidateUserTenants drops the membership entry for a user. Called by
// every endpoint that changes memberships, so stale entries never outlive
// the mutation that made them wrong.
func (c *Cache) InvalidateUserTenants(ctx context.Context, userID int64) {
	c.del(ctx, UserTenantsKey(userID))
}

// GetBelongs returns a cached belonging verdict for entity/id under tenantID.
func (c *Cache) GetBelongs(ctx context.Context, entity, id, tenantID string) (bool, bool) {
	val, ok := c.get(ctx, BelongsKey(entity, id, tenantID))
	if !ok {
		return false, false
	}
	return val == "1", true
}

// SetBelongs caches a belonging verdict. Negative verdicts use the short
// TTL: the entity may simply not have landed upstream yet.
func (c *Cache) SetBelongs(ctx context.Context, entity, id, tenantID string, belongs bool) {
	ttl := c.ttl
	if !belongs {
		ttl = c.negTTL
	}
	c.set(ctx, BelongsKey(entity, id, tenantID), boolValue(belongs), ttl)
}

func boolValue(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

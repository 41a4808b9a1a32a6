package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orris-inc/adfree/internal/domain/entitlement"
	"github.com/orris-inc/adfree/internal/shared/biztime"
	"github.com/orris-inc/adfree/internal/shared/logger"
)

const (
	entitlementKeyPrefix = "adfree:entitlement:cache:"
	fieldStatus          = "status"
	fieldStoredAt        = "stored_at"
	fieldTTL             = "ttl_seconds"
	fieldChecksum        = "checksum"
)

// RedisEntitlementCache keeps one hash per user. Redis expiry mirrors the
// entry TTL so stale keys disappear on their own.
type RedisEntitlementCache struct {
	client *redis.Client
	ttl    time.Duration
	clock  biztime.Clock
	logger logger.Interface
}

// NewRedisEntitlementCache creates a new Redis-based entitlement cache
func NewRedisEntitlementCache(client *redis.Client, ttl time.Duration, clock biztime.Clock, logger logger.Interface) *RedisEntitlementCache {
	return &RedisEntitlementCache{
		client: client,
		ttl:    normalizeTTL(ttl),
		clock:  clock,
		logger: logger,
	}
}

func (c *RedisEntitlementCache) key(userID string) string {
	return entitlementKeyPrefix + userID
}

// Read returns the user's entry while it is inside its TTL
func (c *RedisEntitlementCache) Read(ctx context.Context, userID string) (*entitlement.CacheEntry, bool) {
	result, err := c.client.HGetAll(ctx, c.key(userID)).Result()
	if err != nil {
		c.logger.Warnw("entitlement cache read failed, treating as empty",
			"user_id", userID,
			"error", err,
		)
		return nil, false
	}
	if len(result) == 0 {
		return nil, false
	}

	entry, err := c.parse(userID, result)
	if err != nil {
		c.logger.Warnw("entitlement cache entry is corrupt, treating as empty",
			"user_id", userID,
			"error", err,
		)
		return nil, false
	}
	if !entry.Fresh(c.clock.Now()) {
		return nil, false
	}
	return entry, true
}

func (c *RedisEntitlementCache) parse(userID string, fields map[string]string) (*entitlement.CacheEntry, error) {
	status, err := strconv.ParseBool(fields[fieldStatus])
	if err != nil {
		return nil, fmt.Errorf("invalid status: %w", err)
	}
	storedAtNano, err := strconv.ParseInt(fields[fieldStoredAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid stored_at: %w", err)
	}
	ttlSeconds, err := strconv.ParseInt(fields[fieldTTL], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ttl: %w", err)
	}

	storedAt := time.Unix(0, storedAtNano).UTC()
	ttl := time.Duration(ttlSeconds) * time.Second
	if fields[fieldChecksum] != checksum(userID, status, storedAt, ttl) {
		return nil, fmt.Errorf("checksum mismatch")
	}

	return &entitlement.CacheEntry{Status: status, StoredAt: storedAt, TTL: ttl}, nil
}

// Write replaces the user's entry
func (c *RedisEntitlementCache) Write(ctx context.Context, userID string, status bool, at time.Time) error {
	at = at.UTC()
	key := c.key(userID)

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		fieldStatus, strconv.FormatBool(status),
		fieldStoredAt, strconv.FormatInt(at.UnixNano(), 10),
		fieldTTL, strconv.FormatInt(int64(c.ttl/time.Second), 10),
		fieldChecksum, checksum(userID, status, at, c.ttl),
	)
	pipe.Expire(ctx, key, c.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Errorw("failed to write entitlement cache", "user_id", userID, "error", err)
		return fmt.Errorf("failed to write entitlement cache: %w", err)
	}
	return nil
}

// Invalidate removes the user's entry
func (c *RedisEntitlementCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		c.logger.Errorw("failed to invalidate entitlement cache", "user_id", userID, "error", err)
		return fmt.Errorf("failed to invalidate entitlement cache: %w", err)
	}
	return nil
}

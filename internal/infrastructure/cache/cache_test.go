package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/orris-inc/adfree/internal/infrastructure/persistence/models"
	"github.com/orris-inc/adfree/internal/shared/biztime"
	"github.com/orris-inc/adfree/internal/shared/logger"
)

var t0 = time.Date(2026, 10, 16, 9, 0, 0, 123456789, time.UTC)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

type cacheFactory func(t *testing.T, clock biztime.Clock) EntitlementCache

func factories() map[string]cacheFactory {
	return map[string]cacheFactory{
		"sqlite": func(t *testing.T, clock biztime.Clock) EntitlementCache {
			c, err := NewSQLiteEntitlementCache(setupTestDB(t), time.Hour, clock, logger.NewNopLogger())
			require.NoError(t, err)
			return c
		},
		"redis": func(t *testing.T, clock biztime.Clock) EntitlementCache {
			_, client := setupTestRedis(t)
			return NewRedisEntitlementCache(client, time.Hour, clock, logger.NewNopLogger())
		},
	}
}

func TestEntitlementCache_Contract(t *testing.T) {
	ctx := context.Background()

	for name, newCache := range factories() {
		t.Run(name, func(t *testing.T) {
			t.Run("empty read is a miss", func(t *testing.T) {
				c := newCache(t, biztime.NewManualClock(t0))
				entry, ok := c.Read(ctx, "u1")
				assert.False(t, ok)
				assert.Nil(t, entry)
			})

			t.Run("write then read", func(t *testing.T) {
				clock := biztime.NewManualClock(t0)
				c := newCache(t, clock)
				require.NoError(t, c.Write(ctx, "u1", true, t0))

				entry, ok := c.Read(ctx, "u1")
				require.True(t, ok)
				assert.True(t, entry.Status)
				assert.True(t, entry.StoredAt.Equal(t0))
				assert.Equal(t, time.Hour, entry.TTL)
				assert.True(t, entry.Positive(clock.Now()))
			})

			t.Run("negative entries are kept", func(t *testing.T) {
				c := newCache(t, biztime.NewManualClock(t0))
				require.NoError(t, c.Write(ctx, "u1", false, t0))

				entry, ok := c.Read(ctx, "u1")
				require.True(t, ok)
				assert.False(t, entry.Status)
			})

			t.Run("overwrite replaces entry", func(t *testing.T) {
				c := newCache(t, biztime.NewManualClock(t0))
				require.NoError(t, c.Write(ctx, "u1", true, t0))
				require.NoError(t, c.Write(ctx, "u1", false, t0.Add(time.Minute)))

				entry, ok := c.Read(ctx, "u1")
				require.True(t, ok)
				assert.False(t, entry.Status)
			})

			t.Run("expired entry is a miss", func(t *testing.T) {
				clock := biztime.NewManualClock(t0)
				c := newCache(t, clock)
				require.NoError(t, c.Write(ctx, "u1", true, t0))

				clock.Advance(time.Hour)
				_, ok := c.Read(ctx, "u1")
				assert.False(t, ok)
			})

			t.Run("invalidate removes entry", func(t *testing.T) {
				c := newCache(t, biztime.NewManualClock(t0))
				require.NoError(t, c.Write(ctx, "u1", true, t0))
				require.NoError(t, c.Write(ctx, "u2", true, t0))
				require.NoError(t, c.Invalidate(ctx, "u1"))

				_, ok := c.Read(ctx, "u1")
				assert.False(t, ok)
				_, ok = c.Read(ctx, "u2")
				assert.True(t, ok)
			})
		})
	}
}

func TestSQLiteEntitlementCache_CorruptRowIsMiss(t *testing.T) {
	db := setupTestDB(t)
	c, err := NewSQLiteEntitlementCache(db, time.Hour, biztime.NewManualClock(t0), logger.NewNopLogger())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, "u1", false, t0))
	// Flip the status without updating the checksum
	require.NoError(t, db.Model(&models.LocalCacheModel{}).Where("user_id = ?", "u1").Update("status", true).Error)

	_, ok := c.Read(ctx, "u1")
	assert.False(t, ok)
}

func TestSQLiteEntitlementCache_MissingTableIsMiss(t *testing.T) {
	db := setupTestDB(t)
	c, err := NewSQLiteEntitlementCache(db, time.Hour, biztime.NewManualClock(t0), logger.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, db.Migrator().DropTable(&models.LocalCacheModel{}))

	_, ok := c.Read(context.Background(), "u1")
	assert.False(t, ok)
}

func TestRedisEntitlementCache_CorruptHashIsMiss(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewRedisEntitlementCache(client, time.Hour, biztime.NewManualClock(t0), logger.NewNopLogger())

	mr.HSet(entitlementKeyPrefix+"u1", fieldStatus, "true", fieldStoredAt, "not-a-number")
	_, ok := c.Read(context.Background(), "u1")
	assert.False(t, ok)

	require.NoError(t, c.Write(context.Background(), "u2", false, t0))
	mr.HSet(entitlementKeyPrefix+"u2", fieldStatus, "true")
	_, ok = c.Read(context.Background(), "u2")
	assert.False(t, ok)
}

func TestRedisEntitlementCache_UnreachableIsMiss(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewRedisEntitlementCache(client, time.Hour, biztime.NewManualClock(t0), logger.NewNopLogger())
	mr.Close()

	_, ok := c.Read(context.Background(), "u1")
	assert.False(t, ok)
	assert.Error(t, c.Write(context.Background(), "u1", true, t0))
}

func TestRedisEntitlementCache_SetsExpiry(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewRedisEntitlementCache(client, 2*time.Hour, biztime.NewManualClock(t0), logger.NewNopLogger())

	require.NoError(t, c.Write(context.Background(), "u1", true, t0))
	assert.Equal(t, 2*time.Hour, mr.TTL(entitlementKeyPrefix+"u1"))

	mr.FastForward(2 * time.Hour)
	assert.False(t, mr.Exists(entitlementKeyPrefix+"u1"))
}

func TestNormalizeTTL(t *testing.T) {
	assert.Equal(t, defaultTTL, normalizeTTL(0))
	assert.Equal(t, time.Minute, normalizeTTL(time.Minute))
}

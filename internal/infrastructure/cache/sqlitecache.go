package cache

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/orris-inc/adfree/internal/domain/entitlement"
	"github.com/orris-inc/adfree/internal/infrastructure/persistence/models"
	"github.com/orris-inc/adfree/internal/shared/biztime"
	"github.com/orris-inc/adfree/internal/shared/logger"
)

// SQLiteEntitlementCache keeps one row per user in a device-local SQLite file
type SQLiteEntitlementCache struct {
	db     *gorm.DB
	ttl    time.Duration
	clock  biztime.Clock
	logger logger.Interface
}

// NewSQLiteEntitlementCache creates the cache and its table
func NewSQLiteEntitlementCache(db *gorm.DB, ttl time.Duration, clock biztime.Clock, logger logger.Interface) (*SQLiteEntitlementCache, error) {
	if err := db.AutoMigrate(&models.LocalCacheModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate entitlement cache: %w", err)
	}
	return &SQLiteEntitlementCache{
		db:     db,
		ttl:    normalizeTTL(ttl),
		clock:  clock,
		logger: logger,
	}, nil
}

// Read returns the user's entry while it is inside its TTL
func (c *SQLiteEntitlementCache) Read(ctx context.Context, userID string) (*entitlement.CacheEntry, bool) {
	var model models.LocalCacheModel
	err := c.db.WithContext(ctx).Where("user_id = ?", userID).First(&model).Error
	if err != nil {
		if !stderrors.Is(err, gorm.ErrRecordNotFound) {
			c.logger.Warnw("entitlement cache read failed, treating as empty",
				"user_id", userID,
				"error", err,
			)
		}
		return nil, false
	}

	ttl := time.Duration(model.TTLSeconds) * time.Second
	if model.Checksum != checksum(model.UserID, model.Status, model.StoredAt, ttl) {
		c.logger.Warnw("entitlement cache entry is corrupt, treating as empty", "user_id", userID)
		return nil, false
	}

	entry := &entitlement.CacheEntry{
		Status:   model.Status,
		StoredAt: model.StoredAt.UTC(),
		TTL:      ttl,
	}
	if !entry.Fresh(c.clock.Now()) {
		return nil, false
	}
	return entry, true
}

// Write replaces the user's entry
func (c *SQLiteEntitlementCache) Write(ctx context.Context, userID string, status bool, at time.Time) error {
	at = at.UTC()
	model := &models.LocalCacheModel{
		UserID:     userID,
		Status:     status,
		StoredAt:   at,
		TTLSeconds: int64(c.ttl / time.Second),
		Checksum:   checksum(userID, status, at, c.ttl),
	}

	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "stored_at", "ttl_seconds", "checksum"}),
	}).Create(model).Error
	if err != nil {
		c.logger.Errorw("failed to write entitlement cache", "user_id", userID, "error", err)
		return fmt.Errorf("failed to write entitlement cache: %w", err)
	}
	return nil
}

// Invalidate removes the user's entry
func (c *SQLiteEntitlementCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.LocalCacheModel{}).Error; err != nil {
		c.logger.Errorw("failed to invalidate entitlement cache", "user_id", userID, "error", err)
		return fmt.Errorf("failed to invalidate entitlement cache: %w", err)
	}
	return nil
}

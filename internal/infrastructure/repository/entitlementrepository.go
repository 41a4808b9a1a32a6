package repository

import (
	"context"
	stderrors "errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/orris-inc/adfree/internal/domain/entitlement"
	"github.com/orris-inc/adfree/internal/infrastructure/persistence/mappers"
	"github.com/orris-inc/adfree/internal/infrastructure/persistence/models"
	"github.com/orris-inc/adfree/internal/shared/errors"
	"github.com/orris-inc/adfree/internal/shared/logger"
)

// EntitlementRepositoryImpl implements the entitlement.Repository interface
type EntitlementRepositoryImpl struct {
	db     *gorm.DB
	mapper mappers.EntitlementMapper
	logger logger.Interface
}

// NewEntitlementRepository creates a new entitlement repository instance
func NewEntitlementRepository(db *gorm.DB, logger logger.Interface) entitlement.Repository {
	return &EntitlementRepositoryImpl{
		db:     db,
		mapper: mappers.NewEntitlementMapper(),
		logger: logger,
	}
}

// GetByUserID retrieves the entitlement record of a user
func (r *EntitlementRepositoryImpl) GetByUserID(ctx context.Context, userID string) (*entitlement.Record, error) {
	var model models.EntitlementModel
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&model).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, entitlement.ErrNotFound
		}
		r.logger.Errorw("failed to get entitlement record", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get entitlement record: %w", err)
	}
	return r.mapper.ToEntity(&model)
}

// ApplyTransaction binds the transaction and grants the entitlement atomically.
// The transaction row is inserted first so the unique index serializes
// concurrent appliers of the same transaction id.
func (r *EntitlementRepositoryImpl) ApplyTransaction(ctx context.Context, binding *entitlement.Binding) (*entitlement.Record, bool, error) {
	record, err := r.applyOnce(ctx, binding)
	if err == nil {
		r.logger.Infow("entitlement transaction applied",
			"user_id", binding.UserID,
			"transaction_id", binding.TransactionID,
			"product_type", binding.ProductType,
		)
		return record, true, nil
	}
	if !errors.IsDuplicateError(err) {
		r.logger.Errorw("failed to apply entitlement transaction",
			"user_id", binding.UserID,
			"transaction_id", binding.TransactionID,
			"error", err,
		)
		return nil, false, fmt.Errorf("failed to apply entitlement transaction: %w", err)
	}

	// Already bound: replay or conflict
	existing, err := r.findBinding(r.db.WithContext(ctx), binding.TransactionID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("transaction %s reported duplicate but not found", binding.TransactionID)
	}
	if !existing.SameTerms(binding) {
		r.logger.Warnw("entitlement transaction conflict",
			"transaction_id", binding.TransactionID,
			"user_id", binding.UserID,
			"bound_user_id", existing.UserID,
			"product_type", binding.ProductType,
			"bound_product_type", existing.ProductType,
		)
		return nil, false, entitlement.ErrConflict
	}

	record, err = r.GetByUserID(ctx, binding.UserID)
	if err != nil {
		return nil, false, err
	}
	r.logger.Debugw("entitlement transaction replayed",
		"user_id", binding.UserID,
		"transaction_id", binding.TransactionID,
	)
	return record, false, nil
}

func (r *EntitlementRepositoryImpl) applyOnce(ctx context.Context, binding *entitlement.Binding) (*entitlement.Record, error) {
	var record *entitlement.Record

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(r.mapper.BindingToModel(binding)).Error; err != nil {
			return err
		}

		// Make sure the record row exists before it is read for update
		seed := &models.EntitlementModel{
			UserID:      binding.UserID,
			ProductType: entitlement.ProductTypeNone.String(),
			Version:     1,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
			return fmt.Errorf("failed to seed entitlement record: %w", err)
		}

		var model models.EntitlementModel
		if err := tx.Where("user_id = ?", binding.UserID).First(&model).Error; err != nil {
			return fmt.Errorf("failed to load entitlement record: %w", err)
		}

		current, err := r.mapper.ToEntity(&model)
		if err != nil {
			return err
		}
		if err := current.ApplyPurchase(binding.ProductType, binding.PurchasedAt); err != nil {
			return err
		}

		updated := r.mapper.ToModel(current)
		result := tx.Model(&models.EntitlementModel{}).
			Where("user_id = ? AND version = ?", model.UserID, model.Version).
			Updates(map[string]any{
				"entitled":           updated.Entitled,
				"product_type":       updated.ProductType,
				"purchase_date":      updated.PurchaseDate,
				"last_purchase_date": updated.LastPurchaseDate,
				"updated_at":         updated.UpdatedAt,
				"version":            model.Version + 1,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to update entitlement record: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("entitlement record for user %s was modified concurrently", binding.UserID)
		}

		record = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *EntitlementRepositoryImpl) findBinding(db *gorm.DB, transactionID string) (*entitlement.Binding, error) {
	var model models.TransactionModel
	if err := db.Where("transaction_id = ?", transactionID).First(&model).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction binding: %w", err)
	}
	return r.mapper.BindingToEntity(&model)
}

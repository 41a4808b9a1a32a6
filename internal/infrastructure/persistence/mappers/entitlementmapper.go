package mappers

import (
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/orris-inc/adfree/internal/domain/entitlement"
	"github.com/orris-inc/adfree/internal/infrastructure/persistence/models"
)

// EntitlementMapper converts between entitlement domain values and persistence models
type EntitlementMapper interface {
	ToEntity(model *models.EntitlementModel) (*entitlement.Record, error)
	ToModel(entity *entitlement.Record) *models.EntitlementModel
	BindingToEntity(model *models.TransactionModel) (*entitlement.Binding, error)
	BindingToModel(entity *entitlement.Binding) *models.TransactionModel
}

const metadataProductID = "product_id"

type entitlementMapper struct{}

// NewEntitlementMapper creates a new entitlement mapper
func NewEntitlementMapper() EntitlementMapper {
	return &entitlementMapper{}
}

func (m *entitlementMapper) ToEntity(model *models.EntitlementModel) (*entitlement.Record, error) {
	if model == nil {
		return nil, nil
	}

	record, err := entitlement.ReconstructRecord(
		model.UserID,
		model.Entitled,
		entitlement.ProductType(model.ProductType),
		utcPtr(model.PurchaseDate),
		utcPtr(model.LastPurchaseDate),
		model.UpdatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct entitlement record: %w", err)
	}
	return record, nil
}

func (m *entitlementMapper) ToModel(entity *entitlement.Record) *models.EntitlementModel {
	if entity == nil {
		return nil
	}
	return &models.EntitlementModel{
		UserID:           entity.UserID(),
		Entitled:         entity.Entitled(),
		ProductType:      entity.ProductType().String(),
		PurchaseDate:     entity.PurchaseDate(),
		LastPurchaseDate: entity.LastPurchaseDate(),
		UpdatedAt:        entity.UpdatedAt(),
	}
}

func (m *entitlementMapper) BindingToEntity(model *models.TransactionModel) (*entitlement.Binding, error) {
	if model == nil {
		return nil, nil
	}
	productType := entitlement.ProductType(model.ProductType)
	if !productType.IsPurchasable() {
		return nil, fmt.Errorf("invalid product type on transaction %s: %s", model.TransactionID, model.ProductType)
	}
	binding := &entitlement.Binding{
		TransactionID: model.TransactionID,
		UserID:        model.UserID,
		ProductType:   productType,
		PurchasedAt:   model.PurchasedAt.UTC(),
		CreatedAt:     model.CreatedAt.UTC(),
	}
	if productID, ok := model.Metadata[metadataProductID].(string); ok {
		binding.ProductID = productID
	}
	return binding, nil
}

func (m *entitlementMapper) BindingToModel(entity *entitlement.Binding) *models.TransactionModel {
	if entity == nil {
		return nil
	}
	model := &models.TransactionModel{
		TransactionID: entity.TransactionID,
		UserID:        entity.UserID,
		ProductType:   entity.ProductType.String(),
		PurchasedAt:   entity.PurchasedAt,
		CreatedAt:     entity.CreatedAt,
	}
	if entity.ProductID != "" {
		model.Metadata = datatypes.JSONMap{metadataProductID: entity.ProductID}
	}
	return model
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

package models

import (
	"time"
)

const (
	TableEntitlementRecords      = "entitlement_records"
	TableEntitlementTransactions = "entitlement_transactions"
	TableEntitlementCache        = "entitlement_cache"
)

// EntitlementModel is the persistence model for the per-user entitlement record.
// Entitled is the only column that grants access.
type EntitlementModel struct {
	UserID           string `gorm:"primaryKey;size:64"`
	Entitled         bool   `gorm:"not null;default:false"`
	ProductType      string `gorm:"not null;size:16;default:none"`
	PurchaseDate     *time.Time
	LastPurchaseDate *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Version          int `gorm:"not null;default:1"`
}

// TableName specifies the table name for GORM
func (EntitlementModel) TableName() string {
	return TableEntitlementRecords
}

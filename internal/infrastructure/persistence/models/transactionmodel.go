package models

import (
	"time"

	"gorm.io/datatypes"
)

// TransactionModel remembers every store transaction applied to a record.
// The unique index on TransactionID is what makes upserts idempotent.
type TransactionModel struct {
	ID            uint              `gorm:"primaryKey"`
	TransactionID string            `gorm:"uniqueIndex;size:128;not null"`
	UserID        string            `gorm:"index;size:64;not null"`
	ProductType   string            `gorm:"size:16;not null"`
	PurchasedAt   time.Time         `gorm:"not null"`
	Metadata      datatypes.JSONMap `gorm:"type:json"`
	CreatedAt     time.Time
}

// TableName specifies the table name for GORM
func (TransactionModel) TableName() string {
	return TableEntitlementTransactions
}

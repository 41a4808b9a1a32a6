package models

import "time"

// LocalCacheModel is the device-local cache row, one per user. Checksum
// covers the other columns so a hand-edited row reads as a cache miss.
type LocalCacheModel struct {
	UserID     string    `gorm:"primaryKey;size:64"`
	Status     bool      `gorm:"not null"`
	StoredAt   time.Time `gorm:"not null"`
	TTLSeconds int64     `gorm:"not null"`
	Checksum   string    `gorm:"size:64;not null"`
}

// TableName specifies the table name for GORM
func (LocalCacheModel) TableName() string {
	return TableEntitlementCache
}

package entitlement

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Record is the backend's single source of truth for one user. The client
// only ever obtains one from an authority response.
type Record struct {
	userID           string
	entitled         bool
	productType      ProductType
	purchaseDate     *time.Time
	lastPurchaseDate *time.Time
	updatedAt        time.Time
}

// NewRecord creates an empty, not-entitled record for a user.
func NewRecord(userID string) (*Record, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	return &Record{
		userID:      userID,
		productType: ProductTypeNone,
	}, nil
}

// ReconstructRecord rebuilds a record from persistence or a decoded authority response.
func ReconstructRecord(
	userID string,
	entitled bool,
	productType ProductType,
	purchaseDate, lastPurchaseDate *time.Time,
	updatedAt time.Time,
) (*Record, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	if productType == "" {
		productType = ProductTypeNone
	}
	if !productType.IsValid() {
		return nil, fmt.Errorf("invalid product type: %s", productType)
	}
	return &Record{
		userID:           userID,
		entitled:         entitled,
		productType:      productType,
		purchaseDate:     purchaseDate,
		lastPurchaseDate: lastPurchaseDate,
		updatedAt:        updatedAt,
	}, nil
}

func (r *Record) UserID() string               { return r.userID }
func (r *Record) Entitled() bool               { return r.entitled }
func (r *Record) ProductType() ProductType     { return r.productType }
func (r *Record) PurchaseDate() *time.Time     { return r.purchaseDate }
func (r *Record) LastPurchaseDate() *time.Time { return r.lastPurchaseDate }
func (r *Record) UpdatedAt() time.Time         { return r.updatedAt }

// ApplyPurchase grants the entitlement for a newly bound transaction. The
// product type only ever moves up in rank; the first purchase date is kept.
func (r *Record) ApplyPurchase(productType ProductType, purchasedAt time.Time) error {
	if !productType.IsPurchasable() {
		return fmt.Errorf("invalid product type: %s", productType)
	}

	r.entitled = true
	if productType.Rank() > r.productType.Rank() {
		r.productType = productType
	}

	at := purchasedAt.UTC()
	if r.purchaseDate == nil {
		r.purchaseDate = &at
	}
	if r.lastPurchaseDate == nil || at.After(*r.lastPurchaseDate) {
		r.lastPurchaseDate = &at
	}
	r.updatedAt = time.Now().UTC()

	return nil
}

// Equal compares the fields the authority exposes.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.userID == o.userID &&
		r.entitled == o.entitled &&
		r.productType == o.productType &&
		timePtrEqual(r.purchaseDate, o.purchaseDate) &&
		timePtrEqual(r.lastPurchaseDate, o.lastPurchaseDate)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

var jsonTrue = []byte("true")

// ParseEntitled decodes the authority's entitled field. Only the JSON literal
// true grants; null, a missing field, numbers and strings all resolve to false.
func ParseEntitled(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), jsonTrue)
}

package entitlement

import (
	"fmt"
	"time"
)

// Transaction is one purchase or restore event reported by the store.
// TransactionID is store-assigned, globally unique and the idempotency key
// for upserts.
type Transaction struct {
	TransactionID string
	ProductID     string
	IsActive      bool
	PurchasedAt   time.Time
}

// Validate checks the fields the engine relies on.
func (t Transaction) Validate() error {
	if t.TransactionID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidTransaction)
	}
	if t.ProductID == "" {
		return fmt.Errorf("%w: product id is required", ErrInvalidTransaction)
	}
	return nil
}

// Binding is the backend's memory of which user and product type a
// transaction id was first applied with.
type Binding struct {
	TransactionID string
	UserID        string
	ProductType   ProductType
	PurchasedAt   time.Time
	CreatedAt     time.Time
	// ProductID is the store product the transaction was bought as. Informational only.
	ProductID string
}

// NewBinding validates and builds a binding for a transaction about to be applied.
func NewBinding(transactionID, userID string, productType ProductType, purchasedAt time.Time) (*Binding, error) {
	if transactionID == "" {
		return nil, fmt.Errorf("%w: transaction id is required", ErrInvalidTransaction)
	}
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	if !productType.IsPurchasable() {
		return nil, fmt.Errorf("invalid product type: %s", productType)
	}
	return &Binding{
		TransactionID: transactionID,
		UserID:        userID,
		ProductType:   productType,
		PurchasedAt:   purchasedAt.UTC(),
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// SameTerms reports whether a replayed transaction matches the stored one.
// Purchase time is not part of the terms: stores may report it with
// different precision on restore.
func (b *Binding) SameTerms(o *Binding) bool {
	return b.TransactionID == o.TransactionID &&
		b.UserID == o.UserID &&
		b.ProductType == o.ProductType
}

package dto

import (
	"time"

	"github.com/orris-inc/adfree/internal/domain/entitlement"
)

// EntitlementResponse is the authority's view of a user's record. Entitled is
// always serialized as a JSON boolean.
type EntitlementResponse struct {
	UserID           string     `json:"user_id"`
	Entitled         bool       `json:"entitled"`
	ProductType      string     `json:"product_type"`
	PurchaseDate     *time.Time `json:"purchase_date"`
	LastPurchaseDate *time.Time `json:"last_purchase_date"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// UpsertEntitlementRequest binds a store transaction to a user.
type UpsertEntitlementRequest struct {
	UserID        string     `json:"-" validate:"required,max=64"`
	TransactionID string     `json:"-" validate:"required,max=128"`
	ProductType   string     `json:"product_type" binding:"required" validate:"required,oneof=lifetime monthly"`
	ProductID     string     `json:"product_id,omitempty" validate:"max=128"`
	PurchasedAt   *time.Time `json:"purchased_at,omitempty"`
}

// UpsertEntitlementResponse carries the record after the upsert. Applied is
// false when the transaction had already been applied with the same terms.
type UpsertEntitlementResponse struct {
	EntitlementResponse
	Applied bool `json:"applied"`
}

// EntitlementChangedEvent is published after a transaction grants or extends
// a user's entitlement.
type EntitlementChangedEvent struct {
	UserID        string    `json:"user_id"`
	TransactionID string    `json:"transaction_id"`
	ProductType   string    `json:"product_type"`
	Entitled      bool      `json:"entitled"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// ToEntitlementResponse maps a domain record to its response DTO
func ToEntitlementResponse(r *entitlement.Record) *EntitlementResponse {
	if r == nil {
		return nil
	}
	return &EntitlementResponse{
		UserID:           r.UserID(),
		Entitled:         r.Entitled(),
		ProductType:      r.ProductType().String(),
		PurchaseDate:     r.PurchaseDate(),
		LastPurchaseDate: r.LastPurchaseDate(),
		UpdatedAt:        r.UpdatedAt(),
	}
}

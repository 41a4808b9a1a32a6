package entitlement

import "context"

// Repository persists records and transaction bindings on the backend.
type Repository interface {
	// GetByUserID returns the user's record or ErrNotFound.
	GetByUserID(ctx context.Context, userID string) (*Record, error)

	// ApplyTransaction binds the transaction and grants the entitlement in a
	// single database transaction. Replaying a binding with the same terms
	// returns the current record with applied=false; a binding with different
	// terms fails with ErrConflict.
	ApplyTransaction(ctx context.Context, binding *Binding) (record *Record, applied bool, err error)
}

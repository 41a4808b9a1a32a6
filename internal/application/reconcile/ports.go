// Package reconcile decides what entitlement the app shows. One Orchestrator
// per signed-in user serializes every transition; the Gate keeps guests away
// from it.
package reconcile

import (
	"context"
	"iter"
	"time"

	"github.com/orris-inc/adfree/internal/domain/entitlement"
)

// Authority is the backend that owns entitlement records.
type Authority interface {
	// Fetch fails with entitlement.ErrNetwork or entitlement.ErrNotFound.
	Fetch(ctx context.Context, userID string) (*entitlement.Record, error)
	// Upsert is idempotent by transaction id and fails with
	// entitlement.ErrConflict when the id is bound to different terms.
	Upsert(ctx context.Context, userID string, productType entitlement.ProductType, tx entitlement.Transaction) (*entitlement.Record, error)
}

// Store is the platform billing service.
type Store interface {
	Connect(ctx context.Context) (*entitlement.StoreConnection, error)
	ListProducts(ctx context.Context, ids []string) (entitlement.Catalog, error)
	// Purchase may block for as long as the user is in the store UI.
	Purchase(ctx context.Context, productID string) (*entitlement.Transaction, error)
	// Restore enumerates the account's transactions. Each range starts over.
	Restore(ctx context.Context, accountID string) iter.Seq2[entitlement.Transaction, error]
	// Events delivers transactions the store reports on its own.
	Events() <-chan entitlement.Transaction
}

// Cache is the device-local last known status.
type Cache interface {
	Read(ctx context.Context, userID string) (*entitlement.CacheEntry, bool)
	Write(ctx context.Context, userID string, status bool, at time.Time) error
	Invalidate(ctx context.Context, userID string) error
}

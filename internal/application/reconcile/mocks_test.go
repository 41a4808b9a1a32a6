package reconcile

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orris-inc/adfree/internal/domain/entitlement"
)

type mockAuthority struct {
	FetchFunc  func(ctx context.Context, userID string) (*entitlement.Record, error)
	UpsertFunc func(ctx context.Context, userID string, productType entitlement.ProductType, tx entitlement.Transaction) (*entitlement.Record, error)

	fetches atomic.Int32
	upserts atomic.Int32
}

func (m *mockAuthority) Fetch(ctx context.Context, userID string) (*entitlement.Record, error) {
	m.fetches.Add(1)
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, userID)
	}
	return nil, entitlement.ErrNotFound
}

func (m *mockAuthority) Upsert(ctx context.Context, userID string, productType entitlement.ProductType, tx entitlement.Transaction) (*entitlement.Record, error) {
	m.upserts.Add(1)
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, userID, productType, tx)
	}
	return nil, entitlement.ErrNetwork
}

type mockStore struct {
	ConnectFunc      func(ctx context.Context) (*entitlement.StoreConnection, error)
	ListProductsFunc func(ctx context.Context, ids []string) (entitlement.Catalog, error)
	PurchaseFunc     func(ctx context.Context, productID string) (*entitlement.Transaction, error)
	RestoreFunc      func(ctx context.Context, accountID string) iter.Seq2[entitlement.Transaction, error]

	events    chan entitlement.Transaction
	purchases atomic.Int32
}

func newMockStore() *mockStore {
	return &mockStore{events: make(chan entitlement.Transaction, 4)}
}

func (m *mockStore) Connect(ctx context.Context) (*entitlement.StoreConnection, error) {
	if m.ConnectFunc != nil {
		return m.ConnectFunc(ctx)
	}
	return &entitlement.StoreConnection{AccountID: "account-1", ConnectedAt: testNow}, nil
}

func (m *mockStore) ListProducts(ctx context.Context, ids []string) (entitlement.Catalog, error) {
	if m.ListProductsFunc != nil {
		return m.ListProductsFunc(ctx, ids)
	}
	return nil, nil
}

func (m *mockStore) Purchase(ctx context.Context, productID string) (*entitlement.Transaction, error) {
	m.purchases.Add(1)
	if m.PurchaseFunc != nil {
		return m.PurchaseFunc(ctx, productID)
	}
	return nil, entitlement.ErrStoreUnavailable
}

func (m *mockStore) Restore(ctx context.Context, accountID string) iter.Seq2[entitlement.Transaction, error] {
	if m.RestoreFunc != nil {
		return m.RestoreFunc(ctx, accountID)
	}
	return transactions()
}

func (m *mockStore) Events() <-chan entitlement.Transaction {
	return m.events
}

// transactions yields txs in order.
func transactions(txs ...entitlement.Transaction) iter.Seq2[entitlement.Transaction, error] {
	return func(yield func(entitlement.Transaction, error) bool) {
		for _, tx := range txs {
			if !yield(tx, nil) {
				return
			}
		}
	}
}

// memoryCache records every write so tests can assert on cache traffic.
type memoryCache struct {
	mu            sync.Mutex
	ttl           time.Duration
	entries       map[string]entitlement.CacheEntry
	writes        []bool
	invalidations int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{ttl: 24 * time.Hour, entries: make(map[string]entitlement.CacheEntry)}
}

func (c *memoryCache) seed(userID string, status bool, storedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = entitlement.CacheEntry{Status: status, StoredAt: storedAt, TTL: c.ttl}
}

func (c *memoryCache) Read(_ context.Context, userID string) (*entitlement.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[userID]
	if !ok {
		return nil, false
	}
	return &e, true
}

func (c *memoryCache) Write(_ context.Context, userID string, status bool, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = entitlement.CacheEntry{Status: status, StoredAt: at, TTL: c.ttl}
	c.writes = append(c.writes, status)
	return nil
}

func (c *memoryCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	c.invalidations++
	return nil
}

func (c *memoryCache) writeLog() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.writes...)
}

func (c *memoryCache) entry(userID string) (entitlement.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[userID]
	return e, ok
}

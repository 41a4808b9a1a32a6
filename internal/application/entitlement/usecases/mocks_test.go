package usecases

import (
	"context"

	"github.com/orris-inc/adfree/internal/application/entitlement/dto"
	"github.com/orris-inc/adfree/internal/domain/entitlement"
)

type mockEntitlementRepository struct {
	GetByUserIDFunc      func(ctx context.Context, userID string) (*entitlement.Record, error)
	ApplyTransactionFunc func(ctx context.Context, binding *entitlement.Binding) (*entitlement.Record, bool, error)
}

func (m *mockEntitlementRepository) GetByUserID(ctx context.Context, userID string) (*entitlement.Record, error) {
	if m.GetByUserIDFunc != nil {
		return m.GetByUserIDFunc(ctx, userID)
	}
	return nil, entitlement.ErrNotFound
}

func (m *mockEntitlementRepository) ApplyTransaction(ctx context.Context, binding *entitlement.Binding) (*entitlement.Record, bool, error) {
	if m.ApplyTransactionFunc != nil {
		return m.ApplyTransactionFunc(ctx, binding)
	}
	return nil, false, nil
}

type mockChangePublisher struct {
	PublishEntitlementChangedFunc func(ctx context.Context, event dto.EntitlementChangedEvent) error
	events                        []dto.EntitlementChangedEvent
}

func (m *mockChangePublisher) PublishEntitlementChanged(ctx context.Context, event dto.EntitlementChangedEvent) error {
	m.events = append(m.events, event)
	if m.PublishEntitlementChangedFunc != nil {
		return m.PublishEntitlementChangedFunc(ctx, event)
	}
	return nil
}

// memoryRepository is an in-memory entitlement.Repository with the same
// replay and conflict rules as the gorm implementation.
type memoryRepository struct {
	records  map[string]*entitlement.Record
	bindings map[string]*entitlement.Binding
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		records:  make(map[string]*entitlement.Record),
		bindings: make(map[string]*entitlement.Binding),
	}
}

func (m *memoryRepository) GetByUserID(_ context.Context, userID string) (*entitlement.Record, error) {
	r, ok := m.records[userID]
	if !ok {
		return nil, entitlement.ErrNotFound
	}
	return r, nil
}

func (m *memoryRepository) ApplyTransaction(_ context.Context, b *entitlement.Binding) (*entitlement.Record, bool, error) {
	if existing, ok := m.bindings[b.TransactionID]; ok {
		if !existing.SameTerms(b) {
			return nil, false, entitlement.ErrConflict
		}
		return m.records[b.UserID], false, nil
	}
	r, ok := m.records[b.UserID]
	if !ok {
		var err error
		if r, err = entitlement.NewRecord(b.UserID); err != nil {
			return nil, false, err
		}
	}
	if err := r.ApplyPurchase(b.ProductType, b.PurchasedAt); err != nil {
		return nil, false, err
	}
	m.records[b.UserID] = r
	m.bindings[b.TransactionID] = b
	return r, true, nil
}

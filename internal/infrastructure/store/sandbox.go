package store

import (
	"context"
	"fmt"
	"iter"
	"os"
	"slices"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/orris-inc/adfree/internal/domain/entitlement"
	"github.com/orris-inc/adfree/internal/shared/biztime"
)

// Fixture seeds a Sandbox: the product listing and the transaction history
// of each account.
type Fixture struct {
	Products []entitlement.Product            `yaml:"products"`
	Accounts map[string][]transactionPayload `yaml:"accounts"`
}

// LoadFixture reads a sandbox fixture from a YAML file
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sandbox fixture: %w", err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse sandbox fixture: %w", err)
	}
	return &f, nil
}

// PurchaseFunc replaces the default purchase outcome. Returning a nil
// transaction and nil error falls back to the default.
type PurchaseFunc func(ctx context.Context, productID string) (*entitlement.Transaction, error)

// Sandbox is an in-memory store for local development and tests. Its
// behaviour can be scripted: availability, purchase outcomes and
// asynchronous events.
type Sandbox struct {
	accountID string
	clock     biztime.Clock
	events    chan entitlement.Transaction

	mu          sync.Mutex
	products    []entitlement.Product
	accounts    map[string][]entitlement.Transaction
	unavailable bool
	onPurchase  PurchaseFunc
	// failAfter makes Restore fail after yielding this many transactions; -1 disables
	failAfter int
}

// NewSandbox creates a sandbox acting for accountID. fixture may be nil.
func NewSandbox(fixture *Fixture, accountID string, clock biztime.Clock) *Sandbox {
	s := &Sandbox{
		accountID: accountID,
		clock:     clock,
		events:    make(chan entitlement.Transaction, eventBuffer),
		accounts:  make(map[string][]entitlement.Transaction),
		failAfter: -1,
	}
	if fixture != nil {
		s.products = slices.Clone(fixture.Products)
		for id, txs := range fixture.Accounts {
			for _, p := range txs {
				s.accounts[id] = append(s.accounts[id], p.toDomain())
			}
		}
	}
	return s
}

// SetUnavailable makes every call fail with ErrStoreUnavailable
func (s *Sandbox) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = unavailable
}

// OnPurchase scripts the purchase outcome
func (s *Sandbox) OnPurchase(fn PurchaseFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPurchase = fn
}

// FailRestoreAfter makes restore enumeration fail after n transactions
func (s *Sandbox) FailRestoreAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = n
}

// AddTransaction appends a transaction to an account's history
func (s *Sandbox) AddTransaction(accountID string, tx entitlement.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[accountID] = append(s.accounts[accountID], tx)
}

// Emit delivers a transaction through Events, as a deferred approval would
func (s *Sandbox) Emit(ctx context.Context, tx entitlement.Transaction) error {
	s.AddTransaction(s.accountID, tx)
	select {
	case s.events <- tx:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sandbox) Connect(ctx context.Context) (*entitlement.StoreConnection, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return &entitlement.StoreConnection{AccountID: s.accountID, ConnectedAt: s.clock.Now()}, nil
}

func (s *Sandbox) ListProducts(ctx context.Context, ids []string) (entitlement.Catalog, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	catalog := entitlement.Catalog{}
	for _, p := range s.products {
		if slices.Contains(ids, p.ID) {
			catalog = append(catalog, p)
		}
	}
	return catalog, nil
}

func (s *Sandbox) Purchase(ctx context.Context, productID string) (*entitlement.Transaction, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	hook := s.onPurchase
	s.mu.Unlock()

	if hook != nil {
		tx, err := hook(ctx, productID)
		if err != nil {
			return nil, err
		}
		if tx != nil {
			s.AddTransaction(s.accountID, *tx)
			return tx, nil
		}
	}

	tx := entitlement.Transaction{
		TransactionID: "sandbox-" + uuid.NewString(),
		ProductID:     productID,
		IsActive:      true,
		PurchasedAt:   s.clock.Now(),
	}
	s.AddTransaction(s.accountID, tx)
	return &tx, nil
}

// Restore snapshots the history when ranged, so each range is independent
func (s *Sandbox) Restore(ctx context.Context, accountID string) iter.Seq2[entitlement.Transaction, error] {
	return func(yield func(entitlement.Transaction, error) bool) {
		if err := s.check(ctx); err != nil {
			yield(entitlement.Transaction{}, err)
			return
		}

		s.mu.Lock()
		txs := slices.Clone(s.accounts[accountID])
		failAfter := s.failAfter
		s.mu.Unlock()

		for i, tx := range txs {
			if failAfter >= 0 && i >= failAfter {
				yield(entitlement.Transaction{}, fmt.Errorf("%w: enumeration interrupted", entitlement.ErrStoreUnavailable))
				return
			}
			if !yield(tx, nil) {
				return
			}
		}
	}
}

func (s *Sandbox) Events() <-chan entitlement.Transaction {
	return s.events
}

func (s *Sandbox) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return entitlement.ErrStoreUnavailable
	}
	return nil
}

package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orris-inc/adfree/internal/domain/entitlement"
	"github.com/orris-inc/adfree/internal/shared/biztime"
	"github.com/orris-inc/adfree/internal/shared/config"
	"github.com/orris-inc/adfree/internal/shared/logger"
)

func newTestGate(t *testing.T, f *fixture) (*Gate, *int) {
	t.Helper()
	catalog, err := NewCatalog(config.ProductsConfig{Lifetime: []string{"adfree.lifetime"}})
	require.NoError(t, err)

	built := 0
	g := NewGate(func(userID string) (*Orchestrator, error) {
		built++
		return NewOrchestrator(userID, Dependencies{
			Authority: f.authority,
			Store:     f.store,
			Cache:     f.cache,
			Catalog:   catalog,
			Clock:     f.clock,
		}, quietRetry, logger.NewNopLogger()), nil
	}, f.clock, logger.NewNopLogger())
	t.Cleanup(g.Close)
	return g, &built
}

func TestGate_GuestNeverTouchesCacheOrAuthority(t *testing.T) {
	f := newFixture()
	f.cache.seed(testUser, true, testNow)
	g, built := newTestGate(t, f)

	view, err := g.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, entitlement.StatusNotEntitled, view.Status)
	assert.Equal(t, entitlement.SourceNone, view.Source)

	_, err = g.Purchase(context.Background(), "adfree.lifetime")
	assert.ErrorIs(t, err, entitlement.ErrGuestNotAllowed)
	_, err = g.Restore(context.Background())
	assert.ErrorIs(t, err, entitlement.ErrGuestNotAllowed)
	_, err = g.Products(context.Background())
	assert.ErrorIs(t, err, entitlement.ErrGuestNotAllowed)

	assert.Equal(t, entitlement.StatusNotEntitled, g.View().Status)
	assert.Equal(t, 0, *built)
	assert.Equal(t, int32(0), f.authority.fetches.Load())
	assert.Equal(t, int32(0), f.store.purchases.Load())
	assert.Empty(t, f.cache.writeLog())
	assert.Nil(t, g.Orchestrator())
}

func TestGate_SignedInUserReachesOrchestrator(t *testing.T) {
	f := newFixture()
	f.authority.FetchFunc = func(context.Context, string) (*entitlement.Record, error) {
		return record(t, true), nil
	}
	g, built := newTestGate(t, f)

	require.NoError(t, g.SwitchUser(context.Background(), entitlement.AuthenticatedUser(testUser)))
	view, err := g.Start(context.Background())

	require.NoError(t, err)
	assert.Equal(t, entitlement.StatusEntitled, view.Status)
	assert.Equal(t, 1, *built)
	assert.Equal(t, testUser, g.User().ID)

	require.NoError(t, g.SwitchUser(context.Background(), entitlement.AuthenticatedUser(testUser)))
	assert.Equal(t, 1, *built)
}

func TestGate_LogoutDropsToGuest(t *testing.T) {
	f := newFixture()
	f.authority.FetchFunc = func(context.Context, string) (*entitlement.Record, error) {
		return record(t, true), nil
	}
	g, _ := newTestGate(t, f)
	require.NoError(t, g.SwitchUser(context.Background(), entitlement.AuthenticatedUser(testUser)))
	_, err := g.Start(context.Background())
	require.NoError(t, err)

	require.NoError(t, g.Logout(context.Background()))

	assert.True(t, g.User().IsGuest())
	assert.Equal(t, entitlement.StatusNotEntitled, g.View().Status)
	_, ok := f.cache.entry(testUser)
	assert.False(t, ok)
	assert.Equal(t, 1, f.cache.invalidations)
}

func TestGate_BlankIDIsGuest(t *testing.T) {
	f := newFixture()
	g, built := newTestGate(t, f)

	require.NoError(t, g.SwitchUser(context.Background(), entitlement.AuthenticatedUser("  ")))

	assert.Equal(t, 0, *built)
	_, err := g.Restore(context.Background())
	assert.ErrorIs(t, err, entitlement.ErrGuestNotAllowed)
}

func TestGate_FactoryFailureLeavesGuest(t *testing.T) {
	g := NewGate(func(string) (*Orchestrator, error) {
		return nil, errors.New("cache unavailable")
	}, biztime.NewManualClock(testNow), logger.NewNopLogger())

	err := g.SwitchUser(context.Background(), entitlement.AuthenticatedUser(testUser))

	require.Error(t, err)
	assert.True(t, g.User().IsGuest())
	assert.Equal(t, entitlement.StatusNotEntitled, g.View().Status)
}

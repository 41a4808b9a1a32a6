package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orris-inc/adfree/internal/application/entitlement/dto"
	"github.com/orris-inc/adfree/internal/shared/constants"
	"github.com/orris-inc/adfree/internal/shared/logger"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

// waitSubscribed blocks until the subscriber is registered on channel
func waitSubscribed(t *testing.T, mr *miniredis.Miniredis, channel string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(channel)[channel] > 0
	}, time.Second, 5*time.Millisecond)
}

func TestRedisEntitlementEventBus_PublishSubscribe(t *testing.T) {
	mr, client := setupRedis(t)
	bus := NewRedisEntitlementEventBus(client, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan dto.EntitlementChangedEvent, 1)
	done := make(chan error, 1)
	go func() {
		done <- bus.Subscribe(ctx, func(_ context.Context, event dto.EntitlementChangedEvent) {
			received <- event
		})
	}()
	waitSubscribed(t, mr, constants.ChannelEntitlementChange)

	// Garbage on the channel is skipped
	mr.Publish(constants.ChannelEntitlementChange, "{not json")

	event := dto.EntitlementChangedEvent{
		UserID:        "u1",
		TransactionID: "tx-1",
		ProductType:   "lifetime",
		Entitled:      true,
		OccurredAt:    time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, bus.PublishEntitlementChanged(ctx, event))

	select {
	case got := <-received:
		assert.Equal(t, event, got)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not stop")
	}
}

func TestRedisEntitlementEventBus_PublishFailure(t *testing.T) {
	mr, client := setupRedis(t)
	bus := NewRedisEntitlementEventBus(client, logger.NewNopLogger())
	mr.Close()

	err := bus.PublishEntitlementChanged(context.Background(), dto.EntitlementChangedEvent{UserID: "u1"})
	assert.Error(t, err)
}

func TestRedisStoreEventBus_FiltersByAccount(t *testing.T) {
	mr, client := setupRedis(t)
	bus := NewRedisStoreEventBus(client, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan StoreTransactionEvent, 4)
	go func() {
		_ = bus.Subscribe(ctx, "acct-1", func(_ context.Context, event StoreTransactionEvent) {
			received <- event
		})
	}()
	waitSubscribed(t, mr, constants.ChannelStoreTransactions)

	require.NoError(t, bus.Publish(ctx, StoreTransactionEvent{AccountID: "acct-2", TransactionID: "other"}))
	require.NoError(t, bus.Publish(ctx, StoreTransactionEvent{AccountID: "acct-1", TransactionID: "mine", ProductID: "adfree.monthly", Active: true}))

	select {
	case got := <-received:
		assert.Equal(t, "mine", got.TransactionID)
		assert.True(t, got.Active)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	assert.Empty(t, received)
}

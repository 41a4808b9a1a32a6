package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orris-inc/adfree/internal/shared/constants"
	"github.com/orris-inc/adfree/internal/shared/logger"
)

// StoreTransactionEvent is a transaction the billing service reports outside
// of a purchase call, such as a deferred approval.
type StoreTransactionEvent struct {
	AccountID     string    `json:"account_id"`
	TransactionID string    `json:"transaction_id"`
	ProductID     string    `json:"product_id"`
	Active        bool      `json:"active"`
	PurchasedAt   time.Time `json:"purchased_at"`
}

// StoreEventHandler is called for every event of the subscribed account
type StoreEventHandler func(ctx context.Context, event StoreTransactionEvent)

// RedisStoreEventBus carries billing service transaction notifications
type RedisStoreEventBus struct {
	client *redis.Client
	logger logger.Interface
}

// NewRedisStoreEventBus creates a new Redis-based store event bus
func NewRedisStoreEventBus(client *redis.Client, logger logger.Interface) *RedisStoreEventBus {
	return &RedisStoreEventBus{
		client: client,
		logger: logger,
	}
}

// Publish publishes a store transaction event
func (b *RedisStoreEventBus) Publish(ctx context.Context, event StoreTransactionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, constants.ChannelStoreTransactions, data).Err(); err != nil {
		b.logger.Errorw("failed to publish store transaction event",
			"account_id", event.AccountID,
			"transaction_id", event.TransactionID,
			"error", err,
		)
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe delivers events of one account until ctx is cancelled
func (b *RedisStoreEventBus) Subscribe(ctx context.Context, accountID string, handler StoreEventHandler) error {
	return subscribe(ctx, b.client, b.logger, constants.ChannelStoreTransactions, func(payload string) {
		var event StoreTransactionEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			b.logger.Warnw("failed to unmarshal store transaction event",
				"payload", payload,
				"error", err,
			)
			return
		}
		if event.AccountID != accountID {
			return
		}
		handler(ctx, event)
	})
}

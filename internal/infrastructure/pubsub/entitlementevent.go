package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/orris-inc/adfree/internal/application/entitlement/dto"
	"github.com/orris-inc/adfree/internal/shared/constants"
	"github.com/orris-inc/adfree/internal/shared/logger"
)

// EntitlementEventHandler is called for every received change. It runs on
// the subscriber loop and must not block.
type EntitlementEventHandler func(ctx context.Context, event dto.EntitlementChangedEvent)

// RedisEntitlementEventBus distributes entitlement changes from the backend
// to every client of the affected user over Redis Pub/Sub
type RedisEntitlementEventBus struct {
	client *redis.Client
	logger logger.Interface
}

// NewRedisEntitlementEventBus creates a new Redis-based entitlement event bus
func NewRedisEntitlementEventBus(client *redis.Client, logger logger.Interface) *RedisEntitlementEventBus {
	return &RedisEntitlementEventBus{
		client: client,
		logger: logger,
	}
}

// PublishEntitlementChanged publishes an entitlement change event
func (b *RedisEntitlementEventBus) PublishEntitlementChanged(ctx context.Context, event dto.EntitlementChangedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, constants.ChannelEntitlementChange, data).Err(); err != nil {
		b.logger.Errorw("failed to publish entitlement change event",
			"user_id", event.UserID,
			"transaction_id", event.TransactionID,
			"error", err,
		)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debugw("entitlement change event published",
		"user_id", event.UserID,
		"transaction_id", event.TransactionID,
	)
	return nil
}

// Subscribe delivers entitlement change events until ctx is cancelled
func (b *RedisEntitlementEventBus) Subscribe(ctx context.Context, handler EntitlementEventHandler) error {
	return subscribe(ctx, b.client, b.logger, constants.ChannelEntitlementChange, func(payload string) {
		var event dto.EntitlementChangedEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			b.logger.Warnw("failed to unmarshal entitlement event",
				"payload", payload,
				"error", err,
			)
			return
		}
		handler(ctx, event)
	})
}

// subscribe runs the receive loop shared by the event buses
func subscribe(ctx context.Context, client *redis.Client, log logger.Interface, channel string, onMessage func(payload string)) error {
	ps := client.Subscribe(ctx, channel)
	defer ps.Close()

	// Wait for subscription confirmation
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to channel: %w", err)
	}

	log.Infow("subscribed to channel", "channel", channel)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Infow("event subscriber stopped",
				"channel", channel,
				"reason", ctx.Err(),
			)
			return ctx.Err()

		case msg, ok := <-ch:
			if !ok {
				log.Warnw("event channel closed", "channel", channel)
				return nil
			}
			onMessage(msg.Payload)
		}
	}
}

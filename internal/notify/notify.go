// Package notify carries row-level change notifications between the
// ingress/settlement side and the dashboard recompute side. The
// transport is Redis pub/sub, one channel per table. Consumers treat a
// notification purely as a trigger to re-fetch and re-derive from the
// latest snapshot; the payload intentionally carries no row data.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Table identifies which record kind changed.
type Table string

const (
	TableClicks      Table = "clicks"
	TableConversions Table = "conversions"
	TableProgression Table = "progression"
)

func channelFor(t Table) string {
	return "changes:" + string(t)
}

// Change is one row-level change notification.
type Change struct {
	Table       Table  `json:"table"`
	AffiliateID string `json:"affiliate_id"`
}

// Publisher emits change notifications.
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

// Handler receives change notifications. It must not block: long work
// belongs in the consumer's own goroutines.
type Handler func(change Change)

// Subscriber delivers change notifications to a handler.
type Subscriber interface {
	Subscribe(ctx context.Context, handler Handler) error
}

// RedisNotifier implements Publisher and Subscriber over Redis pub/sub.
type RedisNotifier struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisNotifier creates a notifier on the given Redis client.
func NewRedisNotifier(client *redis.Client, logger *zap.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, logger: logger}
}

// Publish sends the change to its table's channel. Publish failures are
// reported to the caller; ingress paths log and continue, because a
// missed notification only delays the next recompute.
func (n *RedisNotifier) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}
	if err := n.client.Publish(ctx, channelFor(change.Table), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}

// Subscribe listens on all table channels until ctx is cancelled,
// invoking handler for each decoded change. Malformed payloads are
// logged and skipped.
func (n *RedisNotifier) Subscribe(ctx context.Context, handler Handler) error {
	sub := n.client.Subscribe(ctx,
		channelFor(TableClicks),
		channelFor(TableConversions),
		channelFor(TableProgression),
	)

	go func() {
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var change Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					n.logger.Warn("malformed change notification",
						zap.String("channel", msg.Channel),
						zap.Error(err),
					)
					continue
				}
				handler(change)
			}
		}
	}()

	return nil
}

// NopPublisher discards notifications. Used when Redis is unavailable.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, change Change) error { return nil }

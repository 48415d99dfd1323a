package chathub

import (
	"context"
	"encoding/json"

	"gigchat/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// Subscription is the part of *redis.PubSub the listener needs.
type Subscription interface {
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

// ListenDeliveries feeds delivery receipts published by persistence
// workers into the hub. It returns when ctx is cancelled or the
// subscription is closed.
func (m *ManagerService) ListenDeliveries(ctx context.Context, sub Subscription) {
	defer sub.Close()
	ch := sub.Channel()
	m.logger.Info().Msg("listening for delivery receipts")

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var receipt models.DeliveryReceipt
			if err := json.Unmarshal([]byte(msg.Payload), &receipt); err != nil {
				m.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("bad delivery receipt")
				continue
			}
			m.Deliver(receipt)
		}
	}
}

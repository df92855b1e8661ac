// Package notifications hands engagement events to the push delivery layer.
// Delivery itself (websockets, mobile push) lives outside this service and
// subscribes to the per-user Redis channels.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"momentum/internal/observability"

	"github.com/redis/go-redis/v9"
)

// Event is the JSON published for one notification.
type Event struct {
	Type        string    `json:"type"`
	RecipientID uint      `json:"recipient_id"`
	ActorID     uint      `json:"actor_id"`
	PostID      uint      `json:"post_id,omitempty"`
	CommentID   uint      `json:"comment_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Dispatcher delivers an event to its recipient.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// UserChannel is the pub/sub channel a recipient's connections listen on.
func UserChannel(userID uint) string {
	return fmt.Sprintf("notifications:user:%d", userID)
}

// Notifier publishes events into Redis channels. With a nil client it only
// logs, which keeps single-node development working without Redis.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Dispatch publishes ev on the recipient's channel.
func (n *Notifier) Dispatch(ctx context.Context, ev Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if n.rdb == nil {
		observability.GlobalLogger.InfoContext(ctx, "notification",
			"type", ev.Type, "recipient_id", ev.RecipientID, "actor_id", ev.ActorID)
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return n.rdb.Publish(ctx, UserChannel(ev.RecipientID), payload).Err()
}

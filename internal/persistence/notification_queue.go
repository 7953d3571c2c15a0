package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/service-portal/internal/domain"
)

// NotificationQueue is a Redis list used as a FIFO: producers LPUSH, the
// worker BRPOPs.
type NotificationQueue struct {
	client *redis.Client
	key    string
}

// NewNotificationQueue binds the queue to key.
func NewNotificationQueue(r *Redis, key string) *NotificationQueue {
	return &NotificationQueue{client: r.Client, key: key}
}

// Enqueue pushes a notification.
func (q *NotificationQueue) Enqueue(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, payload).Err()
}

// Dequeue blocks up to timeout. It returns nil without error when the queue
// stayed empty.
func (q *NotificationQueue) Dequeue(ctx context.Context, timeout time.Duration) (*domain.Notification, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of length %d", len(res))
	}
	var n domain.Notification
	if err := json.Unmarshal([]byte(res[1]), &n); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	return &n, nil
}

// Len reports the backlog size.
func (q *NotificationQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

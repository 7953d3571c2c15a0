package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/service-portal/internal/domain"
)

// ErrQueueFull is returned when the in-process buffer has no room left.
var ErrQueueFull = errors.New("notification buffer full")

// Enqueuer hands a notification to durable storage.
type Enqueuer interface {
	Enqueue(ctx context.Context, n domain.Notification) error
}

// AsyncQueue decouples request handling from the backing queue. Enqueue only
// buffers; Run forwards buffered notifications to the inner queue.
type AsyncQueue struct {
	inner   Enqueuer
	buffer  chan queued
	timeout time.Duration
	logger  *zap.Logger
}

type queued struct {
	ctx context.Context
	n   domain.Notification
}

// NewAsyncQueue builds a queue holding up to size pending notifications.
// Each forward to inner is bounded by timeout.
func NewAsyncQueue(inner Enqueuer, size int, timeout time.Duration, logger *zap.Logger) *AsyncQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AsyncQueue{
		inner:   inner,
		buffer:  make(chan queued, size),
		timeout: timeout,
		logger:  logger,
	}
}

// Enqueue never blocks. The caller's context values are kept but its
// cancellation is not, so a finished HTTP request does not abort delivery.
func (q *AsyncQueue) Enqueue(ctx context.Context, n domain.Notification) error {
	select {
	case q.buffer <- queued{ctx: context.WithoutCancel(ctx), n: n}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending reports how many notifications are waiting to be forwarded.
func (q *AsyncQueue) Pending() int {
	return len(q.buffer)
}

// Run forwards notifications until ctx is cancelled, then flushes whatever
// is still buffered.
func (q *AsyncQueue) Run(ctx context.Context) {
	q.logger.Info("notification forwarder started")
	defer q.logger.Info("notification forwarder stopped")
	for {
		select {
		case <-ctx.Done():
			q.flush()
			return
		case item := <-q.buffer:
			q.forward(item)
		}
	}
}

func (q *AsyncQueue) flush() {
	for {
		select {
		case item := <-q.buffer:
			q.forward(item)
		default:
			return
		}
	}
}

func (q *AsyncQueue) forward(item queued) {
	ctx, cancel := context.WithTimeout(item.ctx, q.timeout)
	defer cancel()
	if err := q.inner.Enqueue(ctx, item.n); err != nil {
		q.logger.Warn("notification enqueue failed",
			zap.String("id", item.n.ID),
			zap.String("kind", string(item.n.Kind)),
			zap.String("request_id", item.n.RequestID),
			zap.Error(err))
	}
}

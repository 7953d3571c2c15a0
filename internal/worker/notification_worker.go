package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/service-portal/internal/domain"
)

// Dequeuer pops the next queued notification, blocking up to timeout.
// A nil notification with a nil error means the wait timed out.
type Dequeuer interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*domain.Notification, error)
}

// Mailer delivers a notification.
type Mailer interface {
	Send(ctx context.Context, from string, n domain.Notification) error
}

// LogMailer writes notifications to the log instead of sending mail.
type LogMailer struct {
	Logger *zap.Logger
}

// Send logs the notification.
func (m LogMailer) Send(_ context.Context, from string, n domain.Notification) error {
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("notification",
		zap.String("from", from),
		zap.String("to", n.Recipient),
		zap.String("kind", string(n.Kind)),
		zap.String("service_queue_id", n.ServiceQueueID),
		zap.String("actor", n.ActorName),
		zap.Any("fields", n.Fields))
	return nil
}

// NotificationWorker drains the outbound queue.
type NotificationWorker struct {
	queue   Dequeuer
	mailer  Mailer
	from    string
	poll    time.Duration
	backoff time.Duration
	logger  *zap.Logger
}

// NewNotificationWorker builds a worker.
func NewNotificationWorker(queue Dequeuer, mailer Mailer, from string, poll time.Duration, logger *zap.Logger) *NotificationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &NotificationWorker{
		queue:   queue,
		mailer:  mailer,
		from:    from,
		poll:    poll,
		backoff: time.Second,
		logger:  logger,
	}
}

// Run blocks until ctx is cancelled. Delivery failures are logged and the
// message is dropped.
func (w *NotificationWorker) Run(ctx context.Context) {
	w.logger.Info("notification worker started")
	defer w.logger.Info("notification worker stopped")
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.ProcessOne(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			w.logger.Warn("notification queue read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.backoff):
			}
		}
	}
}

// ProcessOne handles at most one message and reports whether one was found.
func (w *NotificationWorker) ProcessOne(ctx context.Context) (bool, error) {
	n, err := w.queue.Dequeue(ctx, w.poll)
	if err != nil {
		return false, err
	}
	if n == nil {
		return false, nil
	}
	if err := w.mailer.Send(ctx, w.from, *n); err != nil {
		w.logger.Warn("notification delivery failed",
			zap.String("id", n.ID),
			zap.String("kind", string(n.Kind)),
			zap.Error(err))
	}
	return true, nil
}

package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/service-portal/internal/domain"
)

// slowQueue blocks every Enqueue until release is closed or ctx ends.
type slowQueue struct {
	release chan struct{}

	mu      sync.Mutex
	stored  []domain.Notification
	ctxErrs []error
}

func newSlowQueue() *slowQueue {
	return &slowQueue{release: make(chan struct{})}
}

func (q *slowQueue) Enqueue(ctx context.Context, n domain.Notification) error {
	select {
	case <-q.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stored = append(q.stored, n)
	q.ctxErrs = append(q.ctxErrs, ctx.Err())
	return nil
}

func (q *slowQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.stored)
}

func runAsync(t *testing.T, q *AsyncQueue) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestAsyncQueueEnqueueDoesNotWaitForBackingQueue(t *testing.T) {
	inner := newSlowQueue()
	q := NewAsyncQueue(inner, 8, time.Minute, nil)
	stop := runAsync(t, q)
	defer stop()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(context.Background(), domain.Notification{ID: "n"}))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 0, inner.count())

	close(inner.release)
	assert.Eventually(t, func() bool { return inner.count() == 3 }, time.Second, 5*time.Millisecond)
}

func TestAsyncQueueRejectsWhenBufferFull(t *testing.T) {
	q := NewAsyncQueue(newSlowQueue(), 2, time.Minute, nil)

	require.NoError(t, q.Enqueue(context.Background(), domain.Notification{ID: "a"}))
	require.NoError(t, q.Enqueue(context.Background(), domain.Notification{ID: "b"}))
	assert.ErrorIs(t, q.Enqueue(context.Background(), domain.Notification{ID: "c"}), ErrQueueFull)
	assert.Equal(t, 2, q.Pending())
}

func TestAsyncQueueOutlivesCallerContext(t *testing.T) {
	inner := newSlowQueue()
	close(inner.release)
	q := NewAsyncQueue(inner, 4, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Enqueue(ctx, domain.Notification{ID: "late"}))
	cancel()

	stop := runAsync(t, q)
	defer stop()
	assert.Eventually(t, func() bool { return inner.count() == 1 }, time.Second, 5*time.Millisecond)
	inner.mu.Lock()
	defer inner.mu.Unlock()
	assert.NoError(t, inner.ctxErrs[0])
}

func TestAsyncQueueTimesOutStuckForward(t *testing.T) {
	inner := newSlowQueue()
	q := NewAsyncQueue(inner, 4, 20*time.Millisecond, nil)
	require.NoError(t, q.Enqueue(context.Background(), domain.Notification{ID: "stuck"}))

	stop := runAsync(t, q)
	assert.Eventually(t, func() bool { return q.Pending() == 0 }, time.Second, 5*time.Millisecond)
	stop()
	assert.Equal(t, 0, inner.count())
}

func TestAsyncQueueFlushesOnShutdown(t *testing.T) {
	inner := newSlowQueue()
	close(inner.release)
	q := NewAsyncQueue(inner, 8, time.Minute, nil)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(context.Background(), domain.Notification{ID: id}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q.Run(ctx)

	assert.Equal(t, 3, inner.count())
	assert.Equal(t, 0, q.Pending())
}

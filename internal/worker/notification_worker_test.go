package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/service-portal/internal/domain"
)

type fakeQueue struct {
	mu    sync.Mutex
	items []domain.Notification
	err   error
}

func (q *fakeQueue) Dequeue(ctx context.Context, _ time.Duration) (*domain.Notification, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	if len(q.items) == 0 {
		return nil, ctx.Err()
	}
	n := q.items[0]
	q.items = q.items[1:]
	return &n, nil
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

func (m *recordingMailer) Send(_ context.Context, _ string, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return m.err
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func TestProcessOneDeliversInOrder(t *testing.T) {
	queue := &fakeQueue{items: []domain.Notification{
		{ID: "1", Kind: domain.NotifyRequestAssigned, Recipient: "a@example.com"},
		{ID: "2", Kind: domain.NotifyNoteAdded, Recipient: "b@example.com"},
	}}
	mailer := &recordingMailer{}
	w := NewNotificationWorker(queue, mailer, "noreply@example.com", time.Millisecond, nil)

	ok, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.Len(t, mailer.sent, 2)
	assert.Equal(t, "1", mailer.sent[0].ID)
	assert.Equal(t, "2", mailer.sent[1].ID)
}

func TestProcessOneSwallowsMailerFailure(t *testing.T) {
	queue := &fakeQueue{items: []domain.Notification{{ID: "1"}}}
	mailer := &recordingMailer{err: errors.New("smtp down")}
	w := NewNotificationWorker(queue, mailer, "", time.Millisecond, nil)

	ok, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunStopsOnCancel(t *testing.T) {
	queue := &fakeQueue{items: []domain.Notification{{ID: "1"}, {ID: "2"}}}
	mailer := &recordingMailer{}
	w := NewNotificationWorker(queue, mailer, "", time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return mailer.count() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestLogMailerNeverFails(t *testing.T) {
	assert.NoError(t, LogMailer{}.Send(context.Background(), "x", domain.Notification{ID: "1"}))
}

package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/service-portal/internal/domain"
	"github.com/spec-kit/service-portal/internal/repository"
)

func seedRequest(t *testing.T, s *Store) *domain.ServiceRequest {
	t.Helper()
	request := &domain.ServiceRequest{
		ServiceQueueID: "SQ-0000000A",
		CompanyID:      "company-1",
		Insured:        "Acme",
		Narrative:      "Question",
		Category:       domain.CategoryOther,
		TaskStatus:     domain.TaskStatusNew,
	}
	require.NoError(t, s.Requests().Create(context.Background(), request))
	return request
}

func TestTransactionRollsBackEveryTable(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	request := seedRequest(t, s)
	boom := errors.New("boom")

	err := s.TxManager().RunInTransaction(ctx, func(ctx context.Context) error {
		insured := "Changed"
		if _, err := s.Requests().Patch(ctx, request.ID, repository.RequestPatch{Insured: &insured, ModifiedByID: "u"}); err != nil {
			return err
		}
		if err := s.Attachments().Create(ctx, &domain.RequestAttachment{RequestID: request.ID, FileName: "a.txt"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	stored, err := s.Requests().GetByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", stored.Insured)
	attachments, err := s.Attachments().ListByRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Empty(t, attachments)
}

func TestTransactionRollsBackOnPanic(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	request := seedRequest(t, s)

	assert.Panics(t, func() {
		_ = s.TxManager().RunInTransaction(ctx, func(ctx context.Context) error {
			insured := "Changed"
			_, _ = s.Requests().Patch(ctx, request.ID, repository.RequestPatch{Insured: &insured, ModifiedByID: "u"})
			panic("handler bug")
		})
	})
	stored, err := s.Requests().GetByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", stored.Insured)
}

func TestNestedTransactionJoinsOuter(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	request := seedRequest(t, s)
	tx := s.TxManager()

	err := tx.RunInTransaction(ctx, func(ctx context.Context) error {
		return tx.RunInTransaction(ctx, func(ctx context.Context) error {
			insured := "Nested"
			_, err := s.Requests().Patch(ctx, request.ID, repository.RequestPatch{Insured: &insured, ModifiedByID: "u"})
			return err
		})
	})
	require.NoError(t, err)
	stored, err := s.Requests().GetByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, "Nested", stored.Insured)
}

func TestTransactionsAreSerialized(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	tx := s.TxManager()

	var mu sync.Mutex
	inside, maxInside := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tx.RunInTransaction(ctx, func(context.Context) error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInside)
}

func TestPatchGuardsClosedRequests(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	request := seedRequest(t, s)
	closed := domain.TaskStatusClosed
	now := s.now()

	patch := repository.RequestPatch{TaskStatus: &closed, StampClosedAt: &now, ModifiedByID: "u", RequireNotClosed: true}
	updated, err := s.Requests().Patch(ctx, request.ID, patch)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusClosed, updated.EffectiveStatus())

	_, err = s.Requests().Patch(ctx, request.ID, patch)
	assert.ErrorIs(t, err, repository.ErrStaleState)
}

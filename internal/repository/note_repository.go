package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/service-portal/internal/domain"
)

// NoteRepository stores the append-only note thread of a request.
type NoteRepository interface {
	Create(ctx context.Context, note *domain.RequestNote) error
	ListByRequest(ctx context.Context, requestID string) ([]domain.RequestNote, error)
}

type noteRepository struct {
	pool *pgxpool.Pool
}

// NewNoteRepository constructs repository.
func NewNoteRepository(pool *pgxpool.Pool) NoteRepository {
	return &noteRepository{pool: pool}
}

func (r *noteRepository) Create(ctx context.Context, note *domain.RequestNote) error {
	const query = `
        INSERT INTO request_notes (request_id, author_id, content, is_internal)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	return conn(ctx, r.pool).QueryRow(ctx, query,
		note.RequestID,
		note.AuthorID,
		note.Content,
		note.IsInternal,
	).Scan(&note.ID, &note.CreatedAt)
}

func (r *noteRepository) ListByRequest(ctx context.Context, requestID string) ([]domain.RequestNote, error) {
	const query = `
        SELECT n.id, n.request_id, n.author_id, u.name, n.content, n.is_internal, n.created_at
        FROM request_notes n JOIN users u ON u.id = n.author_id
        WHERE n.request_id=$1 ORDER BY n.created_at ASC`
	rows, err := conn(ctx, r.pool).Query(ctx, query, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.RequestNote{}
	for rows.Next() {
		var note domain.RequestNote
		if err := rows.Scan(
			&note.ID,
			&note.RequestID,
			&note.AuthorID,
			&note.AuthorName,
			&note.Content,
			&note.IsInternal,
			&note.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, note)
	}
	return result, rows.Err()
}

package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/service-portal/internal/domain"
)

// AttachmentRepository persists attachment metadata. File bytes live in the file store.
type AttachmentRepository interface {
	Create(ctx context.Context, attachment *domain.RequestAttachment) error
	GetByID(ctx context.Context, id string) (*domain.RequestAttachment, error)
	ListByRequest(ctx context.Context, requestID string) ([]domain.RequestAttachment, error)
	Delete(ctx context.Context, id string) error
}

type attachmentRepository struct {
	pool *pgxpool.Pool
}

// NewAttachmentRepository constructs repository.
func NewAttachmentRepository(pool *pgxpool.Pool) AttachmentRepository {
	return &attachmentRepository{pool: pool}
}

const attachmentSelect = `
        SELECT id, request_id, file_name, storage_path, size_bytes, mime_type, uploaded_by, created_at
        FROM request_attachments`

func (r *attachmentRepository) Create(ctx context.Context, attachment *domain.RequestAttachment) error {
	const query = `
        INSERT INTO request_attachments (request_id, file_name, storage_path, size_bytes, mime_type, uploaded_by)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at`
	return conn(ctx, r.pool).QueryRow(ctx, query,
		attachment.RequestID,
		attachment.FileName,
		attachment.StoragePath,
		attachment.SizeBytes,
		attachment.MimeType,
		attachment.UploadedBy,
	).Scan(&attachment.ID, &attachment.CreatedAt)
}

func (r *attachmentRepository) GetByID(ctx context.Context, id string) (*domain.RequestAttachment, error) {
	var attachment domain.RequestAttachment
	if err := scanAttachment(conn(ctx, r.pool).QueryRow(ctx, attachmentSelect+` WHERE id=$1`, id), &attachment); err != nil {
		return nil, err
	}
	return &attachment, nil
}

func (r *attachmentRepository) ListByRequest(ctx context.Context, requestID string) ([]domain.RequestAttachment, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, attachmentSelect+` WHERE request_id=$1 ORDER BY created_at ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.RequestAttachment{}
	for rows.Next() {
		var attachment domain.RequestAttachment
		if err := scanAttachment(rows, &attachment); err != nil {
			return nil, err
		}
		result = append(result, attachment)
	}
	return result, rows.Err()
}

func (r *attachmentRepository) Delete(ctx context.Context, id string) error {
	cmd, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM request_attachments WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanAttachment(row pgx.Row, attachment *domain.RequestAttachment) error {
	return row.Scan(
		&attachment.ID,
		&attachment.RequestID,
		&attachment.FileName,
		&attachment.StoragePath,
		&attachment.SizeBytes,
		&attachment.MimeType,
		&attachment.UploadedBy,
		&attachment.CreatedAt,
	)
}

package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/service-portal/internal/domain"
)

// ActivityFilter narrows audit log queries. Results are newest first.
type ActivityFilter struct {
	RequestID *string
	CompanyID *string
	UserID    *string
	Limit     int
	Offset    int
}

// ActivityRepository stores audit entries. Rows are never updated.
type ActivityRepository interface {
	Create(ctx context.Context, entry *domain.ActivityLog) error
	List(ctx context.Context, filter ActivityFilter) ([]domain.ActivityLog, error)
}

type activityRepository struct {
	pool *pgxpool.Pool
}

// NewActivityRepository builds repository.
func NewActivityRepository(pool *pgxpool.Pool) ActivityRepository {
	return &activityRepository{pool: pool}
}

func (r *activityRepository) Create(ctx context.Context, entry *domain.ActivityLog) error {
	const query = `
        INSERT INTO activity_logs (type, description, user_id, company_id, request_id, metadata)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at`
	return conn(ctx, r.pool).QueryRow(ctx, query,
		entry.Type,
		entry.Description,
		entry.UserID,
		entry.CompanyID,
		entry.RequestID,
		entry.Metadata,
	).Scan(&entry.ID, &entry.CreatedAt)
}

func (r *activityRepository) List(ctx context.Context, filter ActivityFilter) ([]domain.ActivityLog, error) {
	limit, offset := pageBounds(filter.Limit, filter.Offset)
	builder := psql.Select("id", "type", "description", "user_id", "company_id", "request_id", "metadata", "created_at").
		From("activity_logs").
		OrderBy("created_at DESC").
		Limit(limit).
		Offset(offset)
	if filter.RequestID != nil {
		builder = builder.Where(sq.Eq{"request_id": *filter.RequestID})
	}
	if filter.CompanyID != nil {
		builder = builder.Where(sq.Eq{"company_id": *filter.CompanyID})
	}
	if filter.UserID != nil {
		builder = builder.Where(sq.Eq{"user_id": *filter.UserID})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.ActivityLog{}
	for rows.Next() {
		var entry domain.ActivityLog
		if err := rows.Scan(
			&entry.ID,
			&entry.Type,
			&entry.Description,
			&entry.UserID,
			&entry.CompanyID,
			&entry.RequestID,
			&entry.Metadata,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

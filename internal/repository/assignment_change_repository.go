package repository

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/service-portal/internal/domain"
)

// ChangeRequestFilter narrows assignment-change listings.
type ChangeRequestFilter struct {
	RequestID *string
	Status    *domain.ChangeRequestStatus
	// Scoped restricts to change requests whose parent belongs to CompanyIDs.
	Scoped     bool
	CompanyIDs []string
}

// ReviewDecision is applied by Review when the change request is still pending.
type ReviewDecision struct {
	Status       domain.ChangeRequestStatus
	ReviewedByID string
	Comment      *string
	ReviewedAt   time.Time
}

// AssignmentChangeRepository persists reassignment petitions.
type AssignmentChangeRepository interface {
	Create(ctx context.Context, change *domain.AssignmentChangeRequest) error
	GetByID(ctx context.Context, id string) (*domain.AssignmentChangeRequest, error)
	List(ctx context.Context, filter ChangeRequestFilter) ([]domain.AssignmentChangeRequest, error)
	HasPending(ctx context.Context, requestID, requestedByID string) (bool, error)
	// Review transitions a pending change request. ErrStaleState is returned
	// when it has already been reviewed.
	Review(ctx context.Context, id string, decision ReviewDecision) (*domain.AssignmentChangeRequest, error)
}

type assignmentChangeRepository struct {
	pool *pgxpool.Pool
}

// NewAssignmentChangeRepository builds repository.
func NewAssignmentChangeRepository(pool *pgxpool.Pool) AssignmentChangeRepository {
	return &assignmentChangeRepository{pool: pool}
}

var changeColumns = []string{
	"acr.id", "acr.request_id", "acr.requested_by_id", "acr.current_assignee_id", "acr.requested_assignee_id",
	"acr.reason", "acr.status", "acr.reviewed_by_id", "acr.review_comment", "acr.reviewed_at",
	"acr.created_at", "acr.updated_at",
}

const changeReturning = `RETURNING id, request_id, requested_by_id, current_assignee_id, requested_assignee_id,
            reason, status, reviewed_by_id, review_comment, reviewed_at, created_at, updated_at`

func (r *assignmentChangeRepository) Create(ctx context.Context, change *domain.AssignmentChangeRequest) error {
	const query = `
        INSERT INTO assignment_change_requests (request_id, requested_by_id, current_assignee_id, requested_assignee_id, reason, status)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at, updated_at`
	err := conn(ctx, r.pool).QueryRow(ctx, query,
		change.RequestID,
		change.RequestedByID,
		change.CurrentAssigneeID,
		change.RequestedAssigneeID,
		change.Reason,
		change.Status,
	).Scan(&change.ID, &change.CreatedAt, &change.UpdatedAt)
	return translate(err)
}

func (r *assignmentChangeRepository) GetByID(ctx context.Context, id string) (*domain.AssignmentChangeRequest, error) {
	query, args, err := psql.Select(changeColumns...).
		From("assignment_change_requests acr").
		Where(sq.Eq{"acr.id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var change domain.AssignmentChangeRequest
	if err := scanChange(conn(ctx, r.pool).QueryRow(ctx, query, args...), &change); err != nil {
		return nil, err
	}
	return &change, nil
}

func (r *assignmentChangeRepository) List(ctx context.Context, filter ChangeRequestFilter) ([]domain.AssignmentChangeRequest, error) {
	builder := psql.Select(changeColumns...).
		From("assignment_change_requests acr").
		OrderBy("acr.created_at DESC")
	if filter.RequestID != nil {
		builder = builder.Where(sq.Eq{"acr.request_id": *filter.RequestID})
	}
	if filter.Status != nil {
		builder = builder.Where(sq.Eq{"acr.status": *filter.Status})
	}
	if filter.Scoped {
		builder = builder.
			Join("service_requests sr ON sr.id = acr.request_id").
			Where(sq.Eq{"sr.company_id": filter.CompanyIDs})
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

	result := []domain.AssignmentChangeRequest{}
	for rows.Next() {
		var change domain.AssignmentChangeRequest
		if err := scanChange(rows, &change); err != nil {
			return nil, err
		}
		result = append(result, change)
	}
	return result, rows.Err()
}

func (r *assignmentChangeRepository) HasPending(ctx context.Context, requestID, requestedByID string) (bool, error) {
	const query = `
        SELECT EXISTS (SELECT 1 FROM assignment_change_requests
        WHERE request_id=$1 AND requested_by_id=$2 AND status='pending')`
	var exists bool
	err := conn(ctx, r.pool).QueryRow(ctx, query, requestID, requestedByID).Scan(&exists)
	return exists, err
}

func (r *assignmentChangeRepository) Review(ctx context.Context, id string, decision ReviewDecision) (*domain.AssignmentChangeRequest, error) {
	query := `
        UPDATE assignment_change_requests
        SET status=$1, reviewed_by_id=$2, review_comment=$3, reviewed_at=$4, updated_at=NOW()
        WHERE id=$5 AND status='pending'
        ` + changeReturning
	var change domain.AssignmentChangeRequest
	err := scanChange(conn(ctx, r.pool).QueryRow(ctx, query,
		decision.Status,
		decision.ReviewedByID,
		decision.Comment,
		decision.ReviewedAt,
		id,
	), &change)
	if IsNotFound(err) {
		return nil, ErrStaleState
	}
	if err != nil {
		return nil, err
	}
	return &change, nil
}

func scanChange(row pgx.Row, change *domain.AssignmentChangeRequest) error {
	return row.Scan(
		&change.ID,
		&change.RequestID,
		&change.RequestedByID,
		&change.CurrentAssigneeID,
		&change.RequestedAssigneeID,
		&change.Reason,
		&change.Status,
		&change.ReviewedByID,
		&change.ReviewComment,
		&change.ReviewedAt,
		&change.CreatedAt,
		&change.UpdatedAt,
	)
}

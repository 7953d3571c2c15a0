package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/service-portal/internal/domain"
)

// RequestFilter captures listing parameters. Statuses match the effective
// status, so a request with closed_at set only matches "closed".
type RequestFilter struct {
	Scoped       bool
	CompanyIDs   []string
	Statuses     []domain.TaskStatus
	Insured      string
	Category     *domain.Category
	AssignedToID *string
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
	Limit        int
	Offset       int
}

// Matches evaluates the filter in memory with the same semantics as the SQL form.
func (f RequestFilter) Matches(r *domain.ServiceRequest) bool {
	if f.Scoped && !containsString(f.CompanyIDs, r.CompanyID) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, status := range f.Statuses {
			if r.EffectiveStatus() == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if term := strings.TrimSpace(f.Insured); term != "" &&
		!strings.Contains(strings.ToLower(r.Insured), strings.ToLower(term)) {
		return false
	}
	if f.Category != nil && r.Category != *f.Category {
		return false
	}
	if f.AssignedToID != nil && (r.AssignedToID == nil || *r.AssignedToID != *f.AssignedToID) {
		return false
	}
	if f.CreatedFrom != nil && r.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && r.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	return true
}

func (f RequestFilter) predicates() sq.And {
	preds := sq.And{}
	if f.Scoped {
		preds = append(preds, sq.Eq{"company_id": f.CompanyIDs})
	}
	if len(f.Statuses) > 0 {
		or := sq.Or{}
		for _, status := range f.Statuses {
			if status == domain.TaskStatusClosed {
				or = append(or, sq.Or{sq.NotEq{"closed_at": nil}, sq.Eq{"task_status": status}})
				continue
			}
			or = append(or, sq.And{sq.Eq{"closed_at": nil}, sq.Eq{"task_status": status}})
		}
		preds = append(preds, or)
	}
	if term := strings.TrimSpace(f.Insured); term != "" {
		preds = append(preds, sq.ILike{"insured": "%" + term + "%"})
	}
	if f.Category != nil {
		preds = append(preds, sq.Eq{"category": *f.Category})
	}
	if f.AssignedToID != nil {
		preds = append(preds, sq.Eq{"assigned_to_id": *f.AssignedToID})
	}
	if f.CreatedFrom != nil {
		preds = append(preds, sq.GtOrEq{"created_at": *f.CreatedFrom})
	}
	if f.CreatedTo != nil {
		preds = append(preds, sq.LtOrEq{"created_at": *f.CreatedTo})
	}
	return preds
}

// RequestPatch names the columns one write touches. Anything left unset keeps
// its stored value, so concurrent edits to other fields survive.
type RequestPatch struct {
	Insured      *string
	Narrative    *string
	Category     *domain.Category
	TaskStatus   *domain.TaskStatus
	AssignedByID *string
	AssignedToID domain.Optional[string]
	TimeSpent    domain.Optional[int]
	DueDate      domain.Optional[time.Time]
	DueTime      domain.Optional[string]
	ClosedAt     domain.Optional[time.Time]
	// StampInProgressAt and StampClosedAt only fill a column that is still NULL.
	StampInProgressAt *time.Time
	StampClosedAt     *time.Time
	ModifiedByID      string
	// RequireNotClosed skips rows already closed in both representations
	// and reports ErrStaleState for them.
	RequireNotClosed bool
}

// Fields lists the wire names of the columns the patch writes.
func (p RequestPatch) Fields() []string {
	fields := []string{}
	add := func(set bool, name string) {
		if set {
			fields = append(fields, name)
		}
	}
	add(p.Insured != nil, "insured")
	add(p.Narrative != nil, "serviceRequestNarrative")
	add(p.Category != nil, "serviceQueueCategory")
	add(p.AssignedByID != nil, "assignedById")
	add(p.AssignedToID.Set, "assignedToId")
	add(p.TaskStatus != nil, "taskStatus")
	add(p.TimeSpent.Set, "timeSpent")
	add(p.DueDate.Set, "dueDate")
	add(p.DueTime.Set, "dueTime")
	add(p.ClosedAt.Set || p.StampClosedAt != nil, "closedAt")
	return fields
}

// ServiceRequestRepository encapsulates service request persistence.
type ServiceRequestRepository interface {
	Create(ctx context.Context, request *domain.ServiceRequest) error
	// Patch writes only the columns named by patch and returns the stored row.
	Patch(ctx context.Context, id string, patch RequestPatch) (*domain.ServiceRequest, error)
	GetByID(ctx context.Context, id string) (*domain.ServiceRequest, error)
	// GetForUpdate reads the row and, inside a transaction, locks it until commit.
	GetForUpdate(ctx context.Context, id string) (*domain.ServiceRequest, error)
	List(ctx context.Context, filter RequestFilter) ([]domain.ServiceRequest, int, error)
}

type serviceRequestRepository struct {
	pool *pgxpool.Pool
}

// NewServiceRequestRepository instantiates repository.
func NewServiceRequestRepository(pool *pgxpool.Pool) ServiceRequestRepository {
	return &serviceRequestRepository{pool: pool}
}

var requestColumns = []string{
	"id", "service_queue_id", "company_id", "insured", "narrative", "category", "task_status",
	"due_date", "due_time", "in_progress_at", "closed_at", "time_spent",
	"assigned_by_id", "assigned_to_id", "modified_by_id", "created_at", "updated_at",
}

func (r *serviceRequestRepository) Create(ctx context.Context, request *domain.ServiceRequest) error {
	const query = `
        INSERT INTO service_requests (service_queue_id, company_id, insured, narrative, category, task_status,
            due_date, due_time, time_spent, assigned_by_id, assigned_to_id, modified_by_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        ON CONFLICT (service_queue_id) DO NOTHING
        RETURNING id, created_at, updated_at`
	err := conn(ctx, r.pool).QueryRow(ctx, query,
		request.ServiceQueueID,
		request.CompanyID,
		request.Insured,
		request.Narrative,
		request.Category,
		request.TaskStatus,
		request.DueDate,
		request.DueTime,
		request.TimeSpent,
		request.AssignedByID,
		request.AssignedToID,
		request.ModifiedByID,
	).Scan(&request.ID, &request.CreatedAt, &request.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// A queue id collision; DO NOTHING keeps an enclosing transaction usable.
		return ErrDuplicate
	}
	return translate(err)
}

func (r *serviceRequestRepository) Patch(ctx context.Context, id string, patch RequestPatch) (*domain.ServiceRequest, error) {
	query, args, err := patchQuery(id, patch)
	if err != nil {
		return nil, err
	}
	var request domain.ServiceRequest
	err = scanRequest(conn(ctx, r.pool).QueryRow(ctx, query, args...), &request)
	if errors.Is(err, pgx.ErrNoRows) && patch.RequireNotClosed {
		return nil, ErrStaleState
	}
	if err != nil {
		return nil, translate(err)
	}
	return &request, nil
}

// patchQuery builds an UPDATE touching only the columns set in patch.
func patchQuery(id string, patch RequestPatch) (string, []any, error) {
	q := psql.Update("service_requests").
		Set("modified_by_id", patch.ModifiedByID).
		Set("updated_at", sq.Expr("NOW()"))
	if patch.Insured != nil {
		q = q.Set("insured", *patch.Insured)
	}
	if patch.Narrative != nil {
		q = q.Set("narrative", *patch.Narrative)
	}
	if patch.Category != nil {
		q = q.Set("category", *patch.Category)
	}
	if patch.TaskStatus != nil {
		q = q.Set("task_status", *patch.TaskStatus)
	}
	if patch.AssignedByID != nil {
		q = q.Set("assigned_by_id", *patch.AssignedByID)
	}
	if patch.AssignedToID.Set {
		q = q.Set("assigned_to_id", patch.AssignedToID.Value)
	}
	if patch.TimeSpent.Set {
		q = q.Set("time_spent", patch.TimeSpent.Value)
	}
	if patch.DueDate.Set {
		q = q.Set("due_date", patch.DueDate.Value)
	}
	if patch.DueTime.Set {
		q = q.Set("due_time", patch.DueTime.Value)
	}
	if patch.ClosedAt.Set {
		q = q.Set("closed_at", patch.ClosedAt.Value)
	} else if patch.StampClosedAt != nil {
		q = q.Set("closed_at", sq.Expr("COALESCE(closed_at, ?)", *patch.StampClosedAt))
	}
	if patch.StampInProgressAt != nil {
		q = q.Set("in_progress_at", sq.Expr("COALESCE(in_progress_at, ?)", *patch.StampInProgressAt))
	}
	q = q.Where(sq.Eq{"id": id})
	if patch.RequireNotClosed {
		q = q.Where("NOT (task_status = ? AND closed_at IS NOT NULL)", domain.TaskStatusClosed)
	}

	return q.Suffix("RETURNING " + strings.Join(requestColumns, ", ")).ToSql()
}

func (r *serviceRequestRepository) GetByID(ctx context.Context, id string) (*domain.ServiceRequest, error) {
	query, args, err := psql.Select(requestColumns...).From("service_requests").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	var request domain.ServiceRequest
	if err := scanRequest(conn(ctx, r.pool).QueryRow(ctx, query, args...), &request); err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *serviceRequestRepository) GetForUpdate(ctx context.Context, id string) (*domain.ServiceRequest, error) {
	query, args, err := psql.Select(requestColumns...).
		From("service_requests").
		Where(sq.Eq{"id": id}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, err
	}
	var request domain.ServiceRequest
	if err := scanRequest(conn(ctx, r.pool).QueryRow(ctx, query, args...), &request); err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *serviceRequestRepository) List(ctx context.Context, filter RequestFilter) ([]domain.ServiceRequest, int, error) {
	preds := filter.predicates()
	q := conn(ctx, r.pool)

	countQuery, countArgs, err := psql.Select("COUNT(*)").From("service_requests").Where(preds).ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := q.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := pageBounds(filter.Limit, filter.Offset)
	query, args, err := psql.Select(requestColumns...).
		From("service_requests").
		Where(preds).
		OrderBy("created_at DESC").
		Limit(limit).
		Offset(offset).
		ToSql()
	if err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	result := []domain.ServiceRequest{}
	for rows.Next() {
		var request domain.ServiceRequest
		if err := scanRequest(rows, &request); err != nil {
			return nil, 0, err
		}
		result = append(result, request)
	}
	return result, total, rows.Err()
}

func scanRequest(row pgx.Row, request *domain.ServiceRequest) error {
	return row.Scan(
		&request.ID,
		&request.ServiceQueueID,
		&request.CompanyID,
		&request.Insured,
		&request.Narrative,
		&request.Category,
		&request.TaskStatus,
		&request.DueDate,
		&request.DueTime,
		&request.InProgressAt,
		&request.ClosedAt,
		&request.TimeSpent,
		&request.AssignedByID,
		&request.AssignedToID,
		&request.ModifiedByID,
		&request.CreatedAt,
		&request.UpdatedAt,
	)
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

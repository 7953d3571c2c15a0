package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/service-portal/internal/domain"
)

// SubTaskRepository persists sub-tasks.
type SubTaskRepository interface {
	Create(ctx context.Context, task *domain.SubTask) error
	UpdateStatus(ctx context.Context, task *domain.SubTask) error
	GetByID(ctx context.Context, id string) (*domain.SubTask, error)
	ListByRequest(ctx context.Context, requestID string) ([]domain.SubTask, error)
}

type subTaskRepository struct {
	pool *pgxpool.Pool
}

// NewSubTaskRepository builds repository.
func NewSubTaskRepository(pool *pgxpool.Pool) SubTaskRepository {
	return &subTaskRepository{pool: pool}
}

const subTaskSelect = `
        SELECT id, task_id, request_id, description, assigned_to_id, assigned_by_id, due_date,
               task_status, created_at, updated_at
        FROM sub_tasks`

func (r *subTaskRepository) Create(ctx context.Context, task *domain.SubTask) error {
	const query = `
        INSERT INTO sub_tasks (task_id, request_id, description, assigned_to_id, assigned_by_id, due_date, task_status)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at, updated_at`
	err := conn(ctx, r.pool).QueryRow(ctx, query,
		task.TaskID,
		task.RequestID,
		task.Description,
		task.AssignedToID,
		task.AssignedByID,
		task.DueDate,
		task.TaskStatus,
	).Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
	return translate(err)
}

func (r *subTaskRepository) UpdateStatus(ctx context.Context, task *domain.SubTask) error {
	const query = `UPDATE sub_tasks SET task_status=$1, updated_at=NOW() WHERE id=$2 RETURNING updated_at`
	return conn(ctx, r.pool).QueryRow(ctx, query, task.TaskStatus, task.ID).Scan(&task.UpdatedAt)
}

func (r *subTaskRepository) GetByID(ctx context.Context, id string) (*domain.SubTask, error) {
	var task domain.SubTask
	if err := scanSubTask(conn(ctx, r.pool).QueryRow(ctx, subTaskSelect+` WHERE id=$1`, id), &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *subTaskRepository) ListByRequest(ctx context.Context, requestID string) ([]domain.SubTask, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, subTaskSelect+` WHERE request_id=$1 ORDER BY created_at ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.SubTask{}
	for rows.Next() {
		var task domain.SubTask
		if err := scanSubTask(rows, &task); err != nil {
			return nil, err
		}
		result = append(result, task)
	}
	return result, rows.Err()
}

func scanSubTask(row pgx.Row, task *domain.SubTask) error {
	return row.Scan(
		&task.ID,
		&task.TaskID,
		&task.RequestID,
		&task.Description,
		&task.AssignedToID,
		&task.AssignedByID,
		&task.DueDate,
		&task.TaskStatus,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
}

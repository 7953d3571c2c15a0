package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/service-portal/internal/domain"
)

// UserFilter narrows user listings.
type UserFilter struct {
	CompanyID *string
	Roles     []domain.Role
	// ServesCompanyID restricts to agents assigned to the company.
	ServesCompanyID *string
	ActiveOnly      bool
}

// UserRepository defines persistence access for portal users and agent
// company assignments.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	Update(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByLoginCode(ctx context.Context, code string) (*domain.User, error)
	List(ctx context.Context, filter UserFilter) ([]domain.User, error)
	AgentCompanyIDs(ctx context.Context, agentID string) ([]string, error)
	SetAgentCompanies(ctx context.Context, agentID string, companyIDs []string) error
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

var userColumns = []string{
	"u.id", "u.name", "u.email", "u.login_code", "u.password_hash", "u.role",
	"u.company_id", "u.active_flag", "u.timezone", "u.created_at", "u.updated_at",
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
        INSERT INTO users (name, email, login_code, password_hash, role, company_id, active_flag, timezone)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id, created_at, updated_at`

	err := conn(ctx, r.pool).QueryRow(ctx, query,
		user.Name,
		user.Email,
		user.LoginCode,
		user.PasswordHash,
		user.Role,
		user.CompanyID,
		user.Active,
		user.Timezone,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	return translate(err)
}

func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	const query = `
        UPDATE users SET name=$1, email=$2, login_code=$3, password_hash=$4, role=$5,
            company_id=$6, active_flag=$7, timezone=$8, updated_at=NOW()
        WHERE id=$9
        RETURNING updated_at`

	err := conn(ctx, r.pool).QueryRow(ctx, query,
		user.Name,
		user.Email,
		user.LoginCode,
		user.PasswordHash,
		user.Role,
		user.CompanyID,
		user.Active,
		user.Timezone,
		user.ID,
	).Scan(&user.UpdatedAt)
	return translate(err)
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, sq.Eq{"u.id": id})
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, sq.Expr("LOWER(u.email) = LOWER(?)", email))
}

func (r *userRepository) GetByLoginCode(ctx context.Context, code string) (*domain.User, error) {
	return r.getOne(ctx, sq.Eq{"u.login_code": code})
}

func (r *userRepository) getOne(ctx context.Context, pred sq.Sqlizer) (*domain.User, error) {
	query, args, err := psql.Select(userColumns...).From("users u").Where(pred).ToSql()
	if err != nil {
		return nil, err
	}
	var user domain.User
	if err := scanUser(conn(ctx, r.pool).QueryRow(ctx, query, args...), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) List(ctx context.Context, filter UserFilter) ([]domain.User, error) {
	builder := psql.Select(userColumns...).From("users u").OrderBy("u.name ASC")
	if filter.CompanyID != nil {
		builder = builder.Where(sq.Eq{"u.company_id": *filter.CompanyID})
	}
	if len(filter.Roles) > 0 {
		roles := make([]string, len(filter.Roles))
		for i, role := range filter.Roles {
			roles[i] = string(role)
		}
		builder = builder.Where(sq.Eq{"u.role": roles})
	}
	if filter.ServesCompanyID != nil {
		builder = builder.
			Join("agent_companies ac ON ac.agent_id = u.id").
			Where(sq.Eq{"ac.company_id": *filter.ServesCompanyID})
	}
	if filter.ActiveOnly {
		builder = builder.Where(sq.Eq{"u.active_flag": true})
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

	result := []domain.User{}
	for rows.Next() {
		var user domain.User
		if err := scanUser(rows, &user); err != nil {
			return nil, err
		}
		result = append(result, user)
	}
	return result, rows.Err()
}

func (r *userRepository) AgentCompanyIDs(ctx context.Context, agentID string) ([]string, error) {
	const query = `SELECT company_id FROM agent_companies WHERE agent_id=$1 ORDER BY created_at ASC`
	rows, err := conn(ctx, r.pool).Query(ctx, query, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetAgentCompanies replaces the agent's assignments. Callers wrap it in a
// transaction when the swap must be atomic.
func (r *userRepository) SetAgentCompanies(ctx context.Context, agentID string, companyIDs []string) error {
	q := conn(ctx, r.pool)
	if _, err := q.Exec(ctx, `DELETE FROM agent_companies WHERE agent_id=$1`, agentID); err != nil {
		return err
	}
	if len(companyIDs) == 0 {
		return nil
	}
	builder := psql.Insert("agent_companies").Columns("agent_id", "company_id").Suffix("ON CONFLICT DO NOTHING")
	for _, id := range companyIDs {
		builder = builder.Values(agentID, id)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, query, args...)
	return err
}

func scanUser(row pgx.Row, user *domain.User) error {
	return row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.LoginCode,
		&user.PasswordHash,
		&user.Role,
		&user.CompanyID,
		&user.Active,
		&user.Timezone,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
}

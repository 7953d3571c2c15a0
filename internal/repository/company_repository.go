package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/service-portal/internal/domain"
)

// CompanyFilter narrows company listings. When Scoped is set only IDs are returned.
type CompanyFilter struct {
	Scoped bool
	IDs    []string
}

// CompanyRepository persists tenants.
type CompanyRepository interface {
	Create(ctx context.Context, company *domain.Company) error
	Update(ctx context.Context, company *domain.Company) error
	GetByID(ctx context.Context, id string) (*domain.Company, error)
	List(ctx context.Context, filter CompanyFilter) ([]domain.Company, error)
}

type companyRepository struct {
	pool *pgxpool.Pool
}

// NewCompanyRepository returns a Postgres-backed implementation.
func NewCompanyRepository(pool *pgxpool.Pool) CompanyRepository {
	return &companyRepository{pool: pool}
}

var companyColumns = []string{"id", "name", "code", "primary_contact", "email", "phone", "created_at", "updated_at"}

func (r *companyRepository) Create(ctx context.Context, company *domain.Company) error {
	const query = `
        INSERT INTO companies (name, code, primary_contact, email, phone)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at, updated_at`
	err := conn(ctx, r.pool).QueryRow(ctx, query,
		company.Name,
		company.Code,
		company.PrimaryContact,
		company.Email,
		company.Phone,
	).Scan(&company.ID, &company.CreatedAt, &company.UpdatedAt)
	return translate(err)
}

// Update rewrites contact fields only; the company code never changes.
func (r *companyRepository) Update(ctx context.Context, company *domain.Company) error {
	const query = `
        UPDATE companies SET name=$1, primary_contact=$2, email=$3, phone=$4, updated_at=NOW()
        WHERE id=$5
        RETURNING updated_at`
	return conn(ctx, r.pool).QueryRow(ctx, query,
		company.Name,
		company.PrimaryContact,
		company.Email,
		company.Phone,
		company.ID,
	).Scan(&company.UpdatedAt)
}

func (r *companyRepository) GetByID(ctx context.Context, id string) (*domain.Company, error) {
	query, args, err := psql.Select(companyColumns...).From("companies").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	var company domain.Company
	if err := scanCompany(conn(ctx, r.pool).QueryRow(ctx, query, args...), &company); err != nil {
		return nil, err
	}
	return &company, nil
}

func (r *companyRepository) List(ctx context.Context, filter CompanyFilter) ([]domain.Company, error) {
	builder := psql.Select(companyColumns...).From("companies").OrderBy("name ASC")
	if filter.Scoped {
		builder = builder.Where(sq.Eq{"id": filter.IDs})
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

	result := []domain.Company{}
	for rows.Next() {
		var company domain.Company
		if err := scanCompany(rows, &company); err != nil {
			return nil, err
		}
		result = append(result, company)
	}
	return result, rows.Err()
}

func scanCompany(row pgx.Row, company *domain.Company) error {
	return row.Scan(
		&company.ID,
		&company.Name,
		&company.Code,
		&company.PrimaryContact,
		&company.Email,
		&company.Phone,
		&company.CreatedAt,
		&company.UpdatedAt,
	)
}

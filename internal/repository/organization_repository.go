package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/taxbinder/taxbinder/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type organizationRepository struct {
	pool *pgxpool.Pool
}

// NewOrganizationRepository wires a repository backed by pgxpool.
func NewOrganizationRepository(pool *pgxpool.Pool) OrganizationRepository {
	return &organizationRepository{pool: pool}
}

func (r *organizationRepository) Create(ctx context.Context, org domain.Organization) (domain.Organization, error) {
	if r.pool == nil {
		return domain.Organization{}, fmt.Errorf("organization repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO organizations (id, name, slug, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, name, slug, created_at, updated_at`,
		org.ID,
		org.Name,
		org.Slug,
		org.CreatedAt,
		org.UpdatedAt,
	)

	var created domain.Organization
	if err := row.Scan(&created.ID, &created.Name, &created.Slug, &created.CreatedAt, &created.UpdatedAt); err != nil {
		return domain.Organization{}, fmt.Errorf("failed to create organization: %w", err)
	}
	return created, nil
}

func (r *organizationRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Organization, error) {
	if r.pool == nil {
		return domain.Organization{}, fmt.Errorf("organization repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`SELECT id, name, slug, created_at, updated_at
		 FROM organizations
		 WHERE id = $1`,
		id,
	)

	var org domain.Organization
	if err := row.Scan(&org.ID, &org.Name, &org.Slug, &org.CreatedAt, &org.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Organization{}, ErrNotFound
		}
		return domain.Organization{}, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

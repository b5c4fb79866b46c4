package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/taxbinder/taxbinder/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const clientColumns = `id, organization_id, name, email, tax_year, status, created_at, updated_at`

type clientRepository struct {
	pool *pgxpool.Pool
}

// NewClientRepository wires a repository backed by pgxpool.
func NewClientRepository(pool *pgxpool.Pool) ClientRepository {
	return &clientRepository{pool: pool}
}

func (r *clientRepository) Create(ctx context.Context, client domain.Client) (domain.Client, error) {
	if r.pool == nil {
		return domain.Client{}, fmt.Errorf("client repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO clients (id, organization_id, name, email, tax_year, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+clientColumns,
		client.ID,
		client.OrganizationID,
		client.Name,
		client.Email,
		client.TaxYear,
		client.Status,
		client.CreatedAt,
		client.UpdatedAt,
	)

	created, err := scanClient(row)
	if err != nil {
		return domain.Client{}, fmt.Errorf("failed to create client: %w", err)
	}
	return created, nil
}

func (r *clientRepository) GetByID(ctx context.Context, organizationID, id uuid.UUID) (domain.Client, error) {
	if r.pool == nil {
		return domain.Client{}, fmt.Errorf("client repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`SELECT `+clientColumns+`
		 FROM clients
		 WHERE organization_id = $1 AND id = $2`,
		organizationID,
		id,
	)

	client, err := scanClient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Client{}, ErrNotFound
		}
		return domain.Client{}, fmt.Errorf("failed to get client: %w", err)
	}
	return client, nil
}

func (r *clientRepository) List(ctx context.Context, organizationID uuid.UUID) ([]domain.Client, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("client repository not initialized")
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+clientColumns+`
		 FROM clients
		 WHERE organization_id = $1
		 ORDER BY name`,
		organizationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []domain.Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, client)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate clients: %w", err)
	}
	return clients, nil
}

func scanClient(row pgx.Row) (domain.Client, error) {
	var (
		client domain.Client
		email  pgtype.Text
	)
	if err := row.Scan(
		&client.ID,
		&client.OrganizationID,
		&client.Name,
		&email,
		&client.TaxYear,
		&client.Status,
		&client.CreatedAt,
		&client.UpdatedAt,
	); err != nil {
		return domain.Client{}, err
	}
	if email.Valid {
		client.Email = &email.String
	}
	return client, nil
}

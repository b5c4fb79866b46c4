package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taxbinder/taxbinder/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type auditLogRepository struct {
	pool *pgxpool.Pool
}

// NewAuditLogRepository wires the append-only audit trail store.
func NewAuditLogRepository(pool *pgxpool.Pool) AuditLogRepository {
	return &auditLogRepository{pool: pool}
}

func (r *auditLogRepository) Record(ctx context.Context, entry domain.AuditLogEntry) error {
	if r.pool == nil {
		return fmt.Errorf("audit log repository not initialized")
	}

	var details []byte
	if entry.Details != nil {
		encoded, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to encode audit details: %w", err)
		}
		details = encoded
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO audit_logs (id, organization_id, user_id, action, resource_type, resource_id, details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID,
		entry.OrganizationID,
		entry.UserID,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		details,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

func (r *auditLogRepository) List(ctx context.Context, organizationID uuid.UUID, resourceType string, resourceID uuid.UUID, limit, offset int) ([]domain.AuditLogEntry, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("audit log repository not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, organization_id, user_id, action, resource_type, resource_id, details, created_at
		 FROM audit_logs
		 WHERE organization_id = $1 AND resource_type = $2 AND resource_id = $3
		 ORDER BY created_at DESC
		 LIMIT $4 OFFSET $5`,
		organizationID,
		resourceType,
		resourceID,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditLogEntry
	for rows.Next() {
		var (
			entry   domain.AuditLogEntry
			userID  pgtype.UUID
			details []byte
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.OrganizationID,
			&userID,
			&entry.Action,
			&entry.ResourceType,
			&entry.ResourceID,
			&details,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if userID.Valid {
			id := uuid.UUID(userID.Bytes)
			entry.UserID = &id
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, fmt.Errorf("failed to decode audit details: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}
